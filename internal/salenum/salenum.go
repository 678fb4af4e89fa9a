package salenum

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// New returns a sale number in the form V + YYMMDD + a 3-digit random
// suffix, e.g. V250901042. The suffix can collide within a day; callers rely
// on the store's unique constraint and regenerate once on a duplicate.
func New(at time.Time) string {
	return fmt.Sprintf("V%s%03d", at.UTC().Format("060102"), suffix())
}

func suffix() int {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return int(time.Now().UnixNano() % 1000)
	}
	return int(binary.BigEndian.Uint32(buf) % 1000)
}
