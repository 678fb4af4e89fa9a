package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bizzflow/backend/internal/domain"
	"bizzflow/backend/internal/store"
)

// Store is an in-memory Repository used by tests and by dev mode when no
// DATABASE_URL is configured. A single mutex stands in for the database's
// transaction isolation: every write operation holds it end to end, so the
// all-or-nothing behavior of CreateSale/DeleteSale matches postgres.
type Store struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	clients     map[string]domain.Client
	sales       map[string]domain.Sale
	saleNumbers map[string]string
	auditLogs   []domain.AuditLog
	users       map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		clients:     make(map[string]domain.Client),
		sales:       make(map[string]domain.Sale),
		saleNumbers: make(map[string]string),
		auditLogs:   make([]domain.AuditLog, 0, 128),
		users:       make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use
// PostgreSQL and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		fullName string
		role     string
	}{
		{"admin", adminPwd, "Administrator", domain.RoleAdmin},
		{"seller", sellerPwd, "Demo Seller", domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        uuid.NewString(),
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{Code: "PRD-001", Name: "Thermal Paper Roll", Category: "supplies", UnitPrice: decimal.NewFromFloat(3.50), Stock: 120, MinStock: 15},
		{Code: "PRD-002", Name: "Barcode Labels 1000pk", Category: "supplies", UnitPrice: decimal.NewFromFloat(12.90), Stock: 80, MinStock: 10},
		{Code: "PRD-003", Name: "USB Cash Drawer", Category: "hardware", UnitPrice: decimal.NewFromFloat(89.00), Stock: 14, MinStock: 3},
		{Code: "PRD-004", Name: "Receipt Printer", Category: "hardware", UnitPrice: decimal.NewFromFloat(159.99), Stock: 9, MinStock: 2},
		{Code: "PRD-005", Name: "Handheld Scanner", Category: "hardware", UnitPrice: decimal.NewFromFloat(64.50), Stock: 22, MinStock: 5},
		{Code: "PRD-006", Name: "Card Reader Stand", Category: "accessories", UnitPrice: decimal.NewFromFloat(24.00), Stock: 35, MinStock: 8},
	}
	clients := []domain.Client{
		{Name: "Acme Retail Group", Email: "purchasing@acme.example", Category: "wholesale"},
		{Name: "Corner Market SRL", Email: "info@cornermarket.example", Category: "regular"},
		{Name: "Delta Kiosks", Phone: "+1-555-0142", Category: "regular"},
	}

	s := New()
	for _, p := range products {
		p.ID = uuid.NewString()
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	for _, c := range clients {
		c.ID = uuid.NewString()
		c.TotalSpent = decimal.Zero
		c.CreatedAt = now
		c.UpdatedAt = now
		s.clients[c.ID] = c
	}
	s.users = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Code == product.Code {
			return nil, store.ErrConstraintViolation
		}
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	product.Code = existing.Code
	product.Stock = existing.Stock
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p

	adjusted := p
	return &adjusted, nil
}

func (s *Store) CountProducts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, p := range s.products {
		if p.Active {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListLowStockProducts(_ context.Context, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Product, 0, limit)
	for _, p := range s.products {
		if p.Active && p.Stock <= p.MinStock {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if a.Stock == b.Stock {
			return strings.Compare(a.Name, b.Name)
		}
		return a.Stock - b.Stock
	})
	if len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

func (s *Store) ListClients(_ context.Context, limit, offset int) ([]domain.Client, error) {
	if limit < 1 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		return strings.Compare(a.Name, b.Name)
	})
	if offset >= len(clients) {
		return []domain.Client{}, nil
	}
	clients = clients[offset:]
	if len(clients) > limit {
		clients = clients[:limit]
	}
	return clients, nil
}

func (s *Store) GetClientByID(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.Category == "" {
		client.Category = "regular"
	}
	now := time.Now().UTC()
	client.TotalSpent = decimal.Zero
	client.LastPurchase = nil
	client.CreatedAt = now
	client.UpdatedAt = now
	s.clients[client.ID] = client

	created := client
	return &created, nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	if client.ID == "" || strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[client.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	client.TotalSpent = existing.TotalSpent
	client.LastPurchase = existing.LastPurchase
	client.CreatedAt = existing.CreatedAt
	client.UpdatedAt = time.Now().UTC()
	s.clients[client.ID] = client

	updated := client
	return &updated, nil
}

func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.ClientID == id {
			return store.ErrConstraintViolation
		}
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) CountClients(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.clients)), nil
}

func (s *Store) ListTopClients(_ context.Context, limit int) ([]domain.Client, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.TotalSpent.IsPositive() {
			clients = append(clients, c)
		}
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		cmp := b.TotalSpent.Cmp(a.TotalSpent)
		if cmp == 0 {
			return strings.Compare(a.Name, b.Name)
		}
		return cmp
	})
	if len(clients) > limit {
		clients = clients[:limit]
	}
	return clients, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.SaleNumber == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleNumbers[sale.SaleNumber]; exists {
		return nil, fmt.Errorf("%w: sale number %s", store.ErrConstraintViolation, sale.SaleNumber)
	}

	// Validate everything before mutating anything so a failure leaves the
	// store untouched, matching the postgres rollback behavior.
	needed := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		needed[item.ProductID] += item.Quantity
	}
	for id, qty := range needed {
		p, exists := s.products[id]
		if !exists || !p.Active {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		if p.Stock < qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, p.Code)
		}
	}
	if sale.ClientID != "" {
		if _, exists := s.clients[sale.ClientID]; !exists {
			return nil, fmt.Errorf("%w: client %s", store.ErrNotFound, sale.ClientID)
		}
	}

	for id, qty := range needed {
		p := s.products[id]
		p.Stock -= qty
		p.UpdatedAt = time.Now().UTC()
		s.products[id] = p
	}
	if sale.ClientID != "" {
		c := s.clients[sale.ClientID]
		c.TotalSpent = c.TotalSpent.Add(sale.FinalAmount)
		purchasedAt := sale.CreatedAt
		c.LastPurchase = &purchasedAt
		c.UpdatedAt = time.Now().UTC()
		s.clients[sale.ClientID] = c
	}

	sale.Items = slices.Clone(sale.Items)
	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
	}
	s.sales[sale.ID] = sale
	s.saleNumbers[sale.SaleNumber] = sale.ID

	created := sale
	created.Items = slices.Clone(sale.Items)
	return &created, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}

	for _, item := range sale.Items {
		if p, exists := s.products[item.ProductID]; exists {
			p.Stock += item.Quantity
			p.UpdatedAt = time.Now().UTC()
			s.products[item.ProductID] = p
		}
	}
	if sale.ClientID != "" {
		if c, exists := s.clients[sale.ClientID]; exists {
			c.TotalSpent = c.TotalSpent.Sub(sale.FinalAmount)
			c.UpdatedAt = time.Now().UTC()
			s.clients[sale.ClientID] = c
		}
	}

	delete(s.sales, id)
	delete(s.saleNumbers, sale.SaleNumber)

	deleted := sale
	return &deleted, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	found := sale
	found.Items = slices.Clone(sale.Items)
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to, hasWindow := dateWindow(filter, time.Now().UTC())

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if hasWindow && (sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to)) {
			continue
		}
		if filter.ClientID != "" && sale.ClientID != filter.ClientID {
			continue
		}
		if filter.SellerID != "" && sale.SellerID != filter.SellerID {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if offset >= len(sales) {
		return []domain.Sale{}, nil
	}
	sales = sales[offset:]
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSaleStats(_ context.Context, from, to time.Time) (domain.SaleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.SaleStats{Revenue: decimal.Zero, Average: decimal.Zero}
	byMethod := make(map[string]*domain.PaymentMethodStat, 4)
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		stats.Count++
		stats.Revenue = stats.Revenue.Add(sale.FinalAmount)
		row := byMethod[sale.PaymentMethod]
		if row == nil {
			row = &domain.PaymentMethodStat{Method: sale.PaymentMethod, Total: decimal.Zero}
			byMethod[sale.PaymentMethod] = row
		}
		row.Count++
		row.Total = row.Total.Add(sale.FinalAmount)
	}
	if stats.Count > 0 {
		stats.Average = stats.Revenue.Div(decimal.NewFromInt(stats.Count)).Round(2)
	}

	stats.ByPayment = make([]domain.PaymentMethodStat, 0, len(byMethod))
	for _, row := range byMethod {
		stats.ByPayment = append(stats.ByPayment, *row)
	}
	slices.SortFunc(stats.ByPayment, func(a, b domain.PaymentMethodStat) int {
		return strings.Compare(a.Method, b.Method)
	})
	return stats, nil
}

// dateWindow mirrors the postgres store's predicate precedence:
// explicit range > today > this-week > this-month.
func dateWindow(filter domain.SaleFilter, now time.Time) (time.Time, time.Time, bool) {
	if filter.From != nil || filter.To != nil {
		from := time.Time{}
		to := now.AddDate(100, 0, 0)
		if filter.From != nil {
			from = filter.From.UTC()
		}
		if filter.To != nil {
			to = filter.To.UTC()
		}
		return from, to, true
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch filter.Period {
	case domain.PeriodToday:
		return midnight, midnight.AddDate(0, 0, 1), true
	case domain.PeriodThisWeek:
		weekday := int(midnight.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := midnight.AddDate(0, 0, -(weekday - 1))
		return start, start.AddDate(0, 0, 7), true
	case domain.PeriodThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrConstraintViolation
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
