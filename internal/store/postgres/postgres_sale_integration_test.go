package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bizzflow/backend/internal/domain"
)

func TestCreateAndDeleteSaleRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("BIZZFLOW_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BIZZFLOW_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := uuid.NewString()
	clientID := uuid.NewString()
	saleID := uuid.NewString()
	saleNumber := fmt.Sprintf("V%s%03d", time.Now().UTC().Format("060102"), stamp%1000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category, unit_price, stock, min_stock, active, created_at, updated_at)
		VALUES ($1, $2, 'Integration Widget', 'misc', 12.50, 10, 2, true, now(), now())
	`, productID, fmt.Sprintf("PRD-IT-%d", stamp)); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, category, total_spent, created_at, updated_at)
		VALUES ($1, 'Integration Client', 'regular', 0, now(), now())
	`, clientID); err != nil {
		t.Fatalf("insert client: %v", err)
	}

	price := decimal.NewFromFloat(12.50)
	total := price.Mul(decimal.NewFromInt(2))
	created, err := s.CreateSale(ctx, domain.Sale{
		ID:            saleID,
		SaleNumber:    saleNumber,
		ClientID:      clientID,
		SellerID:      uuid.NewString(),
		Subtotal:      total,
		Discount:      decimal.Zero,
		Tax:           decimal.Zero,
		FinalAmount:   total,
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleStatusCompleted,
		CreatedAt:     time.Now().UTC(),
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 2, UnitPrice: price, TotalPrice: total},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if created.SaleNumber != saleNumber {
		t.Fatalf("unexpected sale number %s", created.SaleNumber)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", stock)
	}

	var spent decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT total_spent FROM clients WHERE id = $1`, clientID).Scan(&spent); err != nil {
		t.Fatalf("query client: %v", err)
	}
	if !spent.Equal(total) {
		t.Fatalf("expected client total spent %s, got %s", total, spent)
	}

	if _, err := s.DeleteSale(ctx, saleID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock after delete: %v", err)
	}
	if stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", stock)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT total_spent FROM clients WHERE id = $1`, clientID).Scan(&spent); err != nil {
		t.Fatalf("query client after delete: %v", err)
	}
	if !spent.IsZero() {
		t.Fatalf("expected client total spent back to zero, got %s", spent)
	}
}
