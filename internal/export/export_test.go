package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bizzflow/backend/internal/domain"
)

func sampleSales() []domain.Sale {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return []domain.Sale{
		{
			ID:            "sale-1",
			SaleNumber:    "V260314123",
			SellerID:      "seller-1",
			Subtotal:      decimal.NewFromFloat(42.00),
			FinalAmount:   decimal.NewFromFloat(42.00),
			PaymentMethod: domain.PaymentCash,
			Status:        domain.SaleStatusCompleted,
			CreatedAt:     now,
			Items: []domain.SaleItem{
				{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromFloat(21.00), TotalPrice: decimal.NewFromFloat(42.00)},
			},
		},
		{
			ID:            "sale-2",
			SaleNumber:    "V260314456",
			SellerID:      "seller-1",
			Subtotal:      decimal.NewFromFloat(10.50),
			FinalAmount:   decimal.NewFromFloat(10.50),
			PaymentMethod: domain.PaymentCard,
			Status:        domain.SaleStatusCompleted,
			CreatedAt:     now.Add(time.Hour),
		},
	}
}

func TestWriteSalesXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSalesXLSX(&buf, sampleSales()); err != nil {
		t.Fatalf("write sales xlsx failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty workbook")
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip magic at start of workbook")
	}
}

func TestWriteClientsXLSX(t *testing.T) {
	last := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clients := []domain.Client{
		{Name: "Acme", Email: "a@example.com", Category: "wholesale", TotalSpent: decimal.NewFromInt(500), LastPurchase: &last},
		{Name: "Corner Market", Category: "regular", TotalSpent: decimal.Zero},
	}

	var buf bytes.Buffer
	if err := WriteClientsXLSX(&buf, clients); err != nil {
		t.Fatalf("write clients xlsx failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty workbook")
	}
}

func TestWriteProductsXLSX(t *testing.T) {
	products := []domain.Product{
		{Code: "PRD-001", Name: "Thermal Paper Roll", Category: "supplies", UnitPrice: decimal.NewFromFloat(3.50), Stock: 120, MinStock: 15, Active: true},
	}

	var buf bytes.Buffer
	if err := WriteProductsXLSX(&buf, products); err != nil {
		t.Fatalf("write products xlsx failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty workbook")
	}
}

func TestWriteSalesPDF(t *testing.T) {
	stats := domain.SaleStats{
		Count:   2,
		Revenue: decimal.NewFromFloat(52.50),
		Average: decimal.NewFromFloat(26.25),
	}

	var buf bytes.Buffer
	if err := WriteSalesPDF(&buf, "Sales Report", sampleSales(), stats); err != nil {
		t.Fatalf("write sales pdf failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected PDF magic at start of document")
	}
}

func TestWriteSalesPDFEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSalesPDF(&buf, "Sales Report", nil, domain.SaleStats{Revenue: decimal.Zero, Average: decimal.Zero}); err != nil {
		t.Fatalf("write empty sales pdf failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty document")
	}
}

func TestCellAxis(t *testing.T) {
	cases := map[string]string{
		cell(0, 0):  "A1",
		cell(1, 0):  "B1",
		cell(25, 0): "Z1",
		cell(26, 3): "AA4",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected axis %s, got %s", want, got)
		}
	}
}
