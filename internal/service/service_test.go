package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bizzflow/backend/internal/cache"
	"bizzflow/backend/internal/domain"
	"bizzflow/backend/internal/store"
	"bizzflow/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopDashboardCache{}, time.Minute, nil)
	return svc, repo
}

func sellerContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "seller-1",
		Username: "seller",
		Role:     domain.RoleSeller,
	})
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "admin-1",
		Username: "admin",
		Role:     domain.RoleAdmin,
	})
}

func pickProduct(t *testing.T, svc *Service, minStock int) domain.Product {
	t.Helper()
	products, err := svc.ListProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Stock >= minStock {
			return p
		}
	}
	t.Fatalf("no seeded product with stock >= %d", minStock)
	return domain.Product{}
}

func firstClient(t *testing.T, svc *Service) domain.Client {
	t.Helper()
	clients, err := svc.ListClients(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list clients failed: %v", err)
	}
	if len(clients) == 0 {
		t.Fatalf("no seeded clients")
	}
	return clients[0]
}

func TestCreateSaleDecrementsStockAndUpdatesClient(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	product := pickProduct(t, svc, 5)
	client := firstClient(t, svc)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	wantTotal := product.UnitPrice.Mul(decimal.NewFromInt(3)).Round(2)
	if !sale.FinalAmount.Equal(wantTotal) {
		t.Fatalf("expected final amount %s, got %s", wantTotal, sale.FinalAmount)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed status, got %s", sale.Status)
	}
	if sale.SellerID != "seller-1" {
		t.Fatalf("expected seller id from actor, got %s", sale.SellerID)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != product.Stock-3 {
		t.Fatalf("expected stock %d, got %d", product.Stock-3, after.Stock)
	}

	refreshed, err := svc.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("get client failed: %v", err)
	}
	if !refreshed.TotalSpent.Equal(wantTotal) {
		t.Fatalf("expected client total spent %s, got %s", wantTotal, refreshed.TotalSpent)
	}
	if refreshed.LastPurchase == nil {
		t.Fatalf("expected last purchase to be set")
	}
}

func TestCreateSaleComputesDiscountAndTax(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	product := pickProduct(t, svc, 2)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCard,
		Discount:      decimal.NewFromFloat(1.50),
		Tax:           decimal.NewFromFloat(0.75),
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	subtotal := product.UnitPrice.Mul(decimal.NewFromInt(2)).Round(2)
	want := subtotal.Sub(decimal.NewFromFloat(1.50)).Add(decimal.NewFromFloat(0.75))
	if !sale.Subtotal.Equal(subtotal) {
		t.Fatalf("expected subtotal %s, got %s", subtotal, sale.Subtotal)
	}
	if !sale.FinalAmount.Equal(want) {
		t.Fatalf("expected final amount %s, got %s", want, sale.FinalAmount)
	}
}

func TestCreateSaleInsufficientStockLeavesStateUntouched(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	product := pickProduct(t, svc, 1)
	client := firstClient(t, svc)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: product.Stock + 1},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != product.Stock {
		t.Fatalf("stock changed on failed sale: had %d, got %d", product.Stock, after.Stock)
	}

	refreshed, err := svc.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("get client failed: %v", err)
	}
	if !refreshed.TotalSpent.IsZero() {
		t.Fatalf("client total spent changed on failed sale: %s", refreshed.TotalSpent)
	}

	sales, err := svc.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sales after failed create, got %d", len(sales))
	}
}

func TestCreateSaleAggregatesDuplicateLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	product := pickProduct(t, svc, 3)

	// Two lines for the same product whose combined quantity exceeds stock
	// must fail even though each line alone would fit.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: product.Stock - 1},
			{ProductID: product.ID, Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: "no-such-product", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrProductNotFound) {
		t.Fatalf("expected product not found error, got %v", err)
	}
}

func TestCreateSaleUnknownClient(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 2)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      "no-such-client",
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != product.Stock {
		t.Fatalf("expected stock untouched at %d, got %d", product.Stock, after.Stock)
	}
}

func TestCreateSaleReturnsDetachedItems(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 2)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItemInput{
			{ProductID: product.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	sale.Items[0].Quantity = 99

	stored, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if stored.Items[0].Quantity != 2 {
		t.Fatalf("expected stored quantity 2, got %d", stored.Items[0].Quantity)
	}
}

func TestCreateSaleRejectsBadInput(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)

	cases := []domain.SaleCreateRequest{
		{PaymentMethod: domain.PaymentCash},
		{PaymentMethod: "bitcoin", Items: []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}}},
		{PaymentMethod: domain.PaymentCash, Items: []domain.SaleItemInput{{ProductID: product.ID, Quantity: 0}}},
		{PaymentMethod: domain.PaymentCash, Discount: decimal.NewFromInt(-1), Items: []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}}},
	}
	for i, req := range cases {
		if _, err := svc.CreateSale(ctx, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input error, got %v", i, err)
		}
	}
}

func TestSaleNumberFormat(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	want := "V" + sale.CreatedAt.UTC().Format("060102")
	if len(sale.SaleNumber) != 10 || sale.SaleNumber[:7] != want {
		t.Fatalf("unexpected sale number %q, want prefix %q and length 10", sale.SaleNumber, want)
	}
}

// collidingRepo forces a sale number collision on the first create attempt.
type collidingRepo struct {
	store.Repository
	failures int
}

func (r *collidingRepo) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if r.failures > 0 {
		r.failures--
		return nil, fmt.Errorf("%w: sale number %s", store.ErrConstraintViolation, sale.SaleNumber)
	}
	return r.Repository.CreateSale(ctx, sale)
}

func TestCreateSaleRetriesOnceOnNumberCollision(t *testing.T) {
	repo := &collidingRepo{Repository: memory.NewSeeded(), failures: 1}
	svc := New(repo, cache.NoopDashboardCache{}, time.Minute, nil)
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if sale.SaleNumber == "" {
		t.Fatalf("expected a sale number on the retried sale")
	}
}

func TestCreateSaleGivesUpAfterSecondCollision(t *testing.T) {
	repo := &collidingRepo{Repository: memory.NewSeeded(), failures: 2}
	svc := New(repo, cache.NoopDashboardCache{}, time.Minute, nil)
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation after two collisions, got %v", err)
	}
}

func TestDeleteSaleRestoresStockAndClientAggregate(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()

	product := pickProduct(t, svc, 4)
	client := firstClient(t, svc)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: domain.PaymentTransfer,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	deleted, err := svc.DeleteSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}
	if deleted.ID != sale.ID {
		t.Fatalf("expected deleted sale %s, got %s", sale.ID, deleted.ID)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != product.Stock {
		t.Fatalf("expected stock restored to %d, got %d", product.Stock, after.Stock)
	}

	refreshed, err := svc.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("get client failed: %v", err)
	}
	if !refreshed.TotalSpent.IsZero() {
		t.Fatalf("expected client total spent back to zero, got %s", refreshed.TotalSpent)
	}

	if _, err := svc.GetSale(ctx, sale.ID); !errors.Is(err, store.ErrSaleNotFound) {
		t.Fatalf("expected sale not found after delete, got %v", err)
	}
}

func TestDeleteSaleOlderThanTodayRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	svc.now = func() time.Time { return yesterday }
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC() }

	if _, err := svc.DeleteSale(ctx, sale.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for seller deleting an older sale, got %v", err)
	}

	if _, err := svc.DeleteSale(adminContext(), sale.ID); err != nil {
		t.Fatalf("expected admin to delete older sale, got %v", err)
	}
}

func TestDeleteSaleUnknownID(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.DeleteSale(sellerContext(), "no-such-sale")
	if !errors.Is(err, store.ErrSaleNotFound) {
		t.Fatalf("expected sale not found, got %v", err)
	}
}

func TestListSalesDatePrecedence(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 10)

	lastWeek := time.Now().UTC().AddDate(0, 0, -8)
	svc.now = func() time.Time { return lastWeek }
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create old sale failed: %v", err)
	}

	svc.now = func() time.Time { return time.Now().UTC() }
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create recent sale failed: %v", err)
	}

	today, err := svc.ListSales(ctx, domain.SaleFilter{Period: domain.PeriodToday})
	if err != nil {
		t.Fatalf("list today failed: %v", err)
	}
	if len(today) != 1 {
		t.Fatalf("expected 1 sale today, got %d", len(today))
	}

	all, err := svc.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sales without a window, got %d", len(all))
	}

	// An explicit range wins over a named period.
	from := lastWeek.Add(-time.Hour)
	to := lastWeek.Add(time.Hour)
	ranged, err := svc.ListSales(ctx, domain.SaleFilter{From: &from, To: &to, Period: domain.PeriodToday})
	if err != nil {
		t.Fatalf("list ranged failed: %v", err)
	}
	if len(ranged) != 1 {
		t.Fatalf("expected explicit range to override period, got %d sales", len(ranged))
	}

	if _, err := svc.ListSales(ctx, domain.SaleFilter{Period: "fortnight"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown period, got %v", err)
	}
}

func TestGetSaleStats(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 6)

	for _, method := range []string{domain.PaymentCash, domain.PaymentCash, domain.PaymentCard} {
		if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			PaymentMethod: method,
			Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
		}); err != nil {
			t.Fatalf("create sale failed: %v", err)
		}
	}

	stats, err := svc.GetSaleStats(ctx, domain.PeriodToday, nil, nil)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 3 {
		t.Fatalf("expected 3 sales, got %d", stats.Count)
	}
	wantRevenue := product.UnitPrice.Mul(decimal.NewFromInt(3)).Round(2)
	if !stats.Revenue.Equal(wantRevenue) {
		t.Fatalf("expected revenue %s, got %s", wantRevenue, stats.Revenue)
	}
	wantAverage := wantRevenue.Div(decimal.NewFromInt(3)).Round(2)
	if !stats.Average.Equal(wantAverage) {
		t.Fatalf("expected average %s, got %s", wantAverage, stats.Average)
	}
	if len(stats.ByPayment) != 2 {
		t.Fatalf("expected 2 payment method rows, got %d", len(stats.ByPayment))
	}
	for _, row := range stats.ByPayment {
		switch row.Method {
		case domain.PaymentCash:
			if row.Count != 2 {
				t.Fatalf("expected 2 cash sales, got %d", row.Count)
			}
		case domain.PaymentCard:
			if row.Count != 1 {
				t.Fatalf("expected 1 card sale, got %d", row.Count)
			}
		default:
			t.Fatalf("unexpected payment method %s", row.Method)
		}
	}
}

func TestStatsEmptyWindow(t *testing.T) {
	svc, _ := newTestService()

	stats, err := svc.GetSaleStats(sellerContext(), domain.PeriodToday, nil, nil)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 0 || !stats.Revenue.IsZero() || !stats.Average.IsZero() {
		t.Fatalf("expected zero stats for empty window, got %+v", stats)
	}
}

func TestProductWriteRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(sellerContext(), domain.ProductCreateRequest{
		Code: "PRD-X", Name: "Widget", Category: "misc", UnitPrice: decimal.NewFromInt(5),
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for seller, got %v", err)
	}

	created, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{
		Code: "PRD-X", Name: "Widget", Category: "misc", UnitPrice: decimal.NewFromInt(5), Stock: 10, MinStock: 2,
	})
	if err != nil {
		t.Fatalf("admin create product failed: %v", err)
	}
	if !created.Active {
		t.Fatalf("expected new product to be active")
	}
}

func TestAdjustStockCannotGoNegative(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()
	product := pickProduct(t, svc, 1)

	_, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{
		Delta:  -(product.Stock + 1),
		Reason: "shrinkage audit",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	adjusted, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{
		Delta:  -1,
		Reason: "damaged unit",
	})
	if err != nil {
		t.Fatalf("adjust stock failed: %v", err)
	}
	if adjusted.Stock != product.Stock-1 {
		t.Fatalf("expected stock %d, got %d", product.Stock-1, adjusted.Stock)
	}
}

func TestDashboardSummary(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 2)
	client := firstClient(t, svc)

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	summary, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if summary.TotalProducts == 0 || summary.TotalClients == 0 {
		t.Fatalf("expected non-zero product and client counts")
	}
	if summary.TodayStats.Count != 1 {
		t.Fatalf("expected 1 sale today, got %d", summary.TodayStats.Count)
	}
	if !summary.MonthRevenue.Equal(summary.TodayStats.Revenue) {
		t.Fatalf("expected month revenue to match today revenue, got %s vs %s", summary.MonthRevenue, summary.TodayStats.Revenue)
	}
	if len(summary.TopClients) != 1 || summary.TopClients[0].ID != client.ID {
		t.Fatalf("expected the buying client among top clients")
	}
}

func TestDeleteClientWithSalesBlocked(t *testing.T) {
	svc, _ := newTestService()
	ctx := sellerContext()
	product := pickProduct(t, svc, 1)
	client := firstClient(t, svc)

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: domain.PaymentCheck,
		Items:         []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if err := svc.DeleteClient(adminContext(), client.ID); !errors.Is(err, store.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation deleting a client with sales, got %v", err)
	}
}
