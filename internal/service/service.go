package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bizzflow/backend/internal/cache"
	"bizzflow/backend/internal/domain"
	"bizzflow/backend/internal/salenum"
	"bizzflow/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dashboardCacheKey = "dashboard:summary"

type Service struct {
	repo         store.Repository
	dashboard    cache.DashboardCache
	dashboardTTL time.Duration
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func New(repo store.Repository, dashboard cache.DashboardCache, dashboardTTL time.Duration, logger *zap.SugaredLogger) *Service {
	if dashboard == nil {
		dashboard = cache.NoopDashboardCache{}
	}
	if dashboardTTL <= 0 {
		dashboardTTL = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Service{
		repo:         repo,
		dashboard:    dashboard,
		dashboardTTL: dashboardTTL,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Code == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.UnitPrice.IsNegative() || req.Stock < 0 || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Code:        req.Code,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		UnitPrice:   req.UnitPrice.Round(2),
		Stock:       req.Stock,
		MinStock:    req.MinStock,
		Active:      true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("code=%s,price=%s,stock=%d", created.Code, created.UnitPrice, created.Stock))
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.UnitPrice = req.UnitPrice.Round(2)
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.MinStock = *req.MinStock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.UnitPrice))
	s.invalidateDashboard(ctx)
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	if productID == "" || req.Delta == 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	adjusted, err := s.repo.AdjustStock(ctx, productID, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", adjusted.ID, fmt.Sprintf("delta=%d,reason=%s", req.Delta, strings.TrimSpace(req.Reason)))
	s.invalidateDashboard(ctx)
	return *adjusted, nil
}

func (s *Service) ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error) {
	return s.repo.ListClients(ctx, limit, offset)
}

func (s *Service) GetClient(ctx context.Context, id string) (domain.Client, error) {
	client, err := s.repo.GetClientByID(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Client{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		Name:     req.Name,
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Address:  strings.TrimSpace(req.Address),
		Category: strings.TrimSpace(req.Category),
	})
	if err != nil {
		return domain.Client{}, err
	}

	s.logAudit(ctx, "client_create", "client", created.ID, "name="+created.Name)
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateClient(ctx context.Context, id string, req domain.ClientUpdateRequest) (domain.Client, error) {
	if id == "" {
		return domain.Client{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetClientByID(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Client{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}

	saved, err := s.repo.UpdateClient(ctx, updated)
	if err != nil {
		return domain.Client{}, err
	}

	s.logAudit(ctx, "client_update", "client", saved.ID, "name="+saved.Name)
	return *saved, nil
}

func (s *Service) DeleteClient(ctx context.Context, id string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidInput
	}

	if err := s.repo.DeleteClient(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "client_delete", "client", id, "")
	s.invalidateDashboard(ctx)
	return nil
}

// CreateSale is the write path of the sale transaction manager. It validates
// and prices the request, then hands the store one atomic unit of work: sale
// header, line items, stock decrements and the client purchase aggregate all
// commit together or not at all.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, store.ErrForbidden
	}

	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.Discount.IsNegative() || req.Tax.IsNegative() {
		return domain.Sale{}, store.ErrInvalidInput
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return domain.Sale{}, store.ErrInvalidInput
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return domain.Sale{}, store.ErrInvalidInput
		}
	}

	productIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.Sale{}, err
	}

	// Price each line, defaulting to the catalog price when the request does
	// not pin one. The store re-validates stock under row locks; this pass
	// exists to reject obviously bad requests before opening a transaction.
	needed := make(map[string]int, len(req.Items))
	items := make([]domain.SaleItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, input := range req.Items {
		product, exists := products[input.ProductID]
		if !exists {
			return domain.Sale{}, fmt.Errorf("%w: %s", store.ErrProductNotFound, input.ProductID)
		}
		needed[input.ProductID] += input.Quantity
		if needed[input.ProductID] > product.Stock {
			return domain.Sale{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Code)
		}

		unitPrice := product.UnitPrice
		if input.UnitPrice != nil {
			unitPrice = input.UnitPrice.Round(2)
		}
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))).Round(2)
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.SaleItem{
			ProductID:  input.ProductID,
			Quantity:   input.Quantity,
			UnitPrice:  unitPrice,
			TotalPrice: lineTotal,
		})
	}

	finalAmount := subtotal.Sub(req.Discount.Round(2)).Add(req.Tax.Round(2))
	if finalAmount.IsNegative() {
		return domain.Sale{}, store.ErrInvalidInput
	}

	createdAt := s.now()
	sale := domain.Sale{
		ID:            uuid.NewString(),
		SaleNumber:    salenum.New(createdAt),
		ClientID:      strings.TrimSpace(req.ClientID),
		SellerID:      actor.UserID,
		Subtotal:      subtotal,
		Discount:      req.Discount.Round(2),
		Tax:           req.Tax.Round(2),
		FinalAmount:   finalAmount,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.SaleStatusCompleted,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     createdAt,
		Items:         items,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if errors.Is(err, store.ErrConstraintViolation) {
		// Sale numbers carry a random suffix, so a collision is rare.
		// Regenerate once and retry; two collisions in a row is an error.
		s.logger.Warnw("sale number collision, retrying", "sale_number", sale.SaleNumber)
		sale.SaleNumber = salenum.New(createdAt)
		created, err = s.repo.CreateSale(ctx, sale)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID, fmt.Sprintf("number=%s,total=%s,items=%d", created.SaleNumber, created.FinalAmount, len(created.Items)))
	s.invalidateDashboard(ctx)
	return *created, nil
}

// DeleteSale reverses a sale: stock is restored and the client aggregate is
// decremented in the same transaction that removes the rows. Sellers may only
// delete sales recorded today; older sales require the admin role.
func (s *Service) DeleteSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, store.ErrForbidden
	}
	if id == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}

	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	if actor.Role != domain.RoleAdmin {
		if !sameUTCDate(sale.CreatedAt, s.now()) {
			return domain.Sale{}, store.ErrForbidden
		}
	}

	deleted, err := s.repo.DeleteSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_delete", "sale", deleted.ID, fmt.Sprintf("number=%s,total=%s", deleted.SaleNumber, deleted.FinalAmount))
	s.invalidateDashboard(ctx)
	return *deleted, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if id == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Period != "" {
		switch filter.Period {
		case domain.PeriodToday, domain.PeriodThisWeek, domain.PeriodThisMonth:
		default:
			return nil, store.ErrInvalidInput
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListSales(ctx, filter)
}

// GetSaleStats aggregates completed sales over a window. Window selection
// follows the list precedence: an explicit range wins over a named period,
// and with neither present the stats cover today.
func (s *Service) GetSaleStats(ctx context.Context, period string, explicitFrom, explicitTo *time.Time) (domain.SaleStats, error) {
	now := s.now()
	var from, to time.Time

	switch {
	case explicitFrom != nil || explicitTo != nil:
		from = time.Time{}
		to = now.AddDate(100, 0, 0)
		if explicitFrom != nil {
			from = explicitFrom.UTC()
		}
		if explicitTo != nil {
			to = explicitTo.UTC()
		}
		if to.Before(from) {
			return domain.SaleStats{}, store.ErrInvalidInput
		}
	case period == "" || period == domain.PeriodToday:
		from = midnightUTC(now)
		to = from.AddDate(0, 0, 1)
	case period == domain.PeriodThisWeek:
		from = startOfISOWeek(now)
		to = from.AddDate(0, 0, 7)
	case period == domain.PeriodThisMonth:
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, 0)
	default:
		return domain.SaleStats{}, store.ErrInvalidInput
	}

	return s.repo.GetSaleStats(ctx, from, to)
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	if cached, hit, err := s.dashboard.Get(ctx, dashboardCacheKey); err != nil {
		s.logger.Warnw("dashboard cache read failed", "error", err)
	} else if hit {
		return *cached, nil
	}

	now := s.now()

	totalClients, err := s.repo.CountClients(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	totalProducts, err := s.repo.CountProducts(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	lowStock, err := s.repo.ListLowStockProducts(ctx, 10)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	todayFrom := midnightUTC(now)
	todayStats, err := s.repo.GetSaleStats(ctx, todayFrom, todayFrom.AddDate(0, 0, 1))
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	monthFrom := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthStats, err := s.repo.GetSaleStats(ctx, monthFrom, monthFrom.AddDate(0, 1, 0))
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	topClients, err := s.repo.ListTopClients(ctx, 5)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	summary := domain.DashboardSummary{
		TotalClients:  totalClients,
		TotalProducts: totalProducts,
		LowStock:      lowStock,
		TodayStats:    todayStats,
		MonthRevenue:  monthStats.Revenue,
		TopClients:    topClients,
	}

	if err := s.dashboard.Set(ctx, dashboardCacheKey, &summary, s.dashboardTTL); err != nil {
		s.logger.Warnw("dashboard cache write failed", "error", err)
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now().AddDate(0, 0, 1)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.NewString(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warnw("failed to write audit log", "action", action, "entity", entityType+"/"+entityID, "error", err)
	}
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.dashboard.Delete(ctx, dashboardCacheKey); err != nil {
		s.logger.Warnw("dashboard cache invalidation failed", "error", err)
	}
}

func requireRole(ctx context.Context, role string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != role {
		return store.ErrForbidden
	}
	return nil
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfISOWeek(t time.Time) time.Time {
	midnight := midnightUTC(t)
	weekday := int(midnight.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return midnight.AddDate(0, 0, -(weekday - 1))
}
