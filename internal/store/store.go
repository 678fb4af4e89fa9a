package store

import (
	"context"
	"errors"
	"time"

	"bizzflow/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrProductNotFound     = errors.New("product not found or inactive")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnavailable         = errors.New("store unavailable")
)

// Repository is the relational-store boundary. CreateSale and DeleteSale are
// single atomic units of work: either every write inside them lands or none
// does, and the product stock plus client aggregate mutations ride inside the
// same transaction as the sale header and line items.
type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error)
	CountProducts(ctx context.Context) (int64, error)
	ListLowStockProducts(ctx context.Context, limit int) ([]domain.Product, error)

	ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error)
	GetClientByID(ctx context.Context, id string) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, id string) error
	CountClients(ctx context.Context) (int64, error)
	ListTopClients(ctx context.Context, limit int) ([]domain.Client, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetSaleStats(ctx context.Context, from, to time.Time) (domain.SaleStats, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	// GetUserByUsername returns the account whether or not it is active;
	// callers decide how to treat deactivated accounts.
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
