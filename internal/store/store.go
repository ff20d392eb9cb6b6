package store

import (
	"context"
	"errors"
	"time"

	"pointsale/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateReceipt  = errors.New("duplicate receipt number")
	ErrInvalidCheckout   = errors.New("invalid checkout")
)

type Repository interface {
	ListProducts(ctx context.Context, category string) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// DecrementStock atomically checks and decrements a product's stock,
	// returning the remaining quantity. It never drives stock negative:
	// the caller gets ErrInsufficientStock and the row stays untouched.
	DecrementStock(ctx context.Context, productID string, qty int) (int, error)
	IncreaseStock(ctx context.Context, productID string, qty int) (int, error)
	// CreateSale persists a sale and its lines atomically. A receipt
	// number collision reports ErrDuplicateReceipt with nothing written.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByReceipt(ctx context.Context, receiptNumber string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)
	FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error)
	// UpsertCustomerPurchase creates the customer when the exact name is
	// unknown, otherwise accumulates onto the existing record. Phone is
	// only overwritten when the incoming value is non-empty.
	UpsertCustomerPurchase(ctx context.Context, name string, phone string, purchaseCents int64, visitDelta int, purchaseDate time.Time) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
