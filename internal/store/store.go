package store

import (
	"context"
	"errors"

	"lumapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrDuplicate         = errors.New("duplicate")
	ErrShiftAlreadyOpen  = errors.New("shift already open")
	ErrNoOpenShift       = errors.New("no open shift")
)

// Repository is the authoritative server-side store. CreateSale,
// RefundSale and VoidSale are atomic: either every row they touch is
// written or none is.
type Repository interface {
	// Products
	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	AdjustStock(ctx context.Context, productID string, change int, reason string) (domain.Product, error)
	ListLowStock(ctx context.Context) ([]domain.Product, error)

	// Customers
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	GetCustomerByPhone(ctx context.Context, phone string) (domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error)

	// Shifts
	OpenShift(ctx context.Context, shift domain.Shift) (domain.Shift, error)
	CloseShift(ctx context.Context, userID string) (domain.Shift, error)
	CurrentShift(ctx context.Context, userID string) (domain.Shift, error)

	// Sales. CreateSale assigns the id and the date-scoped sale number,
	// validates and decrements tracked stock, writes one inventory-log
	// row per tracked line, applies customer and shift aggregates, and
	// deduplicates on LocalID: a replay returns the existing sale with
	// Duplicate set instead of a second record.
	CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	GetSale(ctx context.Context, id string) (domain.Sale, error)
	GetSaleByLocalID(ctx context.Context, localID string) (domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	RefundSale(ctx context.Context, saleID string, refund domain.Refund, restock []domain.RefundItemRequest) (domain.Sale, domain.Refund, error)
	VoidSale(ctx context.Context, saleID string, reason string) (domain.Sale, error)

	// Held sales (parked carts). Holds never touch inventory or
	// aggregates; resuming deletes the hold and returns its payload.
	CreateHold(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	ListHolds(ctx context.Context) ([]domain.Sale, error)
	ResumeHold(ctx context.Context, id string) (domain.Sale, error)

	// Inventory audit trail
	ListInventoryLogs(ctx context.Context, productID string, limit int) ([]domain.InventoryLog, error)

	// Users
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
