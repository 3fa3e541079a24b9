package domain

import "time"

// All monetary amounts are stored in integer cents. Tax rates are
// expressed in percent (8.25 means 8.25%).

const (
	SaleStatusCompleted = "COMPLETED"
	SaleStatusPending   = "PENDING"
	SaleStatusRefunded  = "REFUNDED"
	SaleStatusVoided    = "VOIDED"
	SaleStatusHold      = "HOLD"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodTransfer = "TRANSFER"
)

// Inventory log reasons.
const (
	InventoryReasonSale       = "sale"
	InventoryReasonRefund     = "refund"
	InventoryReasonVoid       = "void"
	InventoryReasonAdjustment = "adjustment"
)

type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	CategoryName   string    `json:"categoryName,omitempty"`
	CostCents      int64     `json:"costCents"`
	PriceCents     int64     `json:"priceCents"`
	StockQuantity  int       `json:"stockQuantity"`
	LowStockAlert  int       `json:"lowStockAlert"`
	TrackInventory bool      `json:"trackInventory"`
	IsTaxable      bool      `json:"isTaxable"`
	IsActive       bool      `json:"isActive"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Customer struct {
	ID              string     `json:"id"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	Name            string     `json:"name"`
	LoyaltyPoints   int64      `json:"loyaltyPoints"`
	TotalSpentCents int64      `json:"totalSpentCents"`
	VisitCount      int        `json:"visitCount"`
	LastVisitAt     *time.Time `json:"lastVisitAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// SaleItem is a point-in-time snapshot of the product. Historical sales
// stay correct even when the product record changes later.
type SaleItem struct {
	ProductID      string `json:"productId"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	DiscountCents  int64  `json:"discountCents"`
	TaxCents       int64  `json:"taxCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type Sale struct {
	ID               string     `json:"id"`
	SaleNumber       string     `json:"saleNumber"`
	LocalID          string     `json:"localId,omitempty"`
	CustomerID       string     `json:"customerId,omitempty"`
	UserID           string     `json:"userId"`
	LocationID       string     `json:"locationId"`
	ShiftID          string     `json:"shiftId,omitempty"`
	Status           string     `json:"status"`
	SubtotalCents    int64      `json:"subtotalCents"`
	DiscountCents    int64      `json:"discountCents"`
	TaxCents         int64      `json:"taxCents"`
	TotalCents       int64      `json:"totalCents"`
	PaymentMethod    string     `json:"paymentMethod"`
	AmountPaidCents  int64      `json:"amountPaidCents"`
	ChangeDueCents   int64      `json:"changeDueCents"`
	Notes            string     `json:"notes,omitempty"`
	OfflineCreatedAt *time.Time `json:"offlineCreatedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	Items            []SaleItem `json:"items"`
	// Duplicate marks a replayed submission that matched an existing
	// sale by its localId idempotency key.
	Duplicate bool `json:"duplicate,omitempty"`
}

type Shift struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Status            string     `json:"status"`
	OpeningFloatCents int64      `json:"openingFloatCents"`
	TotalSalesCents   int64      `json:"totalSalesCents"`
	TotalTransactions int        `json:"totalTransactions"`
	OpenedAt          time.Time  `json:"openedAt"`
	ClosedAt          *time.Time `json:"closedAt,omitempty"`
}

type InventoryLog struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	SaleID      string    `json:"saleId,omitempty"`
	Change      int       `json:"change"`
	PreviousQty int       `json:"previousQty"`
	NewQty      int       `json:"newQty"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Refund struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"saleId"`
	AmountCents int64     `json:"amountCents"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type Actor struct {
	Username string
	Role     string
}

// --- API payloads ---

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type SaleItemRequest struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	DiscountCents  int64  `json:"discountCents"`
}

type CreateSaleRequest struct {
	LocalID          string            `json:"localId,omitempty"`
	CustomerID       string            `json:"customerId,omitempty"`
	Items            []SaleItemRequest `json:"items"`
	PaymentMethod    string            `json:"paymentMethod"`
	AmountPaidCents  int64             `json:"amountPaidCents"`
	Notes            string            `json:"notes,omitempty"`
	OfflineCreatedAt *time.Time        `json:"offlineCreatedAt,omitempty"`
	Hold             bool              `json:"hold,omitempty"`
}

type RefundItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type RefundRequest struct {
	AmountCents int64               `json:"amountCents"`
	Reason      string              `json:"reason,omitempty"`
	Items       []RefundItemRequest `json:"items,omitempty"`
}

type VoidRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ShiftOpenRequest struct {
	OpeningFloatCents int64 `json:"openingFloatCents"`
}

type StockAdjustRequest struct {
	Change int    `json:"change"`
	Reason string `json:"reason,omitempty"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Terminal side (local store and sync engine) ---

// Pending-sale sync states. A queued sale moves
// queued -> submitting -> synced, or back to failed with an attempt
// count; the fifth failure makes it abandoned and it is no longer
// submitted, though it still counts as pending for the operator.
const (
	PendingStateQueued     = "queued"
	PendingStateSubmitting = "submitting"
	PendingStateFailed     = "failed"
	PendingStateSynced     = "synced"
	PendingStateAbandoned  = "abandoned"
)

const MaxSyncAttempts = 5

type CachedProduct struct {
	Product
	SyncedAt time.Time `json:"syncedAt"`
}

type CachedCustomer struct {
	Customer
	SyncedAt time.Time `json:"syncedAt"`
}

type PendingSaleItem struct {
	ProductID      string `json:"productId"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	DiscountCents  int64  `json:"discountCents"`
	TaxCents       int64  `json:"taxCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type PendingSale struct {
	Seq              int64             `json:"seq"`
	LocalID          string            `json:"localId"`
	CustomerID       string            `json:"customerId,omitempty"`
	Items            []PendingSaleItem `json:"items"`
	SubtotalCents    int64             `json:"subtotalCents"`
	DiscountCents    int64             `json:"discountCents"`
	TaxCents         int64             `json:"taxCents"`
	TotalCents       int64             `json:"totalCents"`
	PaymentMethod    string            `json:"paymentMethod"`
	AmountPaidCents  int64             `json:"amountPaidCents"`
	ChangeDueCents   int64             `json:"changeDueCents"`
	Notes            string            `json:"notes,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	State            string            `json:"state"`
	SyncAttempts     int               `json:"syncAttempts"`
	LastSyncAttempt  *time.Time        `json:"lastSyncAttempt,omitempty"`
	SyncError        string            `json:"syncError,omitempty"`
	ServerID         string            `json:"serverId,omitempty"`
	ServerSaleNumber string            `json:"serverSaleNumber,omitempty"`
}

// Synced reports whether the sale has been confirmed by the server.
func (p PendingSale) Synced() bool {
	return p.State == PendingStateSynced
}

// Abandoned reports whether the retry cap has been exhausted.
func (p PendingSale) Abandoned() bool {
	return p.State == PendingStateAbandoned
}

type SyncLogEntry struct {
	ID       int64     `json:"id"`
	Type     string    `json:"type"`
	Action   string    `json:"action"`
	LocalID  string    `json:"localId,omitempty"`
	ServerID string    `json:"serverId,omitempty"`
	At       time.Time `json:"at"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
}

const (
	SyncLogTypeSale     = "sale"
	SyncLogTypeProduct  = "product"
	SyncLogTypeCustomer = "customer"

	SyncLogActionCreate = "create"
	SyncLogActionUpdate = "update"
	SyncLogActionSync   = "sync"
)

// Sync-engine cycle states.
const (
	SyncStateIdle    = "idle"
	SyncStateSyncing = "syncing"
	SyncStateSuccess = "success"
	SyncStateError   = "error"
)

type SyncStatus struct {
	State        string     `json:"state"`
	Online       bool       `json:"online"`
	PendingCount int        `json:"pendingCount"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}
