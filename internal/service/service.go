package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"lumapos/backend/internal/cache"
	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/store"
)

var (
	// ErrValidation wraps request-shape problems the caller must fix.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientPayment rejects a sale paid below its total before
	// any mutation happens.
	ErrInsufficientPayment = errors.New("insufficient payment")
)

var validPaymentMethods = map[string]bool{
	domain.PaymentMethodCash:     true,
	domain.PaymentMethodCard:     true,
	domain.PaymentMethodTransfer: true,
}

type Service struct {
	repo           store.Repository
	catalog        cache.CatalogCache
	locationID     string
	taxRatePercent float64
	catalogTTL     time.Duration
}

func New(repo store.Repository, catalog cache.CatalogCache, locationID string, taxRatePercent float64, catalogTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 20 * time.Second
	}
	return &Service{
		repo:           repo,
		catalog:        catalog,
		locationID:     locationID,
		taxRatePercent: taxRatePercent,
		catalogTTL:     catalogTTL,
	}
}

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// --- sales ---

// CreateSale is the single place a sale becomes authoritative. It
// validates the request, computes line math, and hands the store one
// atomic unit: sale + item snapshots + stock decrements + inventory
// logs + customer and shift aggregates. A replayed localId returns the
// original sale instead of creating a second one.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("sale needs at least one item: %w", ErrValidation)
	}
	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if !req.Hold && !validPaymentMethods[method] {
		return domain.Sale{}, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, ErrValidation)
	}

	if req.LocalID != "" {
		existing, err := s.repo.GetSaleByLocalID(ctx, req.LocalID)
		if err == nil {
			existing.Duplicate = true
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.Sale{}, fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
	}

	sale := domain.Sale{
		LocalID:          req.LocalID,
		CustomerID:       req.CustomerID,
		LocationID:       s.locationID,
		PaymentMethod:    method,
		Notes:            strings.TrimSpace(req.Notes),
		OfflineCreatedAt: req.OfflineCreatedAt,
		Status:           domain.SaleStatusCompleted,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		sale.UserID = actor.Username
	}

	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return domain.Sale{}, fmt.Errorf("quantity must be positive: %w", ErrValidation)
		}
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("product %s: %w", line.ProductID, err)
		}
		if !product.IsActive {
			return domain.Sale{}, fmt.Errorf("product %s is inactive: %w", product.SKU, ErrValidation)
		}

		unit := line.UnitPriceCents
		if unit <= 0 {
			unit = product.PriceCents
		}
		lineSubtotal := unit * int64(line.Quantity)
		if line.DiscountCents < 0 || line.DiscountCents > lineSubtotal {
			return domain.Sale{}, fmt.Errorf("line discount out of range: %w", ErrValidation)
		}
		taxBase := lineSubtotal - line.DiscountCents
		var tax int64
		if product.IsTaxable {
			tax = int64(math.Round(float64(taxBase) * s.taxRatePercent / 100))
		}

		sale.Items = append(sale.Items, domain.SaleItem{
			ProductID:      product.ID,
			SKU:            product.SKU,
			Name:           product.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: unit,
			DiscountCents:  line.DiscountCents,
			TaxCents:       tax,
			LineTotalCents: taxBase + tax,
		})
		sale.SubtotalCents += lineSubtotal
		sale.DiscountCents += line.DiscountCents
		sale.TaxCents += tax
	}
	sale.TotalCents = sale.SubtotalCents - sale.DiscountCents + sale.TaxCents

	if req.Hold {
		held, err := s.repo.CreateHold(ctx, sale)
		if err != nil {
			return domain.Sale{}, err
		}
		s.logAudit(ctx, "sale.hold", held.ID)
		return held, nil
	}

	if req.AmountPaidCents < sale.TotalCents {
		return domain.Sale{}, fmt.Errorf("paid %d of %d: %w",
			req.AmountPaidCents, sale.TotalCents, ErrInsufficientPayment)
	}
	sale.AmountPaidCents = req.AmountPaidCents
	sale.ChangeDueCents = req.AmountPaidCents - sale.TotalCents

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	if !created.Duplicate {
		s.invalidateCatalog(ctx)
		s.logAudit(ctx, "sale.create", created.SaleNumber)
	}
	return created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListSales(ctx, limit)
}

// RefundSale moves a completed sale to REFUNDED: restores the listed
// quantities to stock, reverses the customer's spend and loyalty by the
// refund amount, and records the refund. Terminal states are rejected.
func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundRequest) (domain.Sale, domain.Refund, error) {
	if req.AmountCents <= 0 {
		return domain.Sale{}, domain.Refund{}, fmt.Errorf("refund amount must be positive: %w", ErrValidation)
	}
	sale, refund, err := s.repo.RefundSale(ctx, saleID, domain.Refund{
		AmountCents: req.AmountCents,
		Reason:      strings.TrimSpace(req.Reason),
	}, req.Items)
	if err != nil {
		return domain.Sale{}, domain.Refund{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale.refund", sale.SaleNumber)
	return sale, refund, nil
}

// VoidSale moves a completed sale to VOIDED and restores all stock. It
// never touches customer aggregates.
func (s *Service) VoidSale(ctx context.Context, saleID string, reason string) (domain.Sale, error) {
	sale, err := s.repo.VoidSale(ctx, saleID, strings.TrimSpace(reason))
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale.void", sale.SaleNumber)
	return sale, nil
}

func (s *Service) HeldSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListHolds(ctx)
}

func (s *Service) ResumeHold(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.ResumeHold(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, "sale.resume", sale.ID)
	return sale, nil
}

// --- products ---

// ListProducts serves the terminals' bulk refresh; the active listing
// is snapshot-cached because every terminal polls it each cycle.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	if activeOnly {
		if cached, ok, err := s.catalog.GetProducts(ctx); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Printf("[service] WARN: catalog cache read: %v", err)
		}
	}
	products, err := s.repo.ListProducts(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if activeOnly {
		if err := s.catalog.SetProducts(ctx, products, s.catalogTTL); err != nil {
			log.Printf("[service] WARN: catalog cache write: %v", err)
		}
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.SKU) == "" {
		return domain.Product{}, fmt.Errorf("product needs a name and sku: %w", ErrValidation)
	}
	if product.PriceCents < 0 || product.CostCents < 0 {
		return domain.Product{}, fmt.Errorf("price and cost must not be negative: %w", ErrValidation)
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product.create", created.SKU)
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, fmt.Errorf("product id required: %w", ErrValidation)
	}
	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product.update", updated.SKU)
	return updated, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.Product, error) {
	if req.Change == 0 {
		return domain.Product{}, fmt.Errorf("change must be non-zero: %w", ErrValidation)
	}
	product, err := s.repo.AdjustStock(ctx, productID, req.Change, req.Reason)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product.adjust-stock", product.SKU)
	return product, nil
}

func (s *Service) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListLowStock(ctx)
}

func (s *Service) InventoryLogs(ctx context.Context, productID string, limit int) ([]domain.InventoryLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListInventoryLogs(ctx, productID, limit)
}

// --- customers ---

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if cached, ok, err := s.catalog.GetCustomers(ctx); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read: %v", err)
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetCustomers(ctx, customers, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write: %v", err)
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CustomerByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.Customer{}, fmt.Errorf("phone required: %w", ErrValidation)
	}
	return s.repo.GetCustomerByPhone(ctx, phone)
}

func (s *Service) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return domain.Customer{}, fmt.Errorf("customer needs a name: %w", ErrValidation)
	}
	customer.Phone = strings.TrimSpace(customer.Phone)
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "customer.create", created.ID)
	return created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	updated, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "customer.update", updated.ID)
	return updated, nil
}

// --- shifts ---

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, fmt.Errorf("no actor: %w", ErrValidation)
	}
	if req.OpeningFloatCents < 0 {
		return domain.Shift{}, fmt.Errorf("opening float must not be negative: %w", ErrValidation)
	}
	shift, err := s.repo.OpenShift(ctx, domain.Shift{
		UserID:            actor.Username,
		OpeningFloatCents: req.OpeningFloatCents,
	})
	if err != nil {
		return domain.Shift{}, err
	}
	s.logAudit(ctx, "shift.open", shift.ID)
	return shift, nil
}

func (s *Service) CloseShift(ctx context.Context) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, fmt.Errorf("no actor: %w", ErrValidation)
	}
	shift, err := s.repo.CloseShift(ctx, actor.Username)
	if err != nil {
		return domain.Shift{}, err
	}
	s.logAudit(ctx, "shift.close", shift.ID)
	return shift, nil
}

func (s *Service) CurrentShift(ctx context.Context) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, fmt.Errorf("no actor: %w", ErrValidation)
	}
	return s.repo.CurrentShift(ctx, actor.Username)
}

// --- helpers ---

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: catalog cache invalidate: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action, target string) {
	actor := "system"
	if a, ok := ActorFromContext(ctx); ok && a.Username != "" {
		actor = a.Username
	}
	log.Printf("[audit] actor=%s action=%s target=%s", actor, action, target)
}
