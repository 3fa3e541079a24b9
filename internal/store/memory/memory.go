package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/store"
	"lumapos/backend/internal/xid"
)

// Store is an in-memory Repository used for tests and DB-less runs. All
// methods take the single write lock for mutations, so every multi-row
// operation (sale creation, refund, void) is atomic with respect to
// readers.
type Store struct {
	mu sync.RWMutex

	products       map[string]domain.Product
	customers      map[string]domain.Customer
	customersPhone map[string]string
	shifts         map[string]domain.Shift
	sales          map[string]domain.Sale
	salesByLocalID map[string]string
	holds          map[string]domain.Sale
	refunds        map[string]domain.Refund
	inventoryLogs  []domain.InventoryLog
	users          map[string]domain.UserAccount
	saleCounters   map[string]int
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		customers:      make(map[string]domain.Customer),
		customersPhone: make(map[string]string),
		shifts:         make(map[string]domain.Shift),
		sales:          make(map[string]domain.Sale),
		salesByLocalID: make(map[string]string),
		holds:          make(map[string]domain.Sale),
		refunds:        make(map[string]domain.Refund),
		users:          make(map[string]domain.UserAccount),
		saleCounters:   make(map[string]int),
	}
}

// NewSeeded returns a store preloaded with a demo catalog, one loyalty
// customer, and the default user accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []domain.Product{
		{ID: "prod-espresso", SKU: "SKU001", Barcode: "8990001000017", Name: "Espresso Beans 1kg", CategoryName: "Coffee", CostCents: 650, PriceCents: 1000, StockQuantity: 120, LowStockAlert: 15, TrackInventory: true, IsTaxable: true, IsActive: true},
		{ID: "prod-drip", SKU: "SKU002", Barcode: "8990001000024", Name: "Drip Grind 500g", CategoryName: "Coffee", CostCents: 400, PriceCents: 750, StockQuantity: 90, LowStockAlert: 12, TrackInventory: true, IsTaxable: true, IsActive: true},
		{ID: "prod-filter", SKU: "SKU003", Barcode: "8990001000031", Name: "Paper Filters 100ct", CategoryName: "Supplies", CostCents: 120, PriceCents: 300, StockQuantity: 200, LowStockAlert: 25, TrackInventory: true, IsTaxable: true, IsActive: true},
		{ID: "prod-mug", SKU: "SKU004", Barcode: "8990001000048", Name: "Ceramic Mug 12oz", CategoryName: "Merch", CostCents: 300, PriceCents: 899, StockQuantity: 60, LowStockAlert: 8, TrackInventory: true, IsTaxable: true, IsActive: true},
		{ID: "prod-giftcard", SKU: "SKU005", Barcode: "", Name: "Gift Card", CategoryName: "Merch", CostCents: 0, PriceCents: 2500, StockQuantity: 0, LowStockAlert: 0, TrackInventory: false, IsTaxable: false, IsActive: true},
		{ID: "prod-syrup", SKU: "SKU006", Barcode: "8990001000062", Name: "Vanilla Syrup 750ml", CategoryName: "Supplies", CostCents: 500, PriceCents: 1150, StockQuantity: 45, LowStockAlert: 6, TrackInventory: true, IsTaxable: true, IsActive: true},
	}
	for _, p := range seed {
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	cust := domain.Customer{
		ID:        "cust-regular",
		Phone:     "5550100",
		Email:     "regular@example.com",
		Name:      "Riley Regular",
		CreatedAt: now,
	}
	s.customers[cust.ID] = cust
	s.customersPhone[cust.Phone] = cust.ID

	s.seedUsers(now)
	return s
}

func (s *Store) seedUsers(now time.Time) {
	accounts := []struct {
		username string
		role     string
		envKey   string
		fallback string
	}{
		{"admin", "admin", "SEED_ADMIN_PASSWORD", "admin-dev-password"},
		{"cashier", "cashier", "SEED_CASHIER_PASSWORD", "cashier-dev-password"},
	}
	for _, acct := range accounts {
		password := os.Getenv(acct.envKey)
		if password == "" {
			password = acct.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		s.users[acct.username] = domain.UserAccount{
			Username:  acct.username,
			Password:  string(hash),
			Role:      acct.role,
			Active:    true,
			CreatedAt: now,
		}
	}
}

// --- Products ---

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.IsActive {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.SKU, b.SKU)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return domain.Product{}, fmt.Errorf("sku %s: %w", product.SKU, store.ErrDuplicate)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	// Stock is adjusted through AdjustStock or sales, never by update.
	product.StockQuantity = existing.StockQuantity
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return product, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, change int, reason string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	newQty := p.StockQuantity + change
	if newQty < 0 {
		return domain.Product{}, fmt.Errorf("product %s: %w", p.SKU, store.ErrInsufficientStock)
	}
	if reason == "" {
		reason = domain.InventoryReasonAdjustment
	}
	s.appendInventoryLogLocked(productID, "", change, p.StockQuantity, newQty, reason)
	p.StockQuantity = newQty
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return p, nil
}

func (s *Store) ListLowStock(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Product
	for _, p := range s.products {
		if p.TrackInventory && p.IsActive && p.StockQuantity <= p.LowStockAlert {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.SKU, b.SKU)
	})
	return result, nil
}

// --- Customers ---

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCustomerByPhone(_ context.Context, phone string) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customersPhone[phone]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	return s.customers[id], nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Phone != "" {
		if _, exists := s.customersPhone[customer.Phone]; exists {
			return domain.Customer{}, fmt.Errorf("phone %s: %w", customer.Phone, store.ErrDuplicate)
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	if customer.Phone != "" {
		s.customersPhone[customer.Phone] = customer.ID
	}
	return customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	// Aggregates belong to the sale/refund paths.
	customer.LoyaltyPoints = existing.LoyaltyPoints
	customer.TotalSpentCents = existing.TotalSpentCents
	customer.VisitCount = existing.VisitCount
	customer.LastVisitAt = existing.LastVisitAt
	customer.CreatedAt = existing.CreatedAt
	if existing.Phone != customer.Phone {
		if customer.Phone != "" {
			if _, exists := s.customersPhone[customer.Phone]; exists {
				return domain.Customer{}, fmt.Errorf("phone %s: %w", customer.Phone, store.ErrDuplicate)
			}
		}
		delete(s.customersPhone, existing.Phone)
		if customer.Phone != "" {
			s.customersPhone[customer.Phone] = customer.ID
		}
	}
	s.customers[customer.ID] = customer
	return customer, nil
}

// --- Shifts ---

func (s *Store) OpenShift(_ context.Context, shift domain.Shift) (domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.UserID == shift.UserID && existing.Status == domain.ShiftStatusOpen {
			return domain.Shift{}, store.ErrShiftAlreadyOpen
		}
	}
	shift.ID = xid.New("shift")
	shift.Status = domain.ShiftStatusOpen
	shift.OpenedAt = time.Now().UTC()
	s.shifts[shift.ID] = shift
	return shift, nil
}

func (s *Store) CloseShift(_ context.Context, userID string) (domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, shift := range s.shifts {
		if shift.UserID == userID && shift.Status == domain.ShiftStatusOpen {
			now := time.Now().UTC()
			shift.Status = domain.ShiftStatusClosed
			shift.ClosedAt = &now
			s.shifts[id] = shift
			return shift, nil
		}
	}
	return domain.Shift{}, store.ErrNoOpenShift
}

func (s *Store) CurrentShift(_ context.Context, userID string) (domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.UserID == userID && shift.Status == domain.ShiftStatusOpen {
			return shift, nil
		}
	}
	return domain.Shift{}, store.ErrNoOpenShift
}

// --- Sales ---

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.LocalID != "" {
		if existingID, ok := s.salesByLocalID[sale.LocalID]; ok {
			dup := cloneSale(s.sales[existingID])
			dup.Duplicate = true
			return dup, nil
		}
	}

	// Validate every line before mutating anything.
	for _, item := range sale.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return domain.Sale{}, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		if p.TrackInventory && p.StockQuantity < item.Quantity {
			return domain.Sale{}, fmt.Errorf("product %s has %d in stock, need %d: %w",
				p.SKU, p.StockQuantity, item.Quantity, store.ErrInsufficientStock)
		}
	}

	now := time.Now().UTC()
	sale.ID = xid.New("sale")
	sale.SaleNumber = s.nextSaleNumberLocked(now)
	sale.CreatedAt = now
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	for _, item := range sale.Items {
		p := s.products[item.ProductID]
		if !p.TrackInventory {
			continue
		}
		newQty := p.StockQuantity - item.Quantity
		s.appendInventoryLogLocked(p.ID, sale.ID, -item.Quantity, p.StockQuantity, newQty, domain.InventoryReasonSale)
		p.StockQuantity = newQty
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	if sale.CustomerID != "" {
		if c, ok := s.customers[sale.CustomerID]; ok {
			c.TotalSpentCents += sale.TotalCents
			c.VisitCount++
			c.LoyaltyPoints += sale.TotalCents / 100
			c.LastVisitAt = &now
			s.customers[c.ID] = c
		}
	}

	for id, shift := range s.shifts {
		if shift.UserID == sale.UserID && shift.Status == domain.ShiftStatusOpen {
			shift.TotalSalesCents += sale.TotalCents
			shift.TotalTransactions++
			s.shifts[id] = shift
			sale.ShiftID = id
			break
		}
	}

	s.sales[sale.ID] = cloneSale(sale)
	if sale.LocalID != "" {
		s.salesByLocalID[sale.LocalID] = sale.ID
	}
	return sale, nil
}

func (s *Store) GetSale(_ context.Context, id string) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByLocalID(_ context.Context, localID string) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByLocalID[localID]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	return cloneSale(s.sales[id]), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) RefundSale(_ context.Context, saleID string, refund domain.Refund, restock []domain.RefundItemRequest) (domain.Sale, domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return domain.Sale{}, domain.Refund{}, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, domain.Refund{}, fmt.Errorf("sale is %s: %w", sale.Status, store.ErrInvalidSale)
	}
	if refund.AmountCents <= 0 || refund.AmountCents > sale.TotalCents {
		return domain.Sale{}, domain.Refund{}, fmt.Errorf("refund amount out of range: %w", store.ErrInvalidSale)
	}
	sold := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		sold[item.ProductID] += item.Quantity
	}
	for _, line := range restock {
		if line.Quantity <= 0 || line.Quantity > sold[line.ProductID] {
			return domain.Sale{}, domain.Refund{}, fmt.Errorf("restock quantity for %s exceeds sold quantity: %w", line.ProductID, store.ErrInvalidSale)
		}
	}

	now := time.Now().UTC()
	for _, line := range restock {
		p, ok := s.products[line.ProductID]
		if !ok || !p.TrackInventory {
			continue
		}
		newQty := p.StockQuantity + line.Quantity
		s.appendInventoryLogLocked(p.ID, sale.ID, line.Quantity, p.StockQuantity, newQty, domain.InventoryReasonRefund)
		p.StockQuantity = newQty
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	if sale.CustomerID != "" {
		if c, ok := s.customers[sale.CustomerID]; ok {
			c.TotalSpentCents -= refund.AmountCents
			c.LoyaltyPoints -= refund.AmountCents / 100
			if c.TotalSpentCents < 0 {
				c.TotalSpentCents = 0
			}
			if c.LoyaltyPoints < 0 {
				c.LoyaltyPoints = 0
			}
			s.customers[c.ID] = c
		}
	}

	sale.Status = domain.SaleStatusRefunded
	s.sales[sale.ID] = sale

	refund.ID = xid.New("refund")
	refund.SaleID = sale.ID
	refund.CreatedAt = now
	s.refunds[refund.ID] = refund

	return cloneSale(sale), refund, nil
}

func (s *Store) VoidSale(_ context.Context, saleID string, reason string) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, fmt.Errorf("sale is %s: %w", sale.Status, store.ErrInvalidSale)
	}

	now := time.Now().UTC()
	for _, item := range sale.Items {
		p, ok := s.products[item.ProductID]
		if !ok || !p.TrackInventory {
			continue
		}
		newQty := p.StockQuantity + item.Quantity
		s.appendInventoryLogLocked(p.ID, sale.ID, item.Quantity, p.StockQuantity, newQty, domain.InventoryReasonVoid)
		p.StockQuantity = newQty
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	sale.Status = domain.SaleStatusVoided
	if reason != "" {
		sale.Notes = reason
	}
	s.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

// --- Holds ---

func (s *Store) CreateHold(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale.ID = xid.New("hold")
	sale.Status = domain.SaleStatusHold
	sale.CreatedAt = time.Now().UTC()
	s.holds[sale.ID] = cloneSale(sale)
	return sale, nil
}

func (s *Store) ListHolds(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.holds))
	for _, sale := range s.holds {
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) ResumeHold(_ context.Context, id string) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.holds[id]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	delete(s.holds, id)
	return cloneSale(sale), nil
}

// --- Inventory logs ---

func (s *Store) ListInventoryLogs(_ context.Context, productID string, limit int) ([]domain.InventoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.InventoryLog
	for i := len(s.inventoryLogs) - 1; i >= 0; i-- {
		entry := s.inventoryLogs[i]
		if productID != "" && entry.ProductID != productID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) appendInventoryLogLocked(productID, saleID string, change, prevQty, newQty int, reason string) {
	s.inventoryLogs = append(s.inventoryLogs, domain.InventoryLog{
		ID:          xid.New("invlog"),
		ProductID:   productID,
		SaleID:      saleID,
		Change:      change,
		PreviousQty: prevQty,
		NewQty:      newQty,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	})
}

// --- Users ---

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("username %s: %w", user.Username, store.ErrDuplicate)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.users[username] = u
	return nil
}

// --- helpers ---

func (s *Store) nextSaleNumberLocked(now time.Time) string {
	day := now.Format("20060102")
	s.saleCounters[day]++
	return fmt.Sprintf("SALE-%s-%04d", day, s.saleCounters[day])
}

func cloneSale(sale domain.Sale) domain.Sale {
	out := sale
	out.Items = slices.Clone(sale.Items)
	return out
}

func cmpString(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
