package service

import (
	"context"
	"errors"
	"testing"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/store"
	"lumapos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, context.Context) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, nil, "main-store", 8.25, 0)
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	return svc, repo, ctx
}

func seededProductBySKU(t *testing.T, repo *memory.Store, sku string) domain.Product {
	t.Helper()
	products, err := repo.ListProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.SKU == sku {
			return p
		}
	}
	t.Fatalf("seed product %s missing", sku)
	return domain.Product{}
}

func TestCreateSaleComputesTax(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 2500,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.SubtotalCents != 2000 {
		t.Fatalf("subtotal = %d, want 2000", sale.SubtotalCents)
	}
	if sale.TaxCents != 165 {
		t.Fatalf("tax = %d, want 165", sale.TaxCents)
	}
	if sale.TotalCents != 2165 {
		t.Fatalf("total = %d, want 2165", sale.TotalCents)
	}
	if sale.ChangeDueCents != 335 {
		t.Fatalf("change = %d, want 335", sale.ChangeDueCents)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("status = %s, want %s", sale.Status, domain.SaleStatusCompleted)
	}
	if sale.SaleNumber == "" {
		t.Fatalf("sale number not assigned")
	}
}

func TestCreateSaleRejectsInsufficientPayment(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	// 2 x 10.00 at 8.25% tax totals 21.65; paying 20.00 must fail
	// before any mutation.
	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 2000,
	})
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("err = %v, want ErrInsufficientPayment", err)
	}

	after := seededProductBySKU(t, repo, "SKU001")
	if after.StockQuantity != espresso.StockQuantity {
		t.Fatalf("stock changed on rejected sale: %d -> %d", espresso.StockQuantity, after.StockQuantity)
	}
}

func TestCreateSaleRejectsInsufficientStockAtomically(t *testing.T) {
	svc, repo, ctx := newTestService(t)

	scarce, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "SCARCE", Name: "Scarce Item", PriceCents: 500,
		StockQuantity: 3, TrackInventory: true, IsTaxable: false, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:           []domain.SaleItemRequest{{ProductID: scarce.ID, Quantity: 4}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 5000,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	sales, err := repo.ListSales(ctx, 50)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("sale row created despite stock rejection")
	}
	logs, err := repo.ListInventoryLogs(ctx, scarce.ID, 50)
	if err != nil {
		t.Fatalf("list inventory logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("inventory log written despite stock rejection")
	}
	after, err := repo.GetProduct(ctx, scarce.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.StockQuantity != 3 {
		t.Fatalf("stock = %d, want 3", after.StockQuantity)
	}
}

func TestCreateSaleDeduplicatesOnLocalID(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	req := domain.CreateSaleRequest{
		LocalID:         "11111111-2222-3333-4444-555555555555",
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 2000,
	}
	first, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first submit flagged duplicate")
	}

	second, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("replay not flagged duplicate")
	}
	if second.ID != first.ID || second.SaleNumber != first.SaleNumber {
		t.Fatalf("replay returned a different sale: %s vs %s", second.ID, first.ID)
	}

	after := seededProductBySKU(t, repo, "SKU001")
	if after.StockQuantity != espresso.StockQuantity-1 {
		t.Fatalf("stock = %d, want a single decrement to %d", after.StockQuantity, espresso.StockQuantity-1)
	}
}

func TestCreateSaleUpdatesCustomerAndShiftAggregates(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	customer, err := repo.GetCustomerByPhone(ctx, "5550100")
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningFloatCents: 10000})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		CustomerID:      customer.ID,
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCard,
		AmountPaidCents: 2165,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.ShiftID != shift.ID {
		t.Fatalf("sale not attached to open shift")
	}

	gotCustomer, err := repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if gotCustomer.TotalSpentCents != 2165 {
		t.Fatalf("totalSpent = %d, want 2165", gotCustomer.TotalSpentCents)
	}
	if gotCustomer.LoyaltyPoints != 21 {
		t.Fatalf("loyaltyPoints = %d, want 21", gotCustomer.LoyaltyPoints)
	}
	if gotCustomer.VisitCount != 1 {
		t.Fatalf("visitCount = %d, want 1", gotCustomer.VisitCount)
	}
	if gotCustomer.LastVisitAt == nil {
		t.Fatalf("lastVisitAt not set")
	}

	gotShift, err := svc.CurrentShift(ctx)
	if err != nil {
		t.Fatalf("current shift: %v", err)
	}
	if gotShift.TotalSalesCents != 2165 {
		t.Fatalf("shift totalSales = %d, want 2165", gotShift.TotalSalesCents)
	}
	if gotShift.TotalTransactions != 1 {
		t.Fatalf("shift totalTransactions = %d, want 1", gotShift.TotalTransactions)
	}
}

func TestRefundReversesLoyaltyAndRestoresStock(t *testing.T) {
	svc, repo, ctx := newTestService(t)

	item, err := svc.CreateProduct(ctx, domain.Product{
		SKU: "BUNDLE", Name: "Tasting Bundle", PriceCents: 2500,
		StockQuantity: 10, TrackInventory: true, IsTaxable: false, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	customer, err := repo.GetCustomerByPhone(ctx, "5550100")
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	// 2 x 25.00 untaxed = 50.00, earning 50 points.
	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		CustomerID:      customer.ID,
		Items:           []domain.SaleItemRequest{{ProductID: item.ID, Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 5000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	got, err := repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if got.LoyaltyPoints != 50 {
		t.Fatalf("loyaltyPoints = %d, want 50", got.LoyaltyPoints)
	}

	refunded, refund, err := svc.RefundSale(ctx, sale.ID, domain.RefundRequest{
		AmountCents: 2000,
		Reason:      "one unit returned damaged",
		Items:       []domain.RefundItemRequest{{ProductID: item.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.SaleStatusRefunded {
		t.Fatalf("status = %s, want %s", refunded.Status, domain.SaleStatusRefunded)
	}
	if refund.AmountCents != 2000 {
		t.Fatalf("refund amount = %d, want 2000", refund.AmountCents)
	}

	got, err = repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if got.LoyaltyPoints != 30 {
		t.Fatalf("loyaltyPoints after refund = %d, want 30", got.LoyaltyPoints)
	}
	if got.TotalSpentCents != 3000 {
		t.Fatalf("totalSpent after refund = %d, want 3000", got.TotalSpentCents)
	}

	after, err := repo.GetProduct(ctx, item.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.StockQuantity != 9 {
		t.Fatalf("stock = %d, want 9 (8 after sale plus 1 restocked)", after.StockQuantity)
	}

	logs, err := repo.ListInventoryLogs(ctx, item.ID, 10)
	if err != nil {
		t.Fatalf("inventory logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("inventory log count = %d, want 2 (sale + refund)", len(logs))
	}
	if logs[0].Reason != domain.InventoryReasonRefund || logs[0].Change != 1 {
		t.Fatalf("latest log = %+v, want refund change +1", logs[0])
	}
}

func TestRefundRejectsTerminalStatesAndOverRefund(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 2000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, _, err := svc.RefundSale(ctx, sale.ID, domain.RefundRequest{AmountCents: sale.TotalCents + 1}); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("over-refund err = %v, want ErrInvalidSale", err)
	}

	if _, err := svc.VoidSale(ctx, sale.ID, "cashier error"); err != nil {
		t.Fatalf("void: %v", err)
	}
	if _, _, err := svc.RefundSale(ctx, sale.ID, domain.RefundRequest{AmountCents: 100}); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("refund of voided sale err = %v, want ErrInvalidSale", err)
	}
	if _, err := svc.VoidSale(ctx, sale.ID, "again"); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("double void err = %v, want ErrInvalidSale", err)
	}
}

func TestVoidRestoresStockWithoutCustomerAggregates(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")
	customer, err := repo.GetCustomerByPhone(ctx, "5550100")
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		CustomerID:      customer.ID,
		Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 3}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 5000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	spentAfterSale := sale.TotalCents

	voided, err := svc.VoidSale(ctx, sale.ID, "wrong register")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("status = %s, want %s", voided.Status, domain.SaleStatusVoided)
	}

	after := seededProductBySKU(t, repo, "SKU001")
	if after.StockQuantity != espresso.StockQuantity {
		t.Fatalf("stock = %d, want fully restored %d", after.StockQuantity, espresso.StockQuantity)
	}

	// Void is inventory-only; the customer keeps the sale's aggregates.
	got, err := repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if got.TotalSpentCents != spentAfterSale {
		t.Fatalf("totalSpent = %d, want untouched %d", got.TotalSpentCents, spentAfterSale)
	}
}

func TestHoldAndResume(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	held, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items: []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 1}},
		Hold:  true,
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Status != domain.SaleStatusHold {
		t.Fatalf("status = %s, want %s", held.Status, domain.SaleStatusHold)
	}

	// Parking a cart must not move inventory.
	after := seededProductBySKU(t, repo, "SKU001")
	if after.StockQuantity != espresso.StockQuantity {
		t.Fatalf("stock moved for a held sale")
	}

	holds, err := svc.HeldSales(ctx)
	if err != nil {
		t.Fatalf("list holds: %v", err)
	}
	if len(holds) != 1 {
		t.Fatalf("holds = %d, want 1", len(holds))
	}

	resumed, err := svc.ResumeHold(ctx, held.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != held.ID {
		t.Fatalf("resumed wrong hold")
	}
	if _, err := svc.ResumeHold(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second resume err = %v, want ErrNotFound", err)
	}
}

func TestSaleNumbersAreDateScopedAndSequential(t *testing.T) {
	svc, repo, ctx := newTestService(t)
	espresso := seededProductBySKU(t, repo, "SKU001")

	var numbers []string
	for i := 0; i < 3; i++ {
		sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
			Items:           []domain.SaleItemRequest{{ProductID: espresso.ID, Quantity: 1}},
			PaymentMethod:   domain.PaymentMethodCash,
			AmountPaidCents: 2000,
		})
		if err != nil {
			t.Fatalf("create sale %d: %v", i, err)
		}
		numbers = append(numbers, sale.SaleNumber)
	}
	for i, want := range []string{"-0001", "-0002", "-0003"} {
		if len(numbers[i]) < len(want) || numbers[i][len(numbers[i])-5:] != want {
			t.Fatalf("sale number %d = %s, want suffix %s", i, numbers[i], want)
		}
	}
}
