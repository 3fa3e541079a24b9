package memory

import (
	"context"
	"errors"
	"testing"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/store"
)

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU001", Name: "Clone", PriceCents: 500})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	created, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU100", Name: "House Blend 250g", PriceCents: 650, IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("no id assigned")
	}
}

func TestCreateCustomerRejectsDuplicatePhone(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateCustomer(ctx, domain.Customer{Name: "Impostor", Phone: "5550100"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	// No phone means no uniqueness claim.
	if _, err := s.CreateCustomer(ctx, domain.Customer{Name: "Walk In"}); err != nil {
		t.Fatalf("create without phone: %v", err)
	}
}

func TestAdjustStockRejectsNegativeResult(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU200", Name: "Filters", PriceCents: 300, TrackInventory: true, IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.AdjustStock(ctx, p.ID, -1, "shrinkage"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	adjusted, err := s.AdjustStock(ctx, p.ID, 10, "delivery")
	if err != nil {
		t.Fatalf("adjust up: %v", err)
	}
	if adjusted.StockQuantity != 10 {
		t.Fatalf("stock = %d, want 10", adjusted.StockQuantity)
	}

	logs, err := s.ListInventoryLogs(ctx, p.ID, 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Change != 10 || logs[0].PreviousQty != 0 {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestShiftLifecyclePerUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	opened, err := s.OpenShift(ctx, domain.Shift{UserID: "cashier", OpeningFloatCents: 10000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.Status != domain.ShiftStatusOpen || opened.ID == "" {
		t.Fatalf("opened = %+v", opened)
	}

	if _, err := s.OpenShift(ctx, domain.Shift{UserID: "cashier"}); !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("second open err = %v, want ErrShiftAlreadyOpen", err)
	}

	// Another cashier's shift is independent.
	if _, err := s.OpenShift(ctx, domain.Shift{UserID: "other"}); err != nil {
		t.Fatalf("open for other user: %v", err)
	}

	current, err := s.CurrentShift(ctx, "cashier")
	if err != nil || current.ID != opened.ID {
		t.Fatalf("current = %+v err = %v", current, err)
	}

	closed, err := s.CloseShift(ctx, "cashier")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("closed = %+v", closed)
	}

	if _, err := s.CurrentShift(ctx, "cashier"); !errors.Is(err, store.ErrNoOpenShift) {
		t.Fatalf("current after close err = %v, want ErrNoOpenShift", err)
	}
	if _, err := s.CloseShift(ctx, "cashier"); !errors.Is(err, store.ErrNoOpenShift) {
		t.Fatalf("double close err = %v, want ErrNoOpenShift", err)
	}
}

func TestListLowStockHonorsThresholdAndFlags(t *testing.T) {
	s := New()
	ctx := context.Background()

	low, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU301", Name: "Oat Milk", PriceCents: 400, TrackInventory: true, IsActive: true, LowStockAlert: 5, StockQuantity: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU302", Name: "Whole Milk", PriceCents: 350, TrackInventory: true, IsActive: true, LowStockAlert: 5, StockQuantity: 50}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Untracked products never alert, however low their count.
	if _, err := s.CreateProduct(ctx, domain.Product{SKU: "SKU303", Name: "Gift Wrap", PriceCents: 100, IsActive: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := s.ListLowStock(ctx)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(result) != 1 || result[0].ID != low.ID {
		t.Fatalf("low stock = %+v", result)
	}
}
