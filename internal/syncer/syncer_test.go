package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/local"
)

type fakeClient struct {
	mu           sync.Mutex
	submitted    []domain.CreateSaleRequest
	submitErr    error
	fetchErr     error
	products     []domain.Product
	customers    []domain.Customer
	fetchCalls   int
	nextID       int
	blockEntered chan struct{}
	blockRelease chan struct{}
}

func (f *fakeClient) SubmitSale(_ context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	if f.blockEntered != nil {
		f.blockEntered <- struct{}{}
		<-f.blockRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.Sale{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	f.nextID++
	return domain.Sale{
		ID:         fmt.Sprintf("sale-%03d", f.nextID),
		SaleNumber: fmt.Sprintf("SALE-20260831-%04d", f.nextID),
		LocalID:    req.LocalID,
		Status:     domain.SaleStatusCompleted,
	}, nil
}

func (f *fakeClient) FetchProducts(_ context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.products, nil
}

func (f *fakeClient) FetchCustomers(_ context.Context) ([]domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.customers, nil
}

func (f *fakeClient) submittedSales() []domain.CreateSaleRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CreateSaleRequest(nil), f.submitted...)
}

func newTestEngine(t *testing.T, client Client) (*Engine, *local.Store) {
	t.Helper()
	store := local.New()
	engine := New(store, client, Options{
		Interval:    time.Hour,
		SubmitDelay: time.Millisecond,
	})
	engine.SetOnline(true)
	return engine, store
}

func enqueue(t *testing.T, store *local.Store, productID string, qty int) domain.PendingSale {
	t.Helper()
	sale, err := store.CheckoutOffline(domain.CreateSaleRequest{
		Items:           []domain.SaleItemRequest{{ProductID: productID, Quantity: qty}},
		PaymentMethod:   domain.PaymentMethodCash,
		AmountPaidCents: 100000,
	}, 8.25)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return sale
}

func cacheCatalog(t *testing.T, store *local.Store) {
	t.Helper()
	err := store.CacheProducts([]domain.Product{
		{ID: "p1", SKU: "SKU001", Name: "Espresso Beans 1kg", PriceCents: 1000, StockQuantity: 50, TrackInventory: true, IsTaxable: true, IsActive: true},
		{ID: "p2", SKU: "SKU002", Name: "Drip Grind 500g", PriceCents: 750, StockQuantity: 50, TrackInventory: true, IsTaxable: true, IsActive: true},
	})
	if err != nil {
		t.Fatalf("cache catalog: %v", err)
	}
}

func TestSyncAllDrainsQueueInCreationOrder(t *testing.T) {
	client := &fakeClient{
		products: []domain.Product{{ID: "p1", SKU: "SKU001", Name: "Espresso Beans 1kg", StockQuantity: 47}},
	}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)

	first := enqueue(t, store, "p1", 1)
	time.Sleep(2 * time.Millisecond)
	second := enqueue(t, store, "p2", 1)

	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("syncAll: %v", err)
	}

	submitted := client.submittedSales()
	if len(submitted) != 2 {
		t.Fatalf("submitted = %d, want 2", len(submitted))
	}
	if submitted[0].LocalID != first.LocalID || submitted[1].LocalID != second.LocalID {
		t.Fatalf("submissions out of creation order")
	}
	if submitted[0].OfflineCreatedAt == nil || !submitted[0].OfflineCreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("offlineCreatedAt not carried through")
	}

	// Synced rows are collected at the end of the cycle; the success log
	// carries the server id that was assigned.
	if store.PendingSaleCount() != 0 {
		t.Fatalf("pending count = %d after sync, want 0", store.PendingSaleCount())
	}
	var firstLog domain.SyncLogEntry
	for _, entry := range store.SyncLogs() {
		if entry.LocalID == first.LocalID && entry.Action == domain.SyncLogActionSync && entry.Success {
			firstLog = entry
		}
	}
	if !firstLog.Success || firstLog.ServerID == "" {
		t.Fatalf("no success log with a server id for %s", first.LocalID)
	}

	// The cache refresh after the sales pass is a full replace from the
	// server's listing.
	products := store.Products()
	if len(products) != 1 || products[0].StockQuantity != 47 {
		t.Fatalf("cache not refreshed from server: %+v", products)
	}

	status := engine.Status()
	if status.State != domain.SyncStateSuccess {
		t.Fatalf("state = %s, want success", status.State)
	}
	if status.LastSyncAt == nil {
		t.Fatalf("lastSyncAt not recorded")
	}
}

func TestSyncAllRecordsFailuresAndAbandonsAtCap(t *testing.T) {
	client := &fakeClient{submitErr: errors.New("connection refused")}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)
	sale := enqueue(t, store, "p1", 1)

	for cycle := 0; cycle < domain.MaxSyncAttempts; cycle++ {
		// Individual sale failures never fail the cycle itself.
		if err := engine.SyncAll(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}

	got, err := store.PendingSale(sale.LocalID)
	if err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if got.SyncAttempts != 5 {
		t.Fatalf("attempts = %d, want 5", got.SyncAttempts)
	}
	if !got.Abandoned() {
		t.Fatalf("state = %s, want abandoned", got.State)
	}
	if store.PendingSaleCount() != 1 {
		t.Fatalf("abandoned sale left the pending count")
	}

	// The next cycle must skip it entirely.
	client.mu.Lock()
	client.submitErr = nil
	client.mu.Unlock()
	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("post-abandon cycle: %v", err)
	}
	if len(client.submittedSales()) != 0 {
		t.Fatalf("abandoned sale was submitted again")
	}

	failures := 0
	for _, entry := range store.SyncLogs() {
		if entry.Action == domain.SyncLogActionSync && !entry.Success {
			failures++
		}
	}
	if failures != 5 {
		t.Fatalf("failure log entries = %d, want 5", failures)
	}
}

func TestSyncAllIsSingleFlight(t *testing.T) {
	client := &fakeClient{
		blockEntered: make(chan struct{}),
		blockRelease: make(chan struct{}),
	}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)
	enqueue(t, store, "p1", 1)

	done := make(chan error, 1)
	go func() {
		done <- engine.SyncAll(context.Background())
	}()
	<-client.blockEntered

	// A second trigger while the first cycle is mid-submission must be
	// a no-op, not a second cycle.
	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("concurrent syncAll: %v", err)
	}
	if err := engine.ManualSync(context.Background()); err != nil {
		t.Fatalf("concurrent manualSync: %v", err)
	}

	close(client.blockRelease)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	client.mu.Lock()
	calls := client.fetchCalls
	client.mu.Unlock()
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want exactly one cycle's refresh", calls)
	}
	if len(client.submittedSales()) != 1 {
		t.Fatalf("sale submitted more than once")
	}
}

func TestManualSyncFailsFastWhenOffline(t *testing.T) {
	client := &fakeClient{}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)
	enqueue(t, store, "p1", 1)

	engine.SetOnline(false)
	if err := engine.ManualSync(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if len(client.submittedSales()) != 0 {
		t.Fatalf("offline manual sync still submitted")
	}
}

func TestCycleReportsErrorWhenCacheRefreshFails(t *testing.T) {
	client := &fakeClient{fetchErr: errors.New("listing unavailable")}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)
	sale := enqueue(t, store, "p1", 1)

	err := engine.SyncAll(context.Background())
	if err == nil {
		t.Fatalf("cycle succeeded despite refresh failure")
	}

	// The sale itself synced before the refresh step broke.
	got, loadErr := store.PendingSale(sale.LocalID)
	if loadErr != nil {
		t.Fatalf("load sale: %v", loadErr)
	}
	if !got.Synced() {
		t.Fatalf("sale state = %s, want synced", got.State)
	}

	status := engine.Status()
	if status.State != domain.SyncStateError {
		t.Fatalf("state = %s, want error", status.State)
	}
	if status.LastError == "" {
		t.Fatalf("lastError empty")
	}
}

func TestSyncAllCollectsSyncedSalesAndPrunesLogs(t *testing.T) {
	client := &fakeClient{}
	engine, store := newTestEngine(t, client)
	cacheCatalog(t, store)
	sale := enqueue(t, store, "p1", 1)

	stale := time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := store.AppendSyncLog(domain.SyncLogEntry{
		Type: domain.SyncLogTypeSale, Action: domain.SyncLogActionSync, At: stale, Success: false, Error: "old noise",
	}); err != nil {
		t.Fatalf("append stale log: %v", err)
	}

	// One cycle syncs the sale, garbage-collects the synced row, and
	// prunes logs past retention.
	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if _, err := store.PendingSale(sale.LocalID); !errors.Is(err, local.ErrNotFound) {
		t.Fatalf("synced sale not collected")
	}
	for _, entry := range store.SyncLogs() {
		if entry.Error == "old noise" {
			t.Fatalf("stale log entry survived pruning")
		}
	}
}
