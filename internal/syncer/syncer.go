// Package syncer reconciles the terminal's pending-sale queue with the
// server whenever connectivity allows, without double-submitting or
// losing a sale.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/local"
)

// ErrOffline is returned by ManualSync when the terminal has no
// connectivity; a manual trigger never silently queues.
var ErrOffline = errors.New("terminal is offline")

// Client is the server API surface the engine needs.
type Client interface {
	SubmitSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error)
	FetchProducts(ctx context.Context) ([]domain.Product, error)
	FetchCustomers(ctx context.Context) ([]domain.Customer, error)
}

type Options struct {
	// Interval between automatic sync cycles while online. Default 30s.
	Interval time.Duration
	// SubmitDelay spaces out consecutive sale submissions so a long
	// queue does not burst the server. Default 250ms.
	SubmitDelay time.Duration
	// LogRetention bounds the sync log. Default 7 days.
	LogRetention time.Duration
	// RequestTimeout caps each server call. Default 15s.
	RequestTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.SubmitDelay <= 0 {
		o.SubmitDelay = 250 * time.Millisecond
	}
	if o.LogRetention <= 0 {
		o.LogRetention = 7 * 24 * time.Hour
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
}

// Engine is constructed once by the composition root and owns its timer
// goroutine; Start and Stop bound its lifetime explicitly.
type Engine struct {
	store  *local.Store
	client Client
	opts   Options

	// isSyncing is the single-flight latch: only one sync cycle runs at
	// a time, and a concurrent trigger is a no-op. Enqueueing sales may
	// proceed concurrently with an in-flight cycle.
	isSyncing atomic.Bool

	mu         sync.Mutex
	online     bool
	state      string
	lastSyncAt *time.Time
	lastError  string

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *local.Store, client Client, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:  store,
		client: client,
		opts:   opts,
		state:  domain.SyncStateIdle,
		kick:   make(chan struct{}, 1),
	}
}

// Start launches the timer loop. The loop only fires while online.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop cancels the timer loop and waits for an in-flight cycle to wind
// down. In-flight network calls fail via their request timeouts rather
// than being force-cancelled mid-submission.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.Online() {
				e.SyncAll(ctx)
			}
		case <-e.kick:
			if e.Online() {
				e.SyncAll(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetOnline records a connectivity transition. Going online triggers an
// immediate cycle; going offline lets any in-flight work fail
// naturally.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if online && !was {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Status reports the engine's observable state for the UI layer.
func (e *Engine) Status() domain.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.SyncStatus{
		State:        e.state,
		Online:       e.online,
		PendingCount: e.store.PendingSaleCount(),
		LastSyncAt:   e.lastSyncAt,
		LastError:    e.lastError,
	}
}

// ManualSync runs a cycle immediately. It fails fast when offline and
// is a no-op when a cycle is already running.
func (e *Engine) ManualSync(ctx context.Context) error {
	if !e.Online() {
		return ErrOffline
	}
	return e.SyncAll(ctx)
}

// SyncAll runs one full cycle: drain the queue oldest-first, refresh
// both catalog caches, prune old sync logs, collect synced rows. The
// cycle outcome reflects whether the cycle itself completed; individual
// sale failures are recorded per sale and are not fatal.
func (e *Engine) SyncAll(ctx context.Context) error {
	if !e.isSyncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.isSyncing.Store(false)

	e.setState(domain.SyncStateSyncing, "")
	err := e.runCycle(ctx)
	now := time.Now().UTC()

	e.mu.Lock()
	e.lastSyncAt = &now
	if err != nil {
		e.state = domain.SyncStateError
		e.lastError = err.Error()
	} else {
		e.state = domain.SyncStateSuccess
		e.lastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		log.Printf("[syncer] cycle failed: %v", err)
	}
	return err
}

func (e *Engine) runCycle(ctx context.Context) error {
	pending := e.store.PendingSales()
	for i, sale := range pending {
		if sale.Abandoned() || sale.SyncAttempts >= domain.MaxSyncAttempts {
			continue
		}
		e.syncSale(ctx, sale)
		if i < len(pending)-1 {
			select {
			case <-time.After(e.opts.SubmitDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Cache refresh runs after the sales pass so a just-synced sale's
	// stock effect is picked up once the server has applied it.
	if err := e.refreshCaches(ctx); err != nil {
		return err
	}

	if _, err := e.store.PruneSyncLogs(time.Now().UTC().Add(-e.opts.LogRetention)); err != nil {
		return fmt.Errorf("prune sync logs: %w", err)
	}
	if removed, err := e.store.DeleteSyncedSales(); err != nil {
		return fmt.Errorf("collect synced sales: %w", err)
	} else if removed > 0 {
		log.Printf("[syncer] collected %d synced sales", removed)
	}
	return nil
}

func (e *Engine) syncSale(ctx context.Context, sale domain.PendingSale) {
	if err := e.store.MarkSaleSubmitting(sale.LocalID); err != nil {
		log.Printf("[syncer] WARN: mark submitting %s: %v", sale.LocalID, err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	resp, err := e.client.SubmitSale(reqCtx, submitPayload(sale))
	cancel()

	if err != nil {
		failed, markErr := e.store.MarkSaleSyncFailed(sale.LocalID, err.Error())
		if markErr != nil {
			log.Printf("[syncer] WARN: record failure for %s: %v", sale.LocalID, markErr)
			return
		}
		if logErr := e.store.AppendSyncLog(domain.SyncLogEntry{
			Type:    domain.SyncLogTypeSale,
			Action:  domain.SyncLogActionSync,
			LocalID: sale.LocalID,
			Success: false,
			Error:   err.Error(),
		}); logErr != nil {
			log.Printf("[syncer] WARN: append sync log: %v", logErr)
		}
		if failed.Abandoned() {
			log.Printf("[syncer] sale %s abandoned after %d attempts: %v", sale.LocalID, failed.SyncAttempts, err)
		}
		return
	}

	if err := e.store.MarkSaleSynced(sale.LocalID, resp.ID, resp.SaleNumber); err != nil {
		log.Printf("[syncer] WARN: mark synced %s: %v", sale.LocalID, err)
		return
	}
	if err := e.store.AppendSyncLog(domain.SyncLogEntry{
		Type:     domain.SyncLogTypeSale,
		Action:   domain.SyncLogActionSync,
		LocalID:  sale.LocalID,
		ServerID: resp.ID,
		Success:  true,
	}); err != nil {
		log.Printf("[syncer] WARN: append sync log: %v", err)
	}
}

func (e *Engine) refreshCaches(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	products, err := e.client.FetchProducts(reqCtx)
	if err != nil {
		return fmt.Errorf("refresh products: %w", err)
	}
	if err := e.store.CacheProducts(products); err != nil {
		return fmt.Errorf("cache products: %w", err)
	}

	customers, err := e.client.FetchCustomers(reqCtx)
	if err != nil {
		return fmt.Errorf("refresh customers: %w", err)
	}
	if err := e.store.CacheCustomers(customers); err != nil {
		return fmt.Errorf("cache customers: %w", err)
	}
	return nil
}

func (e *Engine) setState(state, lastError string) {
	e.mu.Lock()
	e.state = state
	e.lastError = lastError
	e.mu.Unlock()
}

// submitPayload strips local-only fields and carries the original
// client creation time through as offlineCreatedAt, with localId as the
// server-side idempotency key. It is stable across retries.
func submitPayload(sale domain.PendingSale) domain.CreateSaleRequest {
	created := sale.CreatedAt
	req := domain.CreateSaleRequest{
		LocalID:          sale.LocalID,
		CustomerID:       sale.CustomerID,
		PaymentMethod:    sale.PaymentMethod,
		AmountPaidCents:  sale.AmountPaidCents,
		Notes:            sale.Notes,
		OfflineCreatedAt: &created,
	}
	for _, item := range sale.Items {
		req.Items = append(req.Items, domain.SaleItemRequest{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			DiscountCents:  item.DiscountCents,
		})
	}
	return req
}
