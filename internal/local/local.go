// Package local is the terminal-resident transactional store: the
// cached catalog mirror, the pending-sale queue, the sync log, and a
// small settings table. It is usable with no network at all.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumapos/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrEmptySale   = errors.New("sale has no items")
	ErrInvalidItem = errors.New("invalid sale item")
)

const (
	SettingProductsCachedAt  = "products_cached_at"
	SettingCustomersCachedAt = "customers_cached_at"
)

// Store holds every local table behind one mutex, so each operation is
// a single local transaction, including the multi-row ones (full cache
// replace, pending-sale insert plus stock decrement). When opened
// with a file path, the whole state is rewritten atomically
// (temp file + rename) after every mutation, so a crash can never leave
// a half-applied write on disk and pending sales survive restarts.
type Store struct {
	mu   sync.RWMutex
	path string

	products  map[string]domain.CachedProduct
	customers map[string]domain.CachedCustomer
	pending   map[string]domain.PendingSale
	logs      []domain.SyncLogEntry
	settings  map[string]string
	nextSeq   int64
	nextLogID int64
}

type persistentState struct {
	Products  []domain.CachedProduct  `json:"products"`
	Customers []domain.CachedCustomer `json:"customers"`
	Pending   []domain.PendingSale    `json:"pending"`
	Logs      []domain.SyncLogEntry   `json:"logs"`
	Settings  map[string]string       `json:"settings"`
	NextSeq   int64                   `json:"nextSeq"`
	NextLogID int64                   `json:"nextLogId"`
}

// New returns an ephemeral store with no on-disk backing. Used in tests
// and for network-only terminals.
func New() *Store {
	return &Store{
		products:  make(map[string]domain.CachedProduct),
		customers: make(map[string]domain.CachedCustomer),
		pending:   make(map[string]domain.PendingSale),
		settings:  make(map[string]string),
		nextSeq:   1,
		nextLogID: 1,
	}
}

// Open loads (or creates) a store persisted at path.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}
	var state persistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode local store: %w", err)
	}
	s.restoreLocked(state)
	return s, nil
}

// --- catalog cache ---

// CacheProducts replaces the entire cached product table. Readers never
// observe a half-replaced table: the swap happens under the write lock
// after the new rows are built.
func (s *Store) CacheProducts(products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	next := make(map[string]domain.CachedProduct, len(products))
	for _, p := range products {
		next[p.ID] = domain.CachedProduct{Product: p, SyncedAt: now}
	}

	backup := s.snapshotLocked()
	s.products = next
	s.settings[SettingProductsCachedAt] = now.Format(time.RFC3339)
	return s.commitLocked(backup)
}

// CacheCustomers replaces the entire cached customer table.
func (s *Store) CacheCustomers(customers []domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	next := make(map[string]domain.CachedCustomer, len(customers))
	for _, c := range customers {
		next[c.ID] = domain.CachedCustomer{Customer: c, SyncedAt: now}
	}

	backup := s.snapshotLocked()
	s.customers = next
	s.settings[SettingCustomersCachedAt] = now.Format(time.RFC3339)
	return s.commitLocked(backup)
}

func (s *Store) Products() []domain.CachedProduct {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CachedProduct, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.CachedProduct) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return result
}

// SearchProducts matches case-insensitively against name, SKU or
// barcode substrings.
func (s *Store) SearchProducts(query string) []domain.CachedProduct {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.Products()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.CachedProduct
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.SKU), q) ||
			(p.Barcode != "" && strings.Contains(strings.ToLower(p.Barcode), q)) {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.CachedProduct) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return result
}

func (s *Store) ProductByBarcode(barcode string) (domain.CachedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.Barcode != "" && p.Barcode == barcode {
			return p, nil
		}
	}
	return domain.CachedProduct{}, ErrNotFound
}

func (s *Store) Customers() []domain.CachedCustomer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CachedCustomer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.CachedCustomer) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return result
}

func (s *Store) CustomerByPhone(phone string) (domain.CachedCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.Phone == phone {
			return c, nil
		}
	}
	return domain.CachedCustomer{}, ErrNotFound
}

// --- pending-sale queue ---

// CheckoutOffline computes line math against the cached catalog and
// queues the sale in one transaction: insert, optimistic cached-stock
// decrement, sync-log entry. Unlike the server path it does not reject
// an underpaid cash sale; changeDue is clamped at zero and the sale is
// queued anyway, to be judged by the server during sync.
func (s *Store) CheckoutOffline(req domain.CreateSaleRequest, taxRatePercent float64) (domain.PendingSale, error) {
	if len(req.Items) == 0 {
		return domain.PendingSale{}, ErrEmptySale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale := domain.PendingSale{
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return domain.PendingSale{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidItem)
		}
		p, ok := s.products[line.ProductID]
		if !ok {
			return domain.PendingSale{}, fmt.Errorf("product %s not in local cache: %w", line.ProductID, ErrNotFound)
		}
		unit := line.UnitPriceCents
		if unit <= 0 {
			unit = p.PriceCents
		}
		lineSubtotal := unit * int64(line.Quantity)
		discount := line.DiscountCents
		if discount < 0 || discount > lineSubtotal {
			return domain.PendingSale{}, fmt.Errorf("discount out of range: %w", ErrInvalidItem)
		}
		taxBase := lineSubtotal - discount
		var tax int64
		if p.IsTaxable {
			tax = int64(math.Round(float64(taxBase) * taxRatePercent / 100))
		}
		sale.Items = append(sale.Items, domain.PendingSaleItem{
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: unit,
			DiscountCents:  discount,
			TaxCents:       tax,
			LineTotalCents: taxBase + tax,
		})
		sale.SubtotalCents += lineSubtotal
		sale.DiscountCents += discount
		sale.TaxCents += tax
	}
	sale.TotalCents = sale.SubtotalCents - sale.DiscountCents + sale.TaxCents
	sale.AmountPaidCents = req.AmountPaidCents
	sale.ChangeDueCents = max(0, req.AmountPaidCents-sale.TotalCents)

	return s.savePendingSaleLocked(sale)
}

// SavePendingSale inserts a pre-built pending sale. Exposed for callers
// that compute their own totals; CheckoutOffline is the usual entry.
func (s *Store) SavePendingSale(sale domain.PendingSale) (domain.PendingSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePendingSaleLocked(sale)
}

func (s *Store) savePendingSaleLocked(sale domain.PendingSale) (domain.PendingSale, error) {
	now := time.Now().UTC()
	if sale.LocalID == "" {
		sale.LocalID = uuid.NewString()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.Seq = s.nextSeq
	sale.State = domain.PendingStateQueued
	sale.SyncAttempts = 0

	backup := s.snapshotLocked()
	s.nextSeq++
	s.pending[sale.LocalID] = clonePending(sale)

	// Optimistic local decrement so the next sale on this terminal sees
	// reduced stock before the server confirms.
	for _, item := range sale.Items {
		p, ok := s.products[item.ProductID]
		if !ok || !p.TrackInventory {
			continue
		}
		p.StockQuantity -= item.Quantity
		s.products[item.ProductID] = p
	}

	s.appendLogLocked(domain.SyncLogEntry{
		Type:    domain.SyncLogTypeSale,
		Action:  domain.SyncLogActionCreate,
		LocalID: sale.LocalID,
		At:      now,
		Success: true,
	})

	if err := s.commitLocked(backup); err != nil {
		return domain.PendingSale{}, err
	}
	return sale, nil
}

// PendingSales returns every not-yet-synced sale (queued, failed and
// abandoned alike), oldest creation first.
func (s *Store) PendingSales() []domain.PendingSale {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.PendingSale
	for _, sale := range s.pending {
		if sale.Synced() {
			continue
		}
		result = append(result, clonePending(sale))
	}
	slices.SortFunc(result, func(a, b domain.PendingSale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.Seq - b.Seq)
	})
	return result
}

func (s *Store) PendingSaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.pending {
		if !sale.Synced() {
			count++
		}
	}
	return count
}

func (s *Store) PendingSale(localID string) (domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.pending[localID]
	if !ok {
		return domain.PendingSale{}, ErrNotFound
	}
	return clonePending(sale), nil
}

// MarkSaleSubmitting records that a sync attempt is in flight.
func (s *Store) MarkSaleSubmitting(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.pending[localID]
	if !ok {
		return ErrNotFound
	}
	backup := s.snapshotLocked()
	sale.State = domain.PendingStateSubmitting
	s.pending[localID] = sale
	return s.commitLocked(backup)
}

// MarkSaleSynced records the authoritative server identity. Idempotent:
// repeating it for an already-synced sale is a no-op.
func (s *Store) MarkSaleSynced(localID, serverID, saleNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.pending[localID]
	if !ok {
		return ErrNotFound
	}
	if sale.Synced() {
		return nil
	}
	now := time.Now().UTC()
	backup := s.snapshotLocked()
	sale.State = domain.PendingStateSynced
	sale.ServerID = serverID
	sale.ServerSaleNumber = saleNumber
	sale.LastSyncAttempt = &now
	sale.SyncError = ""
	s.pending[localID] = sale
	return s.commitLocked(backup)
}

// MarkSaleSyncFailed bumps the attempt counter and records the reason.
// The fifth failure moves the sale to abandoned; it stops being
// submitted but stays in the queue for an operator to inspect.
func (s *Store) MarkSaleSyncFailed(localID, reason string) (domain.PendingSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.pending[localID]
	if !ok {
		return domain.PendingSale{}, ErrNotFound
	}
	now := time.Now().UTC()
	backup := s.snapshotLocked()
	sale.SyncAttempts++
	sale.LastSyncAttempt = &now
	sale.SyncError = reason
	if sale.SyncAttempts >= domain.MaxSyncAttempts {
		sale.State = domain.PendingStateAbandoned
	} else {
		sale.State = domain.PendingStateFailed
	}
	s.pending[localID] = sale
	if err := s.commitLocked(backup); err != nil {
		return domain.PendingSale{}, err
	}
	return clonePending(sale), nil
}

// DeleteSyncedSales garbage-collects confirmed sales. Called
// periodically rather than on confirmation so a brief audit window
// exists.
func (s *Store) DeleteSyncedSales() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.snapshotLocked()
	removed := 0
	for id, sale := range s.pending {
		if sale.Synced() {
			delete(s.pending, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.commitLocked(backup); err != nil {
		return 0, err
	}
	return removed, nil
}

// --- sync log ---

func (s *Store) AppendSyncLog(entry domain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	backup := s.snapshotLocked()
	s.appendLogLocked(entry)
	return s.commitLocked(backup)
}

func (s *Store) appendLogLocked(entry domain.SyncLogEntry) {
	entry.ID = s.nextLogID
	s.nextLogID++
	s.logs = append(s.logs, entry)
}

func (s *Store) SyncLogs() []domain.SyncLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

// PruneSyncLogs drops entries older than the cutoff.
func (s *Store) PruneSyncLogs(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.snapshotLocked()
	kept := s.logs[:0:0]
	for _, entry := range s.logs {
		if !entry.At.Before(olderThan) {
			kept = append(kept, entry)
		}
	}
	removed := len(s.logs) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.logs = kept
	if err := s.commitLocked(backup); err != nil {
		return 0, err
	}
	return removed, nil
}

// --- settings ---

func (s *Store) Setting(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.settings[key]
	return val, ok
}

func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.snapshotLocked()
	s.settings[key] = value
	return s.commitLocked(backup)
}

// --- persistence ---

func (s *Store) snapshotLocked() persistentState {
	state := persistentState{
		Products:  make([]domain.CachedProduct, 0, len(s.products)),
		Customers: make([]domain.CachedCustomer, 0, len(s.customers)),
		Pending:   make([]domain.PendingSale, 0, len(s.pending)),
		Logs:      slices.Clone(s.logs),
		Settings:  make(map[string]string, len(s.settings)),
		NextSeq:   s.nextSeq,
		NextLogID: s.nextLogID,
	}
	for _, p := range s.products {
		state.Products = append(state.Products, p)
	}
	for _, c := range s.customers {
		state.Customers = append(state.Customers, c)
	}
	for _, sale := range s.pending {
		state.Pending = append(state.Pending, clonePending(sale))
	}
	for k, v := range s.settings {
		state.Settings[k] = v
	}
	return state
}

func (s *Store) restoreLocked(state persistentState) {
	s.products = make(map[string]domain.CachedProduct, len(state.Products))
	for _, p := range state.Products {
		s.products[p.ID] = p
	}
	s.customers = make(map[string]domain.CachedCustomer, len(state.Customers))
	for _, c := range state.Customers {
		s.customers[c.ID] = c
	}
	s.pending = make(map[string]domain.PendingSale, len(state.Pending))
	for _, sale := range state.Pending {
		s.pending[sale.LocalID] = sale
	}
	s.logs = state.Logs
	s.settings = state.Settings
	if s.settings == nil {
		s.settings = make(map[string]string)
	}
	s.nextSeq = state.NextSeq
	if s.nextSeq < 1 {
		s.nextSeq = 1
	}
	s.nextLogID = state.NextLogID
	if s.nextLogID < 1 {
		s.nextLogID = 1
	}
}

// commitLocked persists the current state, rolling back to the backup
// when the write fails so callers never silently lose a sale.
func (s *Store) commitLocked(backup persistentState) error {
	if s.path == "" {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		s.restoreLocked(backup)
		return fmt.Errorf("persist local store: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func clonePending(sale domain.PendingSale) domain.PendingSale {
	out := sale
	out.Items = slices.Clone(sale.Items)
	if sale.LastSyncAttempt != nil {
		t := *sale.LastSyncAttempt
		out.LastSyncAttempt = &t
	}
	return out
}
