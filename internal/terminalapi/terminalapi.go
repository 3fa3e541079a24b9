// Package terminalapi is the loopback HTTP surface the POS UI talks
// to on the terminal itself: catalog reads from the local cache, sale
// capture into the pending queue, and sync-engine observability.
package terminalapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/local"
	"lumapos/backend/internal/syncer"
)

type Server struct {
	store          *local.Store
	engine         *syncer.Engine
	taxRatePercent float64
}

func NewServer(store *local.Store, engine *syncer.Engine, taxRatePercent float64) *Server {
	return &Server{store: store, engine: engine, taxRatePercent: taxRatePercent}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/products", s.handleProducts)
	mux.HandleFunc("GET /api/v1/products/barcode/{code}", s.handleProductByBarcode)
	mux.HandleFunc("GET /api/v1/customers", s.handleCustomers)
	mux.HandleFunc("GET /api/v1/customers/by-phone", s.handleCustomerByPhone)

	mux.HandleFunc("POST /api/v1/sales", s.handleCheckout)
	mux.HandleFunc("GET /api/v1/sales/pending", s.handlePendingSales)

	mux.HandleFunc("GET /api/v1/sync/status", s.handleSyncStatus)
	mux.HandleFunc("POST /api/v1/sync", s.handleManualSync)
	mux.HandleFunc("GET /api/v1/sync/logs", s.handleSyncLogs)
	mux.HandleFunc("POST /api/v1/connectivity", s.handleConnectivity)

	return logRequests(mux)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	products := s.store.SearchProducts(query)
	if products == nil {
		products = []domain.CachedProduct{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleProductByBarcode(w http.ResponseWriter, r *http.Request) {
	product, err := s.store.ProductByBarcode(r.PathValue("code"))
	if err != nil {
		writeError(w, http.StatusNotFound, "barcode not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleCustomers(w http.ResponseWriter, _ *http.Request) {
	customers := s.store.Customers()
	if customers == nil {
		customers = []domain.CachedCustomer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleCustomerByPhone(w http.ResponseWriter, r *http.Request) {
	customer, err := s.store.CustomerByPhone(r.URL.Query().Get("phone"))
	if err != nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// handleCheckout queues the sale locally; the sync engine pushes it to
// the server when connectivity allows. A local-store failure surfaces
// as an error rather than being swallowed, since a dropped pending sale
// is lost revenue.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	sale, err := s.store.CheckoutOffline(req, s.taxRatePercent)
	if err != nil {
		switch {
		case errors.Is(err, local.ErrEmptySale), errors.Is(err, local.ErrInvalidItem):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, local.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (s *Server) handlePendingSales(w http.ResponseWriter, _ *http.Request) {
	pending := s.store.PendingSales()
	if pending == nil {
		pending = []domain.PendingSale{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": s.store.PendingSaleCount(),
		"sales": pending,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ManualSync(r.Context()); err != nil {
		if errors.Is(err, syncer.ErrOffline) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// The cycle ran but did not complete; per-sale state is already
		// recorded in the local store.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, _ *http.Request) {
	logs := s.store.SyncLogs()
	if logs == nil {
		logs = []domain.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleConnectivity lets the host environment report online/offline
// transitions to the engine.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.engine.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[terminalapi] WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
