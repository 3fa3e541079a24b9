// Package httpapi exposes the server REST API consumed by the admin UI
// and by the POS terminals' sync engines.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"lumapos/backend/internal/domain"
	"lumapos/backend/internal/service"
	"lumapos/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc           *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func NewServer(svc *service.Service, auth *AuthManager, allowedOrigin string) *Server {
	return &Server{
		svc:           svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(10, time.Minute),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.Handle("POST /api/v1/auth/cashiers", s.requireAuth(s.handleCreateCashier, "admin"))
	mux.Handle("GET /api/v1/auth/cashiers", s.requireAuth(s.handleListCashiers, "admin"))

	mux.Handle("GET /api/v1/products", s.requireAuth(s.handleListProducts))
	mux.Handle("POST /api/v1/products", s.requireAuth(s.handleCreateProduct, "admin"))
	mux.Handle("GET /api/v1/products/low-stock", s.requireAuth(s.handleLowStock))
	mux.Handle("GET /api/v1/products/{id}", s.requireAuth(s.handleGetProduct))
	mux.Handle("PUT /api/v1/products/{id}", s.requireAuth(s.handleUpdateProduct, "admin"))
	mux.Handle("POST /api/v1/products/{id}/stock", s.requireAuth(s.handleAdjustStock, "admin"))
	mux.Handle("GET /api/v1/products/{id}/inventory-logs", s.requireAuth(s.handleInventoryLogs))

	mux.Handle("GET /api/v1/customers", s.requireAuth(s.handleListCustomers))
	mux.Handle("POST /api/v1/customers", s.requireAuth(s.handleCreateCustomer))
	mux.Handle("GET /api/v1/customers/by-phone", s.requireAuth(s.handleCustomerByPhone))
	mux.Handle("GET /api/v1/customers/{id}", s.requireAuth(s.handleGetCustomer))
	mux.Handle("PUT /api/v1/customers/{id}", s.requireAuth(s.handleUpdateCustomer))

	mux.Handle("POST /api/v1/sales", s.requireAuth(s.handleCreateSale))
	mux.Handle("GET /api/v1/sales", s.requireAuth(s.handleListSales))
	mux.Handle("GET /api/v1/sales/held", s.requireAuth(s.handleHeldSales))
	mux.Handle("POST /api/v1/sales/held/{id}/resume", s.requireAuth(s.handleResumeHold))
	mux.Handle("GET /api/v1/sales/{id}", s.requireAuth(s.handleGetSale))
	mux.Handle("POST /api/v1/sales/{id}/refund", s.requireAuth(s.handleRefundSale))
	mux.Handle("POST /api/v1/sales/{id}/void", s.requireAuth(s.handleVoidSale))

	mux.Handle("POST /api/v1/shifts/open", s.requireAuth(s.handleOpenShift))
	mux.Handle("POST /api/v1/shifts/close", s.requireAuth(s.handleCloseShift))
	mux.Handle("GET /api/v1/shifts/current", s.requireAuth(s.handleCurrentShift))

	return s.withMiddleware(mux)
}

// --- middleware ---

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.allowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Manager-Pin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)

		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) requireAuth(next http.HandlerFunc, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := s.auth.ParseToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if len(roles) > 0 {
			allowed := false
			for _, role := range roles {
				if actor.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// requireManagerPIN gates the terminal sale transitions behind the
// supervisor PIN carried in a header.
func (s *Server) requireManagerPIN(w http.ResponseWriter, r *http.Request) bool {
	if s.auth.ValidateManagerPIN(r.Header.Get("X-Manager-Pin")) {
		return true
	}
	writeError(w, http.StatusForbidden, "manager pin required")
	return false
}

// --- auth handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.auth.CreateCashier(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListCashiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auth.ListCashiers())
}

// --- product handlers ---

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	products, err := s.svc.ListProducts(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := s.svc.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = r.PathValue("id")
	product, err := s.svc.UpdateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := s.svc.AdjustStock(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := s.svc.ListLowStock(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleInventoryLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := s.svc.InventoryLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []domain.InventoryLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- customer handlers ---

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.svc.ListCustomers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := s.svc.GetCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (s *Server) handleCustomerByPhone(w http.ResponseWriter, r *http.Request) {
	customer, err := s.svc.CustomerByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.Customer
	if !decodeJSON(w, r, &req) {
		return
	}
	customer, err := s.svc.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.Customer
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = r.PathValue("id")
	customer, err := s.svc.UpdateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// --- sale handlers ---

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := s.svc.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if sale.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, sale)
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sales, err := s.svc.ListSales(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	writeJSON(w, http.StatusOK, sales)
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleRefundSale(w http.ResponseWriter, r *http.Request) {
	if !s.requireManagerPIN(w, r) {
		return
	}
	var req domain.RefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, refund, err := s.svc.RefundSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale, "refund": refund})
}

func (s *Server) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	if !s.requireManagerPIN(w, r) {
		return
	}
	var req domain.VoidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sale, err := s.svc.VoidSale(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleHeldSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.svc.HeldSales(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	writeJSON(w, http.StatusOK, sales)
}

func (s *Server) handleResumeHold(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.ResumeHold(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// --- shift handlers ---

func (s *Server) handleOpenShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	shift, err := s.svc.OpenShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (s *Server) handleCloseShift(w http.ResponseWriter, r *http.Request) {
	shift, err := s.svc.CloseShift(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (s *Server) handleCurrentShift(w http.ResponseWriter, r *http.Request) {
	shift, err := s.svc.CurrentShift(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// --- plumbing ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[httpapi] WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		log.Printf("[httpapi] %d: %s", status, message)
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoOpenShift):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidSale),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrShiftAlreadyOpen):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInsufficientPayment):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// attemptLimiter is a fixed-window per-key counter used to slow down
// credential stuffing against the login endpoint.
type attemptLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string]*windowCount
}

type windowCount struct {
	start time.Time
	count int
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string]*windowCount),
	}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	wc, ok := l.attempts[key]
	if !ok || now.Sub(wc.start) > l.window {
		l.attempts[key] = &windowCount{start: now, count: 1}
		return true
	}
	wc.count++
	return wc.count <= l.limit
}
