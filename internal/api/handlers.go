package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/abkawan/banka-ledger/internal/ratelimit"
	"github.com/abkawan/banka-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// APIPrefix is where the versioned routes are mounted.
const APIPrefix = "/api/v1"

// Handler is for handling api requests
type Handler struct {
	accountService     *service.AccountService
	transactionService *service.TransactionService
	auditService       *service.AuditService
	validate           *validator.Validate
}

func NewHandler(accountService *service.AccountService, transactionService *service.TransactionService, auditService *service.AuditService) *Handler {
	return &Handler{
		accountService:     accountService,
		transactionService: transactionService,
		auditService:       auditService,
		validate:           validator.New(),
	}
}

// Options configures the middleware around the routes.
type Options struct {
	Verifier       *auth.TokenVerifier
	AccountLimiter *ratelimit.Limiter
	AllowedOrigins []string
	RequestTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Only set it behind a proxy that overwrites those headers,
	// otherwise clients pick their own rate limit key.
	TrustProxyHeaders bool
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"data":   data,
	})
}

// for error response
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Printf("[%s] %s %s failed: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"kind":   kind,
		"error":  models.PublicMessage(err),
	})
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindUnauthenticated:
		return http.StatusUnauthorized
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindInactiveAccount, models.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

// decode reads the JSON body into dst and runs struct validation on it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.NewValidationError("invalid request payload")
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return models.NewValidationError(describeFieldError(fieldErrs[0]))
		}
		return models.NewValidationError("invalid request payload")
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

func accountNumberVar(r *http.Request) (int64, error) {
	n, err := strconv.ParseInt(mux.Vars(r)["accountNumber"], 10, 64)
	if err != nil || n <= 0 {
		return 0, models.NewValidationError("invalid account number")
	}
	return n, nil
}

// pagination reads limit and offset, falling back to the defaults on bad input.
func pagination(r *http.Request) (int, int) {
	// default limit is set to 10
	limit := 10
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}

	offset := 0
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sets up the API routes
func SetupRoutes(r *mux.Router, h *Handler, limiter *ratelimit.Limiter) {
	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	v1 := r.PathPrefix(APIPrefix).Subrouter()

	// Account routes
	v1.Handle("/accounts", limiter.Middleware(http.HandlerFunc(h.CreateAccount))).Methods("POST")
	v1.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	v1.HandleFunc("/accounts/{accountNumber}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{accountNumber}", h.UpdateAccountStatus).Methods("PATCH")
	v1.HandleFunc("/accounts/{accountNumber}", h.DeleteAccount).Methods("DELETE")
	v1.HandleFunc("/accounts/{accountNumber}/reconcile", h.ReconcileAccount).Methods("GET")

	// Transaction routes
	v1.HandleFunc("/transactions/{accountNumber}/credit", h.Credit).Methods("POST")
	v1.HandleFunc("/transactions/{accountNumber}/debit", h.Debit).Methods("POST")
	v1.HandleFunc("/transactions/{accountNumber}/transactions", h.GetTransactions).Methods("GET")
	v1.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")

	// Audit routes
	v1.HandleFunc("/audit-logs", h.GetAuditLogs).Methods("GET")
}

// NewRouter builds the routes and wraps them in the request middleware.
func NewRouter(h *Handler, opts Options) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, h, opts.AccountLimiter)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	chain := chi.Middlewares{middleware.RequestID}
	if opts.TrustProxyHeaders {
		chain = append(chain, middleware.RealIP)
	}
	return append(chain,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}),
		auth.Middleware(opts.Verifier),
	).Handler(router)
}
