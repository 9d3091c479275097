package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"oracleescrow/internal/config"
	"oracleescrow/internal/escrow"
	"oracleescrow/internal/hmacauth"
	"oracleescrow/internal/idempotency"
)

// EscrowService is the escrow session the API drives. *escrow.Session
// implements it.
type EscrowService interface {
	State(ctx context.Context) (escrow.State, error)
	Deposit(ctx context.Context, amount *big.Int) (*types.Receipt, error)
	Execute(ctx context.Context, role escrow.Role) (*types.Receipt, error)
	UpdateOracle(ctx context.Context, value string) (*types.Receipt, error)
	Ping(ctx context.Context) error
}

type Server struct {
	cfg        *config.AppConfig
	escrow     EscrowService
	guard      *idempotency.Guard
	hmac       *hmacauth.Verifier
	limiter    *rate.Limiter
	validate   *payloadValidator
	logger     *slog.Logger
	httpServer *http.Server
	metrics    *metricsRegistry
	dbHealthFn func(context.Context) error
	inflight   sync.Map
}

func NewServer(cfg *config.AppConfig, esc EscrowService, store idempotency.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:    cfg,
		escrow: esc,
		guard: &idempotency.Guard{
			Store:  store,
			Salt:   cfg.Service.IdempotencyKeySalt,
			Window: cfg.Service.IdempotencyWindow,
		},
		hmac: &hmacauth.Verifier{
			Secret:       cfg.Service.HMACSecret,
			MaxSkew:      cfg.Service.HMACClockSkew,
			MaxBodyBytes: maxBodyBytes,
			OnReject: func(r *http.Request, err error) {
				metrics.incAuthFailure()
				logger.Warn("rejected request signature", "path", r.URL.Path, "err", err)
			},
		},
		limiter:  newLimiter(cfg.Service.RateLimitPerSecond, cfg.Service.RateLimitBurst),
		validate: newPayloadValidator(),
		logger:   logger.With("component", "api"),
		metrics:  metrics,
	}
	if checker, ok := store.(escrow.HealthChecker); ok {
		s.dbHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the API routes wrapped in the request id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/escrow", methodGuard(http.MethodGet, http.HandlerFunc(s.handleState)))
	mux.Handle("/api/v1/escrow/deposit", s.post(routeDeposit, s.handleDeposit))
	mux.Handle("/api/v1/escrow/execute", s.post(routeExecute, s.handleExecute))
	mux.Handle("/api/v1/oracle", s.post(routeOracle, s.handleOracleUpdate))
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	return requestIDMiddleware(mux)
}

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// post wraps a mutating route: method check, rate limit, signature, then idempotency.
func (s *Server) post(route string, h actionFunc) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serveIdempotent(w, r, route, h)
	})
	return methodGuard(http.MethodPost, s.rateLimit(route, s.hmac.Middleware(inner)))
}

func newLimiter(perSecond, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (s *Server) rateLimit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.incRequest(route, http.StatusTooManyRequests)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func methodGuard(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = fmt.Sprintf("%d", time.Now().UnixNano())
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
