package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"xficredit/app"
	"xficredit/crypto"
	"xficredit/observability/metrics"
	"xficredit/services/ledgerd/journal"
)

// EventSource pages through the persisted event journal.
type EventSource interface {
	List(ctx context.Context, after uint64, limit int) ([]journal.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledgers        *app.Ledgers
	Journal        EventSource
	Hub            *Hub
	Auth           AuthConfig
	RateLimit      RateLimit
	OriginPatterns []string
	Logger         *slog.Logger
}

// Server exposes the ledgers over JSON/HTTP.
type Server struct {
	ledgers        *app.Ledgers
	journal        EventSource
	hub            *Hub
	auth           *Authenticator
	limiter        *RateLimiter
	originPatterns []string
	logger         *slog.Logger

	router http.Handler
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Ledgers == nil {
		return nil, errors.New("server: ledgers required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		ledgers:        cfg.Ledgers,
		journal:        cfg.Journal,
		hub:            cfg.Hub,
		auth:           NewAuthenticator(cfg.Auth, logger),
		limiter:        NewRateLimiter(cfg.RateLimit),
		originPatterns: cfg.OriginPatterns,
		logger:         logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/tokens", s.listTokens)

		api.Post("/yield/deposits", s.deposit)
		api.Post("/yield/positions/{id}/withdraw", s.withdraw)
		api.Post("/yield/positions/{id}/unstake", s.unstake)
		api.Post("/yield/claims/{token}", s.claim)
		api.Post("/yield/reserves", s.addReserves)
		api.Get("/yield/positions", s.listPositions)
		api.Get("/yield/stats", s.yieldStats)

		api.Post("/lending/loans", s.borrow)
		api.Get("/lending/loans", s.listLoans)
		api.Post("/lending/loans/{id}/repay", s.repay)
		api.Get("/lending/loans/{user}/{id}/due", s.loanDue)
		api.Post("/lending/liquidations", s.liquidate)
		api.Post("/lending/liquidations/batch", s.batchLiquidate)
		api.Post("/lending/pool", s.fundPool)
		api.Get("/lending/pools", s.listPools)

		api.Get("/credit/{user}", s.creditProfile)

		api.Get("/treasury", s.treasury)
		api.Post("/treasury/withdraw", s.treasuryWithdraw)

		api.Get("/events", s.listEvents)
		api.Get("/events/ws", s.handleStream)

		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/tokens/{token}", s.setTokenAllowed)
			admin.Post("/yield/parameters", s.updateYieldParams)
			admin.Post("/yield/emergency", s.initiateEmergency)
			admin.Delete("/yield/emergency", s.cancelEmergency)
			admin.Post("/yield/emergency/{token}/execute", s.executeEmergency)
			admin.Post("/credit/{user}", s.setScore)
			admin.Post("/lending/params", s.setLendingParam)
			admin.Post("/pause/{module}", s.pause)
			admin.Post("/unpause/{module}", s.unpause)
		})
	})

	return otelhttp.NewHandler(r, "ledgerd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// requestID tags every request with a UUID, reusing a client supplied
// X-Request-ID when it parses.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(chimw.RequestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		metrics.HTTP().ObserveRequest(route, status, time.Since(start))
		s.logger.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", chimw.GetReqID(r.Context()))
	})
}

// fail writes the mapped status for err. Internal errors are logged with the
// request id.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, errBadRequest) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
		return
	}
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", "action", action, "error", err, "requestId", chimw.GetReqID(r.Context()))
	}
	writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

// caller returns the authenticated address, writing 401 when absent.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "bearer token required"})
		return crypto.Address{}, false
	}
	return caller, true
}

func pathID(r *http.Request, name string) (uint64, error) {
	return parseUint(name, chi.URLParam(r, name))
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return value, nil
}

func (s *Server) listTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": s.ledgers.Registry.List()})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "journal_disabled"})
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	records, err := s.journal.List(r.Context(), uint64(after), limit)
	if err != nil {
		s.fail(w, r, "list_events", err)
		return
	}
	type eventView struct {
		Seq        uint64            `json:"seq"`
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
		CreatedAt  time.Time         `json:"createdAt"`
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		evt, err := rec.Event()
		if err != nil {
			s.fail(w, r, "list_events", err)
			return
		}
		out = append(out, eventView{Seq: rec.Seq, ID: rec.ID, Type: rec.Type, Attributes: evt.Attributes, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
