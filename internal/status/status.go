// Package status serves the sync agent's health and status endpoints.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/coordinator"
	"github.com/bacoco/DevFlow-sub010/internal/protocol"
	"github.com/bacoco/DevFlow-sub010/internal/recorder"
	"github.com/bacoco/DevFlow-sub010/internal/version"
)

// Connection is the view of the connection manager served here.
type Connection interface {
	State() connection.State
	ConnectionID() string
	ReconnectAttempts() int
	Subscriptions() []protocol.Subscription
}

// Sync is the view of the sync coordinator served here.
type Sync interface {
	ConnectionStatus() coordinator.Status
	LastSyncTime() time.Time
}

// Pinger checks a dependency. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecorderStats reports recorder counters.
type RecorderStats interface {
	Stats() recorder.Metrics
}

// Handler serves /health, /status and /subscriptions.
type Handler struct {
	conn     Connection
	sync     Sync
	db       Pinger
	recorder RecorderStats
	logger   *slog.Logger
	started  time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithDatabase adds a database ping to /health.
func WithDatabase(db Pinger) Option {
	return func(h *Handler) { h.db = db }
}

// WithRecorder adds recorder counters to /status.
func WithRecorder(r RecorderStats) Option {
	return func(h *Handler) { h.recorder = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates a Handler.
func NewHandler(conn Connection, sync Sync, opts ...Option) *Handler {
	h := &Handler{
		conn:    conn,
		sync:    sync,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "status")
	return h
}

// Router returns a chi router with every route registered.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the status routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/subscriptions", h.Subscriptions)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	State    string `json:"state"`
	Database string `json:"database,omitempty"`
}

// Health returns 200 while the sync connection is up and the database (if
// any) answers, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", State: h.conn.State().String()}
	code := http.StatusOK

	if h.conn.State() != connection.StateConnected {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("database ping failed", "error", err)
			resp.Database = "unreachable"
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, code, resp)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	coordinator.Status
	State             string            `json:"state"`
	ConnectionID      string            `json:"connectionId,omitempty"`
	ReconnectAttempts int               `json:"reconnectAttempts"`
	LastSyncTime      *time.Time        `json:"lastSyncTime,omitempty"`
	Recorder          *recorder.Metrics `json:"recorder,omitempty"`
	Version           string            `json:"version"`
	UptimeSeconds     float64           `json:"uptimeSeconds"`
}

// Status reports connection, sync and recorder state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:            h.sync.ConnectionStatus(),
		State:             h.conn.State().String(),
		ConnectionID:      h.conn.ConnectionID(),
		ReconnectAttempts: h.conn.ReconnectAttempts(),
		Version:           version.Short(),
		UptimeSeconds:     time.Since(h.started).Seconds(),
	}
	if last := h.sync.LastSyncTime(); !last.IsZero() {
		resp.LastSyncTime = &last
	}
	if h.recorder != nil {
		stats := h.recorder.Stats()
		resp.Recorder = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// SubscriptionsResponse is the body of GET /subscriptions.
type SubscriptionsResponse struct {
	Subscriptions []protocol.Subscription `json:"subscriptions"`
}

// Subscriptions lists the tracked subscriptions.
func (h *Handler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.conn.Subscriptions()
	if subs == nil {
		subs = []protocol.Subscription{}
	}
	writeJSON(w, http.StatusOK, SubscriptionsResponse{Subscriptions: subs})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Server runs the status handler on a TCP port.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a Server listening on port.
func NewServer(port int, h *Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: h.logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
