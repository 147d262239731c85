package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/metrics"
	"github.com/JakeFAU/novel-crawler/internal/orchestrator"
)

// PoolStats lists live sessions.
type PoolStats interface {
	All() []browser.Stats
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger func(ctx context.Context) error

// RunTracker records the state of the current or most recent run.
type RunTracker struct {
	mu     sync.RWMutex
	clock  crawler.Clock
	status RunStatus
}

// RunStatus is the /v1/run payload.
type RunStatus struct {
	Running    bool                  `json:"running"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	FinishedAt time.Time             `json:"finished_at,omitzero"`
	Summary    *orchestrator.Summary `json:"summary,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// NewRunTracker returns an idle tracker.
func NewRunTracker(clock crawler.Clock) *RunTracker {
	return &RunTracker{clock: clock}
}

// Start marks a run as in progress.
func (t *RunTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = RunStatus{Running: true, StartedAt: t.clock.Now()}
}

// Finish records the run outcome.
func (t *RunTracker) Finish(sum orchestrator.Summary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	t.status.FinishedAt = t.clock.Now()
	t.status.Summary = &sum
	if err != nil {
		t.status.Error = err.Error()
	}
}

// Status returns a snapshot.
func (t *RunTracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Server wires HTTP handlers to the pool and run tracker.
type Server struct {
	router chi.Router
	pool   PoolStats
	runs   *RunTracker
	ready  Pinger
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(pool PoolStats, runs *RunTracker, ready Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pool:   pool,
		runs:   runs,
		ready:  ready,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.poolStats)
		r.Get("/run", s.runStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) poolStats(w http.ResponseWriter, _ *http.Request) {
	stats := []browser.Stats{}
	if s.pool != nil {
		stats = append(stats, s.pool.All()...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": stats})
}

func (s *Server) runStatus(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		s.writeJSON(w, http.StatusOK, RunStatus{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.runs.Status())
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
