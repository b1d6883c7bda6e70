package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/FairForge/vaultscan/internal/config"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/metrics"
	"github.com/FairForge/vaultscan/internal/reports"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const version = "0.1.0"

// Scans is the part of the orchestrator the API drives
type Scans interface {
	Start(req scanner.Request) bool
	Abort()
	Snapshot() scanner.Snapshot
}

// Engine is the part of the engine pool the API reports on and configures
type Engine interface {
	Stats() engine.Stats
	SetDatabasePath(path string)
}

// DatabaseWatcher follows the database directory
type DatabaseWatcher interface {
	Retarget(dir string) error
}

// EventLog is the retained event history
type EventLog interface {
	Run(runID string) []events.Event
	Replay(from, to time.Time) []events.Event
}

// Deps are the collaborators a Server needs. Watcher, Events and Metrics
// may be nil.
type Deps struct {
	Config  *config.Config
	Scans   Scans
	Engine  Engine
	Reports reports.Store
	Watcher DatabaseWatcher
	Events  EventLog
	Metrics *metrics.Metrics
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	scans      Scans
	engine     Engine
	reports    reports.Store
	watcher    DatabaseWatcher
	events     EventLog
	metrics    *metrics.Metrics
	limiter    *RateLimiter

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    deps.Config,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
		scans:     deps.Scans,
		engine:    deps.Engine,
		reports:   deps.Reports,
		watcher:   deps.Watcher,
		events:    deps.Events,
		metrics:   deps.Metrics,
		limiter:   NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter))

		r.Post("/scans", s.handleStartScan)
		r.Get("/scans/current", s.handleCurrentScan)
		r.Delete("/scans/current", s.handleAbortScan)
		r.Get("/scans/{id}/events", s.handleRunEvents)
		r.Get("/events", s.handleReplayEvents)

		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)

		r.Get("/profiles", s.handleListProfiles)

		r.Get("/engine", s.handleEngineStatus)
		r.Put("/engine/database", s.handleSetDatabase)
	})
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"version":  version,
		"uptime":   time.Since(s.startTime).Seconds(),
		"running":  s.scans.Snapshot().Running,
		"requests": atomic.LoadInt64(&s.requestCount),
		"errors":   atomic.LoadInt64(&s.errorCount),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"version": version,
		"go":      runtime.Version(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			atomic.AddInt64(&s.errorCount, 1)
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
