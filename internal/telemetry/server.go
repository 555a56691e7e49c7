package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/regimerun/internal/report"
)

// RunIndex keeps the summaries of finished runs for the HTTP API
type RunIndex struct {
	mu   sync.RWMutex
	runs map[string]report.Summary
	ids  []string // insertion order
}

// NewRunIndex creates an empty index
func NewRunIndex() *RunIndex {
	return &RunIndex{runs: make(map[string]report.Summary)}
}

// Put stores or replaces the summary under its run ID
func (ri *RunIndex) Put(s report.Summary) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if _, ok := ri.runs[s.RunID]; !ok {
		ri.ids = append(ri.ids, s.RunID)
	}
	ri.runs[s.RunID] = s
}

// Get returns the summary for id
func (ri *RunIndex) Get(id string) (report.Summary, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	s, ok := ri.runs[id]
	return s, ok
}

// List returns every summary in insertion order
func (ri *RunIndex) List() []report.Summary {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	out := make([]report.Summary, 0, len(ri.ids))
	for _, id := range ri.ids {
		out = append(out, ri.runs[id])
	}
	return out
}

// Len is the number of indexed runs
func (ri *RunIndex) Len() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.ids)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // Default: 127.0.0.1:9090, empty disables the server
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 10s
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // Default: 60s
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:9090", // Local-only by default
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only metrics and run-summary HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *Metrics
	runs    *RunIndex
	config  ServerConfig
	logger  zerolog.Logger
	started time.Time
	version string
}

// NewServer creates a new HTTP server instance
func NewServer(config ServerConfig, metrics *Metrics, runs *RunIndex, version string, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		metrics: metrics,
		runs:    runs,
		config:  config,
		logger:  logger,
		started: time.Now(),
		version: version,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.health).Methods("GET")
	api.HandleFunc("/runs", s.listRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.getRun).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
	})
}

// Handler exposes the router, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
	Runs      int       `json:"runs"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Version:   s.version,
		Runs:      s.runs.Len(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.List()
	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		runs = slices.DeleteFunc(runs, func(rs report.Summary) bool { return rs.Strategy != strategy })
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, ok := s.runs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run", "run_id": id})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type ctxKey struct{}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), ctxKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured fields
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(ctxKey{}).(string)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
