// Package web serves a read-only JSON view of forge runs and analytics.
package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucasnoah/codeforge/internal/analytics"
	"github.com/lucasnoah/codeforge/internal/pipeline"
)

// Server is the read-only API server.
type Server struct {
	store  *pipeline.Store
	db     analytics.DB // nil disables timeline and analytics endpoints
	port   int
	poll   time.Duration
	logger *slog.Logger
}

// NewServer creates a Server. database may be nil.
func NewServer(store *pipeline.Store, database analytics.DB, port int) *Server {
	return &Server{
		store:  store,
		db:     database,
		port:   port,
		poll:   2 * time.Second,
		logger: slog.Default(),
	}
}

// SetLogger sets the request logger.
func (s *Server) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/stream", s.handleRunStream)
	mux.HandleFunc("GET /api/runs/{id}/tasks/{task}/{file}", s.handleTaskFile)
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	return s.logRequests(mux)
}

// Start listens on the configured port until the server fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("serving", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
