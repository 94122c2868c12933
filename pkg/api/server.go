// Package api pkg/api/server.go is the HTTP surface of the monitor: the
// Prometheus exposition endpoint plus a small status API.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfreeman451/lokiwatch/pkg/db"
	"github.com/mfreeman451/lokiwatch/pkg/metrics"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	defaultStreamInterval = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// HistoryReader serves the cleanup audit history.
type HistoryReader interface {
	History(limit int) ([]db.CleanupRecord, error)
}

// Server exposes the exporter and history over HTTP.
type Server struct {
	exporter       *metrics.Exporter
	history        HistoryReader // may be nil
	router         *mux.Router
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	streamInterval time.Duration
}

// NewServer creates the HTTP server. history may be nil when the audit store
// is disabled.
func NewServer(exporter *metrics.Exporter, history HistoryReader) *Server {
	s := &Server{
		exporter: exporter,
		history:  history,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// The status feed carries no secrets; mirror the wide-open CORS
			// policy of the JSON endpoints.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		streamInterval: defaultStreamInterval,
	}

	s.setupRoutes()

	return s
}

// Router returns the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Add CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	s.router.Handle("/metrics",
		promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/healthz", s.getHealth).Methods("GET")
	s.router.HandleFunc("/api/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/api/cleanups", s.getCleanups).Methods("GET")
	s.router.HandleFunc("/api/status/ws", s.streamStatus).Methods("GET")
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ok\n")); err != nil {
		log.Printf("Error writing health response: %v", err)
	}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.exporter.Snapshot())
}

func (s *Server) getCleanups(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		limit = n
	}

	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if s.history == nil {
		s.writeJSON(w, []db.CleanupRecord{})
		return
	}

	records, err := s.history.History(limit)
	if err != nil {
		log.Printf("Error querying cleanup history: %v", err)
		http.Error(w, "failed to query history", http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, records)
}

// streamStatus upgrades to a websocket and pushes the usage snapshot until
// the client goes away.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Error closing websocket: %v", err)
		}
	}()

	// Read pump: we never expect messages, but reading is how we notice the
	// peer closing.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.exporter.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.exporter.Snapshot()); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// Start serves HTTP on addr and blocks until the server is shut down. A
// bind failure is the caller's unrecoverable startup error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}
