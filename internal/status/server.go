package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/spend"
)

// Snapshot is the point-in-time state reported by GET /status.
type Snapshot struct {
	Busy        bool           `json:"busy"`
	Messages    int            `json:"messages"`
	ChunkTotal  int            `json:"chunk_total"`
	Spend       spend.Snapshot `json:"spend"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// SnapshotFunc produces the current snapshot. Called per request.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Server is the local status HTTP server: GET /status for a snapshot,
// GET /stream for the run-event WebSocket.
type Server struct {
	hub      *Hub
	snapshot SnapshotFunc
	limiter  *rate.Limiter
	srv      *http.Server
}

// NewServer creates a status server bound to the configured host/port.
func NewServer(cfg config.StatusConfig, snapshot SnapshotFunc) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	hub := NewHub([]string{addr})

	s := &Server{
		hub:      hub,
		snapshot: snapshot,
		// 10 req/s sustained with small bursts is plenty for a local
		// status page.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /status", s.rateLimited(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /stream", s.rateLimited(hub))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the server's mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Publish pushes a run event to stream clients.
func (s *Server) Publish(event, detail string) {
	s.hub.Broadcast(event, detail)
}

// Start runs the hub and the HTTP listener. Non-blocking.
func (s *Server) Start() {
	go s.hub.Run()
	go func() {
		log.Printf("status: listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: status: server failed: %v", err)
		}
	}()
}

// Stop shuts down the listener and the hub.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("WARNING: status: shutdown failed: %v", err)
	}
	s.hub.Stop()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.snapshot(r.Context())
	if err != nil {
		http.Error(w, `{"error":"snapshot failed"}`, http.StatusInternalServerError)
		return
	}
	snapshot.GeneratedAt = time.Now()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Printf("WARNING: status: failed to write snapshot: %v", err)
	}
}

// rateLimited enforces the request budget on a handler.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
