// Package admin exposes the local operator endpoints: liveness, Prometheus
// metrics, runtime stats, and the dead-letter journal. It binds to
// loopback by default and carries no authentication.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/journal"
	"github.com/sungwon/mail-agent/internal/queue"
	"github.com/sungwon/mail-agent/internal/scheduler"
)

// Server serves the local admin API.
type Server struct {
	version string
	queue   *queue.Queue
	sched   *scheduler.Scheduler
	journal *journal.Journal
	log     zerolog.Logger
}

// NewServer creates an admin Server. journal may be nil; the dead-letter
// endpoint then returns an empty list.
func NewServer(version string, q *queue.Queue, sched *scheduler.Scheduler, j *journal.Journal, log zerolog.Logger) *Server {
	return &Server{
		version: version,
		queue:   q,
		sched:   sched,
		journal: j,
		log:     log,
	}
}

// Router builds the chi router for the admin listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/dead-letters", s.handleDeadLetters)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.queue.Stats()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"state":      s.sched.State().String(),
		"queueSize":  stats.QueueSize,
		"heapAlloc":  stats.HeapAlloc,
		"goroutines": stats.Goroutines,
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.respondJSON(w, http.StatusOK, []journal.DeadLetter{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := s.journal.DeadLetters(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read dead letters")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal read failed"})
		return
	}
	if letters == nil {
		letters = []journal.DeadLetter{}
	}
	s.respondJSON(w, http.StatusOK, letters)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to write admin response")
	}
}

// ListenAndServe runs the admin listener until ctx is canceled, then shuts
// it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("admin listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
