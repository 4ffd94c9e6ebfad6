// Package server exposes the operational HTTP API: manual clustering and
// assignment triggers, enrichment dispatch, topic inspection, and health.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/topica/internal/assign"
	"github.com/thebtf/topica/internal/cluster"
	"github.com/thebtf/topica/internal/enrich"
	"github.com/thebtf/topica/pkg/models"
)

// TopicReader serves read-only topic queries.
type TopicReader interface {
	ActiveTopics(ctx context.Context, date time.Time) ([]*models.Topic, error)
	PendingArticles(ctx context.Context) ([]*models.PendingArticle, error)
}

// Pinger reports backend connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service is the operational HTTP service.
type Service struct {
	clusterer  *cluster.Clusterer
	assigner   *assign.Assigner
	dispatcher *enrich.Dispatcher
	topics     TopicReader
	db         Pinger
	lookback   time.Duration

	router chi.Router
	ready  atomic.Bool
}

// New creates the service and mounts its routes.
func New(clusterer *cluster.Clusterer, assigner *assign.Assigner, dispatcher *enrich.Dispatcher, topics TopicReader, db Pinger, lookback time.Duration) *Service {
	s := &Service{
		clusterer:  clusterer,
		assigner:   assigner,
		dispatcher: dispatcher,
		topics:     topics,
		db:         db,
		lookback:   lookback,
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the mounted router.
func (s *Service) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/cluster/{date}", s.handleCluster)
		r.Post("/assign", s.handleAssign)
		r.Post("/enrich/{date}", s.handleEnrich)
		r.Get("/topics/{date}", s.handleTopics)
		r.Get("/pending", s.handlePending)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleCluster triggers a batch clustering run for the date in the path.
// Optional query parameters override the configured algorithm and topic
// counts for this run only.
func (s *Service) handleCluster(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	ov := cluster.Overrides{Algorithm: r.URL.Query().Get("algorithm")}
	if v := r.URL.Query().Get("topics"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid topics parameter")
			return
		}
		ov.K = n
	}
	if v := r.URL.Query().Get("min_topics"); v != "" {
		if ov.MinTopics, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_topics parameter")
			return
		}
	}
	if v := r.URL.Query().Get("max_topics"); v != "" {
		if ov.MaxTopics, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_topics parameter")
			return
		}
	}

	result, err := s.clusterer.Run(r.Context(), date, ov)
	if err != nil {
		if errors.Is(err, cluster.ErrInsufficientData) {
			writeError(w, http.StatusConflict, "not enough embedded articles to cluster")
			return
		}
		log.Error().Err(err).Msg("Manual clustering failed")
		writeError(w, http.StatusInternalServerError, "clustering failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAssign triggers one incremental assignment pass. since_minutes
// widens the lookback window; threshold overrides the similarity cutoff for
// this pass only.
func (s *Service) handleAssign(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		var err error
		if date, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
	}

	lookback := s.lookback
	if v := r.URL.Query().Get("since_minutes"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < 1 {
			writeError(w, http.StatusBadRequest, "invalid since_minutes parameter")
			return
		}
		lookback = time.Duration(mins) * time.Minute
	}

	var threshold float64
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "invalid threshold parameter")
			return
		}
		threshold = f
	}

	report, err := s.assigner.Run(r.Context(), date, lookback, threshold)
	if err != nil {
		log.Error().Err(err).Msg("Manual assignment failed")
		writeError(w, http.StatusInternalServerError, "assignment failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEnrich re-dispatches enrichment for a date. Used to recover when a
// restart lost the batch counters before the trigger fired.
func (s *Service) handleEnrich(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	report, err := s.dispatcher.Run(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Msg("Enrichment dispatch failed")
		writeError(w, http.StatusInternalServerError, "enrichment dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Service) handleTopics(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	topics, err := s.topics.ActiveTopics(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Msg("Topic fetch failed")
		writeError(w, http.StatusInternalServerError, "topic fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics, "count": len(topics)})
}

func (s *Service) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.topics.PendingArticles(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Pending fetch failed")
		writeError(w, http.StatusInternalServerError, "pending fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "count": len(pending)})
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
