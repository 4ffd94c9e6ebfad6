// Package assign implements the incremental assigner: it routes newly
// embedded, unmapped articles to the nearest active topic or defers them to
// the pending pool, then recomputes the centroids of every topic that gained
// members.
package assign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/internal/metrics"
	"github.com/thebtf/topica/pkg/models"
	"github.com/thebtf/topica/pkg/vecmath"
)

// Store is the persistence surface the assigner needs.
type Store interface {
	UnmappedArticles(ctx context.Context, date time.Time, cutoff time.Time) ([]*models.Article, error)
	ActiveTopics(ctx context.Context, date time.Time) ([]*models.Topic, error)
	InsertMapping(ctx context.Context, m *models.TopicArticleMapping) (bool, error)
	TouchTopic(ctx context.Context, topicID int64) error
	UpsertPending(ctx context.Context, p *models.PendingArticle) error
	MemberEmbeddings(ctx context.Context, topicID int64) ([]models.Vector, error)
	UpdateCentroid(ctx context.Context, topicID int64, centroid models.Vector) error
	SweepPending(ctx context.Context) (int64, error)
}

// Report summarizes one assignment pass.
type Report struct {
	RunID         string    `json:"run_id"`
	NewsDate      time.Time `json:"news_date"`
	Seen          int       `json:"seen"`
	Assigned      int       `json:"assigned"`
	Pending       int       `json:"pending"`
	TopicsUpdated int       `json:"topics_updated"`
}

// Assigner routes late-arriving articles to published topics.
type Assigner struct {
	store   Store
	cfg     config.AssignmentConfig
	dyn     *config.Dynamic
	metrics *metrics.Metrics
}

// New creates an Assigner. dyn and m may be nil.
func New(store Store, cfg config.AssignmentConfig, dyn *config.Dynamic, m *metrics.Metrics) *Assigner {
	return &Assigner{store: store, cfg: cfg, dyn: dyn, metrics: m}
}

// Run assigns every unmapped embedded article in the lookback window to the
// best matching active topic, or defers it. Centroids are read once at run
// start; concurrent runs may race on slightly stale centroids, which the
// mapping uniqueness constraint and the next batch clustering run absorb.
// thresholdOverride, when positive, wins over configuration for this run.
func (a *Assigner) Run(ctx context.Context, date time.Time, lookback time.Duration, thresholdOverride float64) (*Report, error) {
	runID := uuid.NewString()
	threshold := a.threshold(thresholdOverride)
	cutoff := time.Now().Add(-lookback)

	logger := log.With().Str("run_id", runID).
		Str("news_date", date.Format("2006-01-02")).
		Float64("threshold", threshold).Logger()
	logger.Info().Msg("Starting incremental assignment")

	report := &Report{RunID: runID, NewsDate: date}

	articles, err := a.store.UnmappedArticles(ctx, date, cutoff)
	if err != nil {
		return nil, err
	}
	report.Seen = len(articles)
	if len(articles) == 0 {
		logger.Info().Msg("No new articles to assign")
		return report, nil
	}

	// Centroid snapshot for the whole pass.
	topics, err := a.store.ActiveTopics(ctx, date)
	if err != nil {
		return nil, err
	}

	if len(topics) == 0 {
		logger.Warn().Int("articles", len(articles)).Msg("No active topics, deferring all candidates")
		for _, art := range articles {
			if err := a.store.UpsertPending(ctx, &models.PendingArticle{
				ArticleID:     art.ID,
				Reason:        models.PendingNoTopics,
				MaxSimilarity: 0,
			}); err != nil {
				return nil, err
			}
			report.Pending++
		}
		a.metrics.AssignmentPass(ctx, 0, report.Pending, 0)
		return report, nil
	}

	touched := make(map[int64]struct{})
	for _, art := range articles {
		decision, err := a.route(ctx, art, topics, date, threshold)
		if err != nil {
			return nil, err
		}
		switch d := decision.(type) {
		case models.Assigned:
			report.Assigned++
			touched[d.TopicID] = struct{}{}
			logger.Debug().Int64("article_id", art.ID).Int64("topic_id", d.TopicID).
				Float64("similarity", d.Score).Msg("Article assigned")
		case models.Deferred:
			report.Pending++
			logger.Debug().Int64("article_id", art.ID).Str("reason", string(d.Reason)).
				Float64("best_similarity", d.BestScore).Msg("Article deferred")
		}
	}

	// Full recompute for every topic that gained members: re-normalized mean
	// of all current members, not a weighted blend.
	for topicID := range touched {
		if err := a.recomputeCentroid(ctx, topicID); err != nil {
			return nil, err
		}
		report.TopicsUpdated++
	}

	if report.Assigned > 0 {
		if removed, err := a.store.SweepPending(ctx); err != nil {
			logger.Warn().Err(err).Msg("Pending sweep failed")
		} else if removed > 0 {
			logger.Debug().Int64("removed", removed).Msg("Swept assigned articles from pending pool")
		}
	}

	a.metrics.AssignmentPass(ctx, report.Assigned, report.Pending, report.TopicsUpdated)
	logger.Info().Int("seen", report.Seen).Int("assigned", report.Assigned).
		Int("pending", report.Pending).Int("topics_updated", report.TopicsUpdated).
		Msg("Incremental assignment complete")
	return report, nil
}

// route decides one article against the topic snapshot and persists the
// outcome.
func (a *Assigner) route(ctx context.Context, art *models.Article, topics []*models.Topic, date time.Time, threshold float64) (models.Decision, error) {
	bestTopic, bestSim := bestMatch(art.Embedding, topics)

	// The threshold is inclusive: an exact match counts as assigned.
	if bestTopic != nil && bestSim >= threshold {
		inserted, err := a.store.InsertMapping(ctx, &models.TopicArticleMapping{
			TopicID:    bestTopic.ID,
			ArticleID:  art.ID,
			Similarity: bestSim,
			TopicDate:  date,
		})
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Another run mapped it first; the uniqueness constraint makes
			// this a no-op rather than an error.
			log.Debug().Int64("article_id", art.ID).Int64("topic_id", bestTopic.ID).
				Msg("Duplicate mapping insert absorbed")
		}
		if err := a.store.TouchTopic(ctx, bestTopic.ID); err != nil {
			return nil, err
		}
		return models.Assigned{TopicID: bestTopic.ID, Score: bestSim}, nil
	}

	if err := a.store.UpsertPending(ctx, &models.PendingArticle{
		ArticleID:     art.ID,
		Reason:        models.PendingLowSimilarity,
		MaxSimilarity: bestSim,
	}); err != nil {
		return nil, err
	}
	return models.Deferred{BestScore: bestSim, Reason: models.PendingLowSimilarity}, nil
}

// recomputeCentroid replaces a topic's centroid with the re-normalized mean
// of all current member embeddings.
func (a *Assigner) recomputeCentroid(ctx context.Context, topicID int64) error {
	embeddings, err := a.store.MemberEmbeddings(ctx, topicID)
	if err != nil {
		return err
	}
	if len(embeddings) == 0 {
		return nil
	}

	vecs := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		vecs[i] = vecmath.Normalize(e)
	}
	centroid := vecmath.Centroid(vecs)

	if err := a.store.UpdateCentroid(ctx, topicID, models.Vector(centroid)); err != nil {
		return fmt.Errorf("recompute centroid: %w", err)
	}
	return nil
}

func (a *Assigner) threshold(override float64) float64 {
	if override > 0 {
		return override
	}
	if a.dyn != nil {
		return a.dyn.Snapshot().SimilarityThreshold
	}
	return a.cfg.SimilarityThreshold
}

// bestMatch returns the topic whose centroid is most similar to the
// embedding, with the similarity clamped into [0,1]. Topics without a
// centroid are skipped.
func bestMatch(embedding models.Vector, topics []*models.Topic) (*models.Topic, float64) {
	var best *models.Topic
	bestSim := 0.0
	for _, t := range topics {
		if len(t.Centroid) == 0 {
			continue
		}
		sim := vecmath.ClampSimilarity(vecmath.CosineSimilarity(embedding, t.Centroid))
		if sim > bestSim || best == nil {
			best, bestSim = t, sim
		}
	}
	return best, bestSim
}
