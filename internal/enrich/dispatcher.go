// Package enrich dispatches unenriched articles to the collaborator in
// batches and reports batch completion to the coordinator.
package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/topica/internal/collab"
	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/internal/sched"
	"github.com/thebtf/topica/pkg/models"
)

// Each batch gets a few attempts against a flaky collaborator before it is
// counted as failed.
const (
	batchAttempts     = 3
	batchRetryBackoff = 500 * time.Millisecond
)

// ArticleStore is the persistence surface the dispatcher needs.
type ArticleStore interface {
	UnenrichedArticles(ctx context.Context, date time.Time) ([]*models.Article, error)
	SaveEnrichment(ctx context.Context, articleID int64, summary string, embedding models.Vector) error
}

// Enricher produces summaries and embeddings for a batch of articles.
type Enricher interface {
	ProcessBatch(ctx context.Context, articles []collab.BatchArticle) ([]collab.EnrichedArticle, error)
}

// Completion receives batch lifecycle events.
type Completion interface {
	BatchesDispatched(ctx context.Context, date time.Time, total int) error
	BatchCompleted(ctx context.Context, date time.Time) error
}

// Report summarizes one enrichment dispatch.
type Report struct {
	NewsDate time.Time `json:"news_date"`
	Articles int       `json:"articles"`
	Batches  int       `json:"batches"`
	Enriched int       `json:"enriched"`
	Failed   int       `json:"failed_batches"`
}

// Dispatcher splits a date's unenriched articles into bounded batches and
// runs them through the collaborator with limited parallelism.
type Dispatcher struct {
	store      ArticleStore
	enricher   Enricher
	completion Completion
	cfg        config.EnrichmentConfig
}

// New creates a Dispatcher.
func New(store ArticleStore, enricher Enricher, completion Completion, cfg config.EnrichmentConfig) *Dispatcher {
	return &Dispatcher{store: store, enricher: enricher, completion: completion, cfg: cfg}
}

// Run enriches every unenriched article for the date. Every batch reports
// completion to the coordinator whether it succeeded or not, so a failing
// batch cannot stall the clustering trigger forever; its articles simply
// stay unenriched until the next dispatch.
func (d *Dispatcher) Run(ctx context.Context, date time.Time) (*Report, error) {
	articles, err := d.store.UnenrichedArticles(ctx, date)
	if err != nil {
		return nil, err
	}

	report := &Report{NewsDate: date, Articles: len(articles)}
	if len(articles) == 0 {
		log.Info().Str("news_date", date.Format("2006-01-02")).Msg("No articles to enrich")
		return report, nil
	}

	batches := chunk(articles, d.cfg.BatchSize)
	report.Batches = len(batches)

	if err := d.completion.BatchesDispatched(ctx, date, len(batches)); err != nil {
		return nil, err
	}

	log.Info().Str("news_date", date.Format("2006-01-02")).
		Int("articles", len(articles)).Int("batches", len(batches)).
		Msg("Dispatching enrichment batches")

	var enriched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism())
	for i, batch := range batches {
		g.Go(func() error {
			n, err := d.processBatch(gctx, batch)
			if err != nil {
				failed.Add(1)
				log.Error().Err(err).Int("batch", i).Msg("Enrichment batch failed")
			} else {
				enriched.Add(int64(n))
			}
			// Completion is reported regardless of outcome.
			if cerr := d.completion.BatchCompleted(gctx, date); cerr != nil {
				return cerr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Enriched = int(enriched.Load())
	report.Failed = int(failed.Load())
	log.Info().Int("enriched", report.Enriched).Int("failed_batches", report.Failed).
		Msg("Enrichment dispatch complete")
	return report, nil
}

func (d *Dispatcher) processBatch(ctx context.Context, batch []*models.Article) (int, error) {
	payload := make([]collab.BatchArticle, len(batch))
	for i, a := range batch {
		payload[i] = collab.BatchArticle{ID: a.ID, Title: a.Title, Content: a.Content}
	}

	var results []collab.EnrichedArticle
	err := sched.Retry(ctx, batchAttempts, batchRetryBackoff, func(ctx context.Context) error {
		var err error
		results, err = d.enricher.ProcessBatch(ctx, payload)
		return err
	})
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, r := range results {
		if len(r.Embedding) == 0 {
			continue
		}
		if err := d.store.SaveEnrichment(ctx, r.ID, r.Summary, models.Vector(r.Embedding)); err != nil {
			log.Error().Err(err).Int64("article_id", r.ID).Msg("Failed to save enrichment")
			continue
		}
		saved++
	}
	return saved, nil
}

func (d *Dispatcher) parallelism() int {
	if d.cfg.Parallelism > 0 {
		return d.cfg.Parallelism
	}
	return 1
}

// chunk splits articles into batches of at most size.
func chunk(articles []*models.Article, size int) [][]*models.Article {
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	var out [][]*models.Article
	for len(articles) > size {
		out = append(out, articles[:size])
		articles = articles[size:]
	}
	if len(articles) > 0 {
		out = append(out, articles)
	}
	return out
}
