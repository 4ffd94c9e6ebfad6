package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/topica/internal/collab"
	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/pkg/models"
)

type fakeArticleStore struct {
	mu       sync.Mutex
	articles []*models.Article
	saved    map[int64]string
}

func (f *fakeArticleStore) UnenrichedArticles(_ context.Context, _ time.Time) ([]*models.Article, error) {
	return f.articles, nil
}

func (f *fakeArticleStore) SaveEnrichment(_ context.Context, id int64, summary string, _ models.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[int64]string)
	}
	f.saved[id] = summary
	return nil
}

type fakeEnricher struct {
	mu         sync.Mutex
	batchSizes []int
	failCalls  int // fail this many leading calls
	calls      int
}

func (f *fakeEnricher) ProcessBatch(_ context.Context, articles []collab.BatchArticle) ([]collab.EnrichedArticle, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batchSizes = append(f.batchSizes, len(articles))
	f.mu.Unlock()

	if call <= f.failCalls {
		return nil, errors.New("model overloaded")
	}
	out := make([]collab.EnrichedArticle, len(articles))
	for i, a := range articles {
		out[i] = collab.EnrichedArticle{ID: a.ID, Summary: "s", Embedding: []float32{1}}
	}
	return out, nil
}

type fakeCompletion struct {
	mu        sync.Mutex
	total     int
	completed int
}

func (f *fakeCompletion) BatchesDispatched(_ context.Context, _ time.Time, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = total
	return nil
}

func (f *fakeCompletion) BatchCompleted(_ context.Context, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	return nil
}

func articleFixture(n int) []*models.Article {
	out := make([]*models.Article, n)
	for i := range out {
		out[i] = &models.Article{ID: int64(i + 1), Title: "t", Content: "body"}
	}
	return out
}

func TestRunBatchesAndCompletes(t *testing.T) {
	store := &fakeArticleStore{articles: articleFixture(120)}
	enricher := &fakeEnricher{}
	completion := &fakeCompletion{}
	d := New(store, enricher, completion, config.EnrichmentConfig{BatchSize: 50, Parallelism: 2})

	report, err := d.Run(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 120, report.Articles)
	assert.Equal(t, 3, report.Batches, "120 articles at batch size 50")
	assert.Equal(t, 120, report.Enriched)
	assert.Equal(t, 0, report.Failed)

	assert.Equal(t, 3, completion.total)
	assert.Equal(t, 3, completion.completed, "every batch reports completion")
	assert.Len(t, store.saved, 120)

	for _, size := range enricher.batchSizes {
		assert.LessOrEqual(t, size, 50)
	}
}

func TestRunEmptyDate(t *testing.T) {
	store := &fakeArticleStore{}
	completion := &fakeCompletion{}
	d := New(store, &fakeEnricher{}, completion, config.EnrichmentConfig{BatchSize: 50, Parallelism: 2})

	report, err := d.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.Batches)
	assert.Zero(t, completion.total, "no dispatch recorded for an empty date")
}

func TestRunRetriesTransientBatchFailure(t *testing.T) {
	store := &fakeArticleStore{articles: articleFixture(10)}
	enricher := &fakeEnricher{failCalls: 1}
	completion := &fakeCompletion{}
	d := New(store, enricher, completion, config.EnrichmentConfig{BatchSize: 10, Parallelism: 1})

	report, err := d.Run(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Failed, "a transient failure is retried away")
	assert.Equal(t, 10, report.Enriched)
	assert.Equal(t, 2, enricher.calls)
}

func TestRunFailedBatchStillReportsCompletion(t *testing.T) {
	store := &fakeArticleStore{articles: articleFixture(20)}
	// 3 failures exhaust the first batch's retry budget.
	enricher := &fakeEnricher{failCalls: 3}
	completion := &fakeCompletion{}
	d := New(store, enricher, completion, config.EnrichmentConfig{BatchSize: 10, Parallelism: 1})

	report, err := d.Run(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 10, report.Enriched)
	assert.Equal(t, 2, completion.completed, "failed batches still count toward the trigger")
}

func TestRunSkipsEmptyEmbeddings(t *testing.T) {
	store := &fakeArticleStore{articles: articleFixture(3)}
	enricher := &emptyEmbeddingEnricher{}
	completion := &fakeCompletion{}
	d := New(store, enricher, completion, config.EnrichmentConfig{BatchSize: 10, Parallelism: 1})

	report, err := d.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.Enriched)
	assert.Empty(t, store.saved)
}

type emptyEmbeddingEnricher struct{}

func (emptyEmbeddingEnricher) ProcessBatch(_ context.Context, articles []collab.BatchArticle) ([]collab.EnrichedArticle, error) {
	out := make([]collab.EnrichedArticle, len(articles))
	for i, a := range articles {
		out[i] = collab.EnrichedArticle{ID: a.ID}
	}
	return out, nil
}
