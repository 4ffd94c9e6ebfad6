package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/internal/db"
	"github.com/thebtf/topica/pkg/models"
	"github.com/thebtf/topica/pkg/vecmath"
)

type fakeStore struct {
	articles []*models.Article
	replaced []db.TopicRecord
	calls    int
}

func (f *fakeStore) ArticlesWithEmbeddings(ctx context.Context, date time.Time) ([]*models.Article, error) {
	return f.articles, nil
}

func (f *fakeStore) ReplaceTopics(ctx context.Context, date time.Time, records []db.TopicRecord) ([]int64, error) {
	f.replaced = records
	f.calls++
	ids := make([]int64, len(records))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

type fakeTitles struct {
	err    error
	called bool
}

func (f *fakeTitles) GenerateTopics(ctx context.Context, clusters []ClusterDigest) ([]GeneratedTopic, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	out := make([]GeneratedTopic, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, GeneratedTopic{
			ClusterID: c.ClusterID,
			Title:     fmt.Sprintf("generated title %d", c.ClusterID),
			Keywords:  []string{"keyword"},
		})
	}
	return out, nil
}

func testConfig() config.ClusteringConfig {
	return config.ClusteringConfig{
		Algorithm:         "hierarchical",
		KMeansTopics:      7,
		DistanceThreshold: 0.6,
		MinTopics:         2,
		MaxTopics:         4,
		RankLimit:         10,
		MinArticles:       2,
		DBSCANEps:         0.3,
		DBSCANMinMembers:  2,
	}
}

// groupedArticles builds articles around orthogonal axis directions, with
// the given group sizes. IDs are assigned sequentially from 1.
func groupedArticles(dim int, sizes []int) []*models.Article {
	rng := rand.New(rand.NewSource(42))
	var out []*models.Article
	id := int64(1)
	for axis, size := range sizes {
		for i := 0; i < size; i++ {
			v := make([]float32, dim)
			v[axis] = 1
			for d := 0; d < dim; d++ {
				v[d] += float32(rng.NormFloat64() * 0.02)
			}
			out = append(out, &models.Article{
				ID:        id,
				Title:     fmt.Sprintf("article %d", id),
				Embedding: models.Vector(vecmath.Normalize(v)),
			})
			id++
		}
	}
	return out
}

func TestRunInsufficientData(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(4, []int{1})}
	c := New(store, nil, testConfig(), nil, nil)

	_, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Zero(t, store.calls, "no writes on insufficient data")
}

func TestRunHierarchicalBandClamp(t *testing.T) {
	// 12 articles in 5 well-separated groups. The 0.6 threshold cut finds 5
	// clusters, outside the [2,4] band, so the run is forced to 4.
	store := &fakeStore{articles: groupedArticles(6, []int{4, 3, 2, 2, 1})}
	c := New(store, nil, testConfig(), nil, nil)

	res, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.NoError(t, err)

	assert.Equal(t, 12, res.ArticlesFound)
	assert.Equal(t, 4, res.TopicsCreated)
	require.Len(t, store.replaced, 4)

	total := 0
	for _, rec := range store.replaced {
		total += len(rec.Members)
	}
	assert.Equal(t, 12, total, "member counts sum to the article count")

	// Rank 1 is the largest cluster.
	require.NotNil(t, store.replaced[0].Rank)
	assert.Equal(t, 1, *store.replaced[0].Rank)
	for _, rec := range store.replaced[1:] {
		assert.LessOrEqual(t, len(rec.Members), len(store.replaced[0].Members))
	}
}

func TestRunCentroidInvariant(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(5, []int{4, 4})}
	c := New(store, nil, testConfig(), nil, nil)

	_, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.NoError(t, err)

	byID := make(map[int64]*models.Article)
	for _, a := range store.articles {
		byID[a.ID] = a
	}

	for _, rec := range store.replaced {
		// Centroid has unit norm.
		assert.InDelta(t, 1.0, vecmath.Norm(rec.Centroid), 1e-6)

		// Re-deriving from members matches the stored centroid.
		var member [][]float32
		for _, m := range rec.Members {
			member = append(member, vecmath.Normalize(byID[m.ArticleID].Embedding))
		}
		rederived := vecmath.Centroid(member)
		for i := range rederived {
			assert.InDelta(t, float64(rederived[i]), float64(rec.Centroid[i]), 1e-6)
		}

		// Similarity values honor [0,1] and the representative is the most
		// central member.
		for _, m := range rec.Members {
			assert.GreaterOrEqual(t, m.Similarity, 0.0)
			assert.LessOrEqual(t, m.Similarity, 1.0)
		}
		assert.Equal(t, rec.Members[0].ArticleID, rec.RepresentativeArticleID)
	}
}

func TestRunTitleGeneration(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(5, []int{3, 3})}
	titles := &fakeTitles{}
	c := New(store, titles, testConfig(), nil, nil)

	_, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.NoError(t, err)
	assert.True(t, titles.called)

	for _, rec := range store.replaced {
		assert.Contains(t, rec.Title, "generated title")
		assert.Equal(t, []string{"keyword"}, rec.Keywords)
	}
}

func TestRunTitleFallbackOnCollaboratorError(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(5, []int{3, 3})}
	titles := &fakeTitles{err: errors.New("service unavailable")}
	c := New(store, titles, testConfig(), nil, nil)

	res, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.NoError(t, err, "collaborator failure must not abort the run")
	assert.Equal(t, 2, res.TopicsCreated)

	byID := make(map[int64]*models.Article)
	for _, a := range store.articles {
		byID[a.ID] = a
	}
	for _, rec := range store.replaced {
		assert.Equal(t, byID[rec.RepresentativeArticleID].Title, rec.Title)
		assert.Empty(t, rec.Keywords)
	}
}

func TestRunDBSCANExcludesOutliers(t *testing.T) {
	articles := groupedArticles(5, []int{4, 4})
	// A lone article pointing nowhere near either group.
	articles = append(articles, &models.Article{
		ID:        99,
		Title:     "stray",
		Embedding: models.Vector(vecmath.Normalize([]float32{0, 0, 1, 1, 1})),
	})
	store := &fakeStore{articles: articles}
	cfg := testConfig()
	cfg.Algorithm = "dbscan"
	c := New(store, nil, cfg, nil, nil)

	res, err := c.Run(context.Background(), time.Now(), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outliers)

	total := 0
	for _, rec := range store.replaced {
		total += len(rec.Members)
		for _, m := range rec.Members {
			assert.NotEqual(t, int64(99), m.ArticleID)
		}
	}
	assert.Equal(t, 8, total, "outliers are excluded from all topics")
}

func TestRunKMeansOverride(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(6, []int{3, 3, 3})}
	c := New(store, nil, testConfig(), nil, nil)

	res, err := c.Run(context.Background(), time.Now(), Overrides{Algorithm: "kmeans", K: 3})
	require.NoError(t, err)
	assert.Equal(t, "kmeans", res.Algorithm)
	assert.Equal(t, 3, res.TopicsCreated)
}

func TestRunUnknownAlgorithm(t *testing.T) {
	store := &fakeStore{articles: groupedArticles(4, []int{2, 2})}
	c := New(store, nil, testConfig(), nil, nil)

	_, err := c.Run(context.Background(), time.Now(), Overrides{Algorithm: "spectral"})
	assert.Error(t, err)
}
