package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/internal/db"
	"github.com/thebtf/topica/internal/metrics"
	"github.com/thebtf/topica/pkg/models"
	"github.com/thebtf/topica/pkg/vecmath"
)

// ErrInsufficientData is returned when a date has too few embedded articles
// to cluster. Nothing is written in that case.
var ErrInsufficientData = errors.New("cluster: insufficient articles for clustering")

// Store is the persistence surface the clusterer needs.
type Store interface {
	ArticlesWithEmbeddings(ctx context.Context, date time.Time) ([]*models.Article, error)
	ReplaceTopics(ctx context.Context, date time.Time, records []db.TopicRecord) ([]int64, error)
}

// RepresentativeArticle is one article's text handed to the title generator.
type RepresentativeArticle struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ClusterDigest is the per-cluster payload for title generation.
type ClusterDigest struct {
	ClusterID              int                     `json:"cluster_id"`
	RepresentativeArticles []RepresentativeArticle `json:"representative_articles"`
}

// GeneratedTopic is a title plus keywords produced for one cluster.
type GeneratedTopic struct {
	ClusterID int      `json:"cluster_id"`
	Title     string   `json:"topic_title"`
	Keywords  []string `json:"keywords"`
}

// TitleGenerator names clusters via the external collaborator. Failures are
// tolerated; the clusterer falls back to representative article titles.
type TitleGenerator interface {
	GenerateTopics(ctx context.Context, clusters []ClusterDigest) ([]GeneratedTopic, error)
}

// Overrides are per-run parameter overrides from the operational entry
// points. Zero values mean "use configuration".
type Overrides struct {
	Algorithm string
	K         int // kmeans topic count
	MinTopics int // hierarchical band
	MaxTopics int
}

// Result summarizes one batch clustering run.
type Result struct {
	RunID         string    `json:"run_id"`
	NewsDate      time.Time `json:"news_date"`
	Algorithm     string    `json:"algorithm"`
	ArticlesFound int       `json:"articles_found"`
	TopicsCreated int       `json:"topics_created"`
	TopicIDs      []int64   `json:"topic_ids"`
	Outliers      int       `json:"outliers"`
	Silhouette    float64   `json:"silhouette_score"`
}

// Clusterer is the daily batch clusterer.
type Clusterer struct {
	store   Store
	titles  TitleGenerator
	cfg     config.ClusteringConfig
	dyn     *config.Dynamic
	metrics *metrics.Metrics
}

// New creates a Clusterer. titles may be nil, in which case every topic uses
// its representative article's title. dyn and m may be nil.
func New(store Store, titles TitleGenerator, cfg config.ClusteringConfig, dyn *config.Dynamic, m *metrics.Metrics) *Clusterer {
	return &Clusterer{store: store, titles: titles, cfg: cfg, dyn: dyn, metrics: m}
}

// memberInfo is one scored cluster member.
type memberInfo struct {
	article    *models.Article
	similarity float64
}

// candidate is one computed cluster awaiting ranking and persistence.
type candidate struct {
	label    int
	centroid models.Vector
	members  []memberInfo // sorted by similarity descending
	cohesion float64      // mean member-to-centroid similarity
}

// Run clusters the date's embedded articles into topics and atomically
// replaces the date's topic set. Title generation happens before the
// transaction opens; its failure degrades to fallback titles and never
// aborts the run.
func (c *Clusterer) Run(ctx context.Context, date time.Time, ov Overrides) (*Result, error) {
	runID := uuid.NewString()
	day := db.Date(date)
	algorithm := c.cfg.Algorithm
	if ov.Algorithm != "" {
		algorithm = ov.Algorithm
	}

	logger := log.With().Str("run_id", runID).Str("news_date", day.Format("2006-01-02")).
		Str("algorithm", algorithm).Logger()
	logger.Info().Msg("Starting batch clustering")

	articles, err := c.store.ArticlesWithEmbeddings(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(articles) < c.cfg.MinArticles {
		logger.Warn().Int("found", len(articles)).Int("required", c.cfg.MinArticles).
			Msg("Not enough embedded articles")
		return nil, fmt.Errorf("%w: found %d, need %d", ErrInsufficientData, len(articles), c.cfg.MinArticles)
	}

	embeddings := make([][]float32, len(articles))
	for i, a := range articles {
		embeddings[i] = vecmath.Normalize(a.Embedding)
	}

	labels, err := c.partition(embeddings, algorithm, ov, &logger)
	if err != nil {
		return nil, err
	}

	quality := Silhouette(embeddings, labels)
	candidates, outliers := buildCandidates(articles, embeddings, labels)
	logger.Info().Int("articles", len(articles)).Int("clusters", len(candidates)).
		Int("outliers", outliers).Float64("silhouette", quality).Msg("Clustering computed")

	// Largest clusters first; cohesion breaks member-count ties, label keeps
	// the order deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		if len(candidates[i].members) != len(candidates[j].members) {
			return len(candidates[i].members) > len(candidates[j].members)
		}
		if candidates[i].cohesion != candidates[j].cohesion {
			return candidates[i].cohesion > candidates[j].cohesion
		}
		return candidates[i].label < candidates[j].label
	})

	titles := c.generateTitles(ctx, candidates, &logger)

	records := make([]db.TopicRecord, 0, len(candidates))
	for i, cand := range candidates {
		rep := cand.members[0].article
		title := rep.Title
		var keywords []string
		if gen, ok := titles[cand.label]; ok && gen.Title != "" {
			title = gen.Title
			keywords = gen.Keywords
		}

		rec := db.TopicRecord{
			Title:                   title,
			Keywords:                keywords,
			Centroid:                cand.centroid,
			Score:                   quality,
			RepresentativeArticleID: rep.ID,
		}
		if i < c.cfg.RankLimit {
			rank := i + 1
			rec.Rank = &rank
		}
		for _, m := range cand.members {
			rec.Members = append(rec.Members, db.MemberRecord{
				ArticleID:  m.article.ID,
				Similarity: m.similarity,
			})
		}
		records = append(records, rec)
	}

	ids, err := c.store.ReplaceTopics(ctx, day, records)
	if err != nil {
		return nil, fmt.Errorf("persist topics: %w", err)
	}

	c.metrics.ClusteringRun(ctx, algorithm, len(ids))
	logger.Info().Int("topics_created", len(ids)).Msg("Batch clustering complete")

	return &Result{
		RunID:         runID,
		NewsDate:      day,
		Algorithm:     algorithm,
		ArticlesFound: len(articles),
		TopicsCreated: len(ids),
		TopicIDs:      ids,
		Outliers:      outliers,
		Silhouette:    quality,
	}, nil
}

// partition dispatches to the configured algorithm and applies the
// hierarchical band clamp.
func (c *Clusterer) partition(vs [][]float32, algorithm string, ov Overrides, logger *zerolog.Logger) ([]int, error) {
	switch algorithm {
	case "kmeans":
		k := c.cfg.KMeansTopics
		if ov.K > 0 {
			k = ov.K
		}
		return KMeans(vs, k), nil

	case "dbscan":
		return DBSCAN(vs, c.cfg.DBSCANEps, c.cfg.DBSCANMinMembers), nil

	case "hierarchical":
		threshold := c.cfg.DistanceThreshold
		minTopics, maxTopics := c.cfg.MinTopics, c.cfg.MaxTopics
		if c.dyn != nil {
			snap := c.dyn.Snapshot()
			threshold = snap.DistanceThreshold
			minTopics, maxTopics = snap.MinTopics, snap.MaxTopics
		}
		if ov.MinTopics > 0 {
			minTopics = ov.MinTopics
		}
		if ov.MaxTopics > 0 {
			maxTopics = ov.MaxTopics
		}

		labels := Hierarchical(vs, threshold)
		found := countClusters(labels)

		// The band clamp outranks the distance threshold: re-run forcing the
		// cluster count to the nearest bound.
		switch {
		case found < minTopics && len(vs) >= minTopics:
			logger.Warn().Int("found", found).Int("min", minTopics).
				Msg("Cluster count below band, forcing minimum")
			labels = HierarchicalK(vs, minTopics)
		case found > maxTopics:
			logger.Warn().Int("found", found).Int("max", maxTopics).
				Msg("Cluster count above band, forcing maximum")
			labels = HierarchicalK(vs, maxTopics)
		}
		return labels, nil

	default:
		return nil, fmt.Errorf("cluster: unknown algorithm %q", algorithm)
	}
}

// buildCandidates groups non-outlier articles by label and computes each
// cluster's centroid, per-member similarity, and cohesion.
func buildCandidates(articles []*models.Article, embeddings [][]float32, labels []int) ([]candidate, int) {
	groups := make(map[int][]int)
	outliers := 0
	for i, l := range labels {
		if l == Outlier {
			outliers++
			continue
		}
		groups[l] = append(groups[l], i)
	}

	out := make([]candidate, 0, len(groups))
	for label, idxs := range groups {
		vecs := make([][]float32, len(idxs))
		for i, idx := range idxs {
			vecs[i] = embeddings[idx]
		}
		centroid := vecmath.Centroid(vecs)

		members := make([]memberInfo, 0, len(idxs))
		var cohesion float64
		for _, idx := range idxs {
			sim := vecmath.ClampSimilarity(vecmath.CosineSimilarity(embeddings[idx], centroid))
			members = append(members, memberInfo{article: articles[idx], similarity: sim})
			cohesion += sim
		}
		cohesion /= float64(len(members))

		// Representative first: highest similarity to centroid wins, article
		// id breaks exact ties deterministically.
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].similarity != members[j].similarity {
				return members[i].similarity > members[j].similarity
			}
			return members[i].article.ID < members[j].article.ID
		})

		out = append(out, candidate{
			label:    label,
			centroid: models.Vector(centroid),
			members:  members,
			cohesion: cohesion,
		})
	}
	return out, outliers
}

// generateTitles asks the collaborator to name each cluster from its most
// central members. Any failure degrades to fallback titles.
func (c *Clusterer) generateTitles(ctx context.Context, candidates []candidate, logger *zerolog.Logger) map[int]GeneratedTopic {
	out := make(map[int]GeneratedTopic)
	if c.titles == nil || len(candidates) == 0 {
		return out
	}

	const representativesPerCluster = 5
	digests := make([]ClusterDigest, 0, len(candidates))
	for _, cand := range candidates {
		n := len(cand.members)
		if n > representativesPerCluster {
			n = representativesPerCluster
		}
		reps := make([]RepresentativeArticle, 0, n)
		for _, m := range cand.members[:n] {
			reps = append(reps, RepresentativeArticle{
				Title:   m.article.Title,
				Summary: m.article.Summary.String,
			})
		}
		digests = append(digests, ClusterDigest{ClusterID: cand.label, RepresentativeArticles: reps})
	}

	generated, err := c.titles.GenerateTopics(ctx, digests)
	if err != nil {
		c.metrics.CollaboratorFallback(ctx)
		logger.Warn().Err(err).Msg("Topic title generation failed, falling back to article titles")
		return out
	}

	for _, g := range generated {
		out[g.ClusterID] = g
	}
	logger.Info().Int("titles", len(out)).Msg("Generated topic titles")
	return out
}
