package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/topica/pkg/models"
)

// ArticleStore provides the article operations needed by the enrichment
// dispatcher. Articles are produced by the scraper; this store only reads
// them and writes back enrichment results.
type ArticleStore struct {
	db *gorm.DB
}

// NewArticleStore creates a new article store.
func NewArticleStore(store *Store) *ArticleStore {
	return &ArticleStore{db: store.DB}
}

// UnenrichedArticles returns the date's articles that still lack an
// embedding, oldest first so backlog drains in arrival order.
func (s *ArticleStore) UnenrichedArticles(ctx context.Context, date time.Time) ([]*models.Article, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Where("news_date = ?", Date(date)).
		Where("embedding IS NULL").
		Where("content <> ''").
		Order("published_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch unenriched articles: %w", err)
	}

	out := make([]*models.Article, 0, len(rows))
	for i := range rows {
		out = append(out, toModelArticle(&rows[i]))
	}
	return out, nil
}

// GetArticle returns a single article by id.
func (s *ArticleStore) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	var row Article
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("fetch article %d: %w", id, err)
	}
	return toModelArticle(&row), nil
}

// SaveEnrichment writes the summary and embedding produced by the external
// collaborator for one article. Empty fields are left untouched.
func (s *ArticleStore) SaveEnrichment(ctx context.Context, articleID int64, summary string, embedding models.Vector) error {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if summary != "" {
		updates["summary"] = sql.NullString{String: summary, Valid: true}
	}
	if len(embedding) > 0 {
		updates["embedding"] = embedding
	}

	err := s.db.WithContext(ctx).Model(&Article{}).
		Where("id = ?", articleID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("save enrichment for article %d: %w", articleID, err)
	}
	return nil
}

// CreateArticle inserts a new article row. Used by tests and the import
// path; production articles come from the scraper.
func (s *ArticleStore) CreateArticle(ctx context.Context, a *models.Article) (int64, error) {
	row := Article{
		Source:      a.Source,
		Title:       a.Title,
		Summary:     a.Summary,
		Content:     a.Content,
		Embedding:   a.Embedding,
		NewsDate:    Date(a.NewsDate),
		PublishedAt: a.PublishedAt,
	}
	if row.PublishedAt.IsZero() {
		row.PublishedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create article: %w", err)
	}
	return row.ID, nil
}
