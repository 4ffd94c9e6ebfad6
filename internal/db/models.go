package db

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/topica/pkg/models"
)

// GORM models. News dates are stored normalized to midnight UTC so equality
// comparisons behave the same on Postgres DATE columns and the sqlite test
// database.

// Article is an enriched news article row. The scraper creates these and the
// external enrichment pipeline fills summary and embedding; the clustering
// core treats everything except derived similarity values as read-only.
type Article struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Source      string `gorm:"index;not null"`
	Title       string `gorm:"not null"`
	Summary     sql.NullString
	Content     string        `gorm:"type:text"`
	Embedding   models.Vector `gorm:"column:embedding"`
	NewsDate    time.Time     `gorm:"index:idx_articles_news_date;not null"`
	PublishedAt time.Time     `gorm:"index:idx_articles_published,sort:desc;not null"`
	CreatedAt   time.Time     `gorm:"not null"`
	UpdatedAt   time.Time     `gorm:"not null"`
}

func (Article) TableName() string { return "articles" }

// Topic is one semantic cluster for a date.
type Topic struct {
	ID                      int64  `gorm:"primaryKey;autoIncrement"`
	TopicDate               time.Time `gorm:"index:idx_topics_date;not null"`
	Title                   string    `gorm:"not null"`
	Keywords                models.JSONStringArray `gorm:"type:text"`
	Centroid                models.Vector          `gorm:"column:centroid"`
	TopicRank               sql.NullInt64          `gorm:"column:topic_rank"`
	Score                   float64                `gorm:"type:real;default:0"`
	MemberCount             int                    `gorm:"default:0"`
	RepresentativeArticleID sql.NullInt64
	IsActive                bool      `gorm:"default:true;index:idx_topics_active"`
	CreatedAt               time.Time `gorm:"not null"`
	LastUpdated             time.Time `gorm:"not null"`
}

func (Topic) TableName() string { return "topics" }

// BeforeCreate hook to ensure timestamps are set.
func (t *Topic) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastUpdated.IsZero() {
		t.LastUpdated = now
	}
	return nil
}

// TopicArticleMapping links an article to its topic for a date. The two
// unique indexes enforce the one-topic-per-article-per-date invariant;
// duplicate inserts are absorbed as no-ops, not errors.
type TopicArticleMapping struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	TopicID    int64     `gorm:"uniqueIndex:idx_mappings_topic_article;not null"`
	ArticleID  int64     `gorm:"uniqueIndex:idx_mappings_topic_article;uniqueIndex:idx_mappings_article_date;not null"`
	Similarity float64   `gorm:"type:real;not null"`
	TopicDate  time.Time `gorm:"uniqueIndex:idx_mappings_article_date;not null"`
}

func (TopicArticleMapping) TableName() string { return "topic_article_mappings" }

// PendingArticle holds an article whose best topic similarity fell below
// threshold. Primary-keyed on article so re-adding is an upsert.
type PendingArticle struct {
	ArticleID     int64     `gorm:"primaryKey"`
	Reason        string    `gorm:"size:50"`
	MaxSimilarity float64   `gorm:"type:real"`
	AddedAt       time.Time `gorm:"index:idx_pending_added_at;not null"`
}

func (PendingArticle) TableName() string { return "pending_articles" }

// Date normalizes t to midnight UTC, the canonical news-date value.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toModelArticle(a *Article) *models.Article {
	return &models.Article{
		ID:          a.ID,
		Source:      a.Source,
		Title:       a.Title,
		Summary:     a.Summary,
		Content:     a.Content,
		Embedding:   a.Embedding,
		NewsDate:    a.NewsDate,
		PublishedAt: a.PublishedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toModelTopic(t *Topic) *models.Topic {
	return &models.Topic{
		ID:             t.ID,
		TopicDate:      t.TopicDate,
		Title:          t.Title,
		Keywords:       t.Keywords,
		Centroid:       t.Centroid,
		Rank:           t.TopicRank,
		Score:          t.Score,
		MemberCount:    t.MemberCount,
		Representative: t.RepresentativeArticleID,
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
		LastUpdated:    t.LastUpdated,
	}
}
