package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/topica/pkg/models"
)

// TopicStore provides topic, mapping, and pending-pool operations.
type TopicStore struct {
	db *gorm.DB
}

// NewTopicStore creates a new topic store.
func NewTopicStore(store *Store) *TopicStore {
	return &TopicStore{db: store.DB}
}

// MemberRecord is one article's membership in a topic being persisted.
type MemberRecord struct {
	ArticleID  int64
	Similarity float64
}

// TopicRecord is a fully computed topic ready for persistence.
type TopicRecord struct {
	Title                   string
	Keywords                []string
	Centroid                models.Vector
	Rank                    *int // nil for active-but-unranked topics
	Score                   float64
	RepresentativeArticleID int64
	Members                 []MemberRecord
}

// ArticlesWithEmbeddings returns all embedded articles for a news date,
// newest first.
func (s *TopicStore) ArticlesWithEmbeddings(ctx context.Context, date time.Time) ([]*models.Article, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Where("news_date = ?", Date(date)).
		Where("embedding IS NOT NULL").
		Order("published_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch embedded articles: %w", err)
	}

	out := make([]*models.Article, 0, len(rows))
	for i := range rows {
		out = append(out, toModelArticle(&rows[i]))
	}
	return out, nil
}

// UnmappedArticles returns embedded articles published since cutoff that are
// not yet mapped to any topic for the given date. Pending articles re-qualify
// automatically because they are still unmapped.
func (s *TopicStore) UnmappedArticles(ctx context.Context, date time.Time, cutoff time.Time) ([]*models.Article, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Joins("LEFT JOIN topic_article_mappings tam ON tam.article_id = articles.id AND tam.topic_date = ?", Date(date)).
		Where("articles.embedding IS NOT NULL").
		Where("articles.published_at >= ?", cutoff).
		Where("tam.article_id IS NULL").
		Order("articles.published_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch unmapped articles: %w", err)
	}

	out := make([]*models.Article, 0, len(rows))
	for i := range rows {
		out = append(out, toModelArticle(&rows[i]))
	}
	return out, nil
}

// ActiveTopics returns the date's active topics that have a centroid, ranked
// topics first.
func (s *TopicStore) ActiveTopics(ctx context.Context, date time.Time) ([]*models.Topic, error) {
	var rows []Topic
	err := s.db.WithContext(ctx).
		Where("topic_date = ?", Date(date)).
		Where("is_active = ?", true).
		Where("centroid IS NOT NULL").
		Order("topic_rank IS NULL, topic_rank").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch active topics: %w", err)
	}

	out := make([]*models.Topic, 0, len(rows))
	for i := range rows {
		out = append(out, toModelTopic(&rows[i]))
	}
	return out, nil
}

// ReplaceTopics atomically replaces the date's topic set: existing topics and
// mappings for the date are deleted and the new set inserted in a single
// transaction. Either the whole date flips to the new set or nothing changes,
// which is also what makes duplicate clustering triggers harmless.
func (s *TopicStore) ReplaceTopics(ctx context.Context, date time.Time, records []TopicRecord) ([]int64, error) {
	day := Date(date)
	ids := make([]int64, 0, len(records))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("topic_date = ?", day).Delete(&TopicArticleMapping{}).Error; err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		if err := tx.Where("topic_date = ?", day).Delete(&Topic{}).Error; err != nil {
			return fmt.Errorf("delete topics: %w", err)
		}

		for _, rec := range records {
			topic := Topic{
				TopicDate:   day,
				Title:       rec.Title,
				Keywords:    models.JSONStringArray(rec.Keywords),
				Centroid:    rec.Centroid,
				Score:       rec.Score,
				MemberCount: len(rec.Members),
				IsActive:    true,
				RepresentativeArticleID: sql.NullInt64{
					Int64: rec.RepresentativeArticleID,
					Valid: rec.RepresentativeArticleID != 0,
				},
			}
			if rec.Rank != nil {
				topic.TopicRank = sql.NullInt64{Int64: int64(*rec.Rank), Valid: true}
			}
			if err := tx.Create(&topic).Error; err != nil {
				return fmt.Errorf("insert topic: %w", err)
			}
			ids = append(ids, topic.ID)

			mappings := make([]TopicArticleMapping, 0, len(rec.Members))
			for _, m := range rec.Members {
				mappings = append(mappings, TopicArticleMapping{
					TopicID:    topic.ID,
					ArticleID:  m.ArticleID,
					Similarity: m.Similarity,
					TopicDate:  day,
				})
			}
			if len(mappings) > 0 {
				if err := tx.Create(&mappings).Error; err != nil {
					return fmt.Errorf("insert mappings: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertMapping maps an article to a topic. A conflicting insert (the
// article already mapped for the date, or to this topic) is a no-op; the
// returned bool reports whether a row was actually written.
func (s *TopicStore) InsertMapping(ctx context.Context, m *models.TopicArticleMapping) (bool, error) {
	row := TopicArticleMapping{
		TopicID:    m.TopicID,
		ArticleID:  m.ArticleID,
		Similarity: m.Similarity,
		TopicDate:  Date(m.TopicDate),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert mapping: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchTopic bumps the topic's last-updated marker and member count after an
// incremental assignment.
func (s *TopicStore) TouchTopic(ctx context.Context, topicID int64) error {
	err := s.db.WithContext(ctx).Model(&Topic{}).
		Where("id = ?", topicID).
		Updates(map[string]interface{}{
			"last_updated": time.Now().UTC(),
			"member_count": gorm.Expr(
				"(SELECT COUNT(*) FROM topic_article_mappings WHERE topic_article_mappings.topic_id = ?)",
				topicID),
		}).Error
	if err != nil {
		return fmt.Errorf("touch topic %d: %w", topicID, err)
	}
	return nil
}

// UpsertPending adds an article to the pending pool, or refreshes its
// reason, best similarity, and timestamp if it is already there.
func (s *TopicStore) UpsertPending(ctx context.Context, p *models.PendingArticle) error {
	row := PendingArticle{
		ArticleID:     p.ArticleID,
		Reason:        string(p.Reason),
		MaxSimilarity: p.MaxSimilarity,
		AddedAt:       time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "max_similarity", "added_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	return nil
}

// SweepPending deletes pending rows for articles that have since been mapped
// to a topic. Assignment removes articles from the pool implicitly; this
// keeps the table from accumulating stale rows.
func (s *TopicStore) SweepPending(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("article_id IN (SELECT article_id FROM topic_article_mappings)").
		Delete(&PendingArticle{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep pending: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PendingArticles returns the current pending pool, oldest first.
func (s *TopicStore) PendingArticles(ctx context.Context) ([]*models.PendingArticle, error) {
	var rows []PendingArticle
	if err := s.db.WithContext(ctx).Order("added_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	out := make([]*models.PendingArticle, 0, len(rows))
	for i := range rows {
		out = append(out, &models.PendingArticle{
			ArticleID:     rows[i].ArticleID,
			Reason:        models.PendingReason(rows[i].Reason),
			MaxSimilarity: rows[i].MaxSimilarity,
			AddedAt:       rows[i].AddedAt,
		})
	}
	return out, nil
}

// MemberEmbeddings returns the embeddings of all current members of a topic.
func (s *TopicStore) MemberEmbeddings(ctx context.Context, topicID int64) ([]models.Vector, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Joins("JOIN topic_article_mappings tam ON tam.article_id = articles.id").
		Where("tam.topic_id = ?", topicID).
		Where("articles.embedding IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch member embeddings: %w", err)
	}

	out := make([]models.Vector, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Embedding)
	}
	return out, nil
}

// UpdateCentroid stores a recomputed centroid for a topic.
func (s *TopicStore) UpdateCentroid(ctx context.Context, topicID int64, centroid models.Vector) error {
	err := s.db.WithContext(ctx).Model(&Topic{}).
		Where("id = ?", topicID).
		Updates(map[string]interface{}{
			"centroid":     centroid,
			"last_updated": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("update centroid for topic %d: %w", topicID, err)
	}
	return nil
}

// MappingsForDate returns all topic-article mappings for a date.
func (s *TopicStore) MappingsForDate(ctx context.Context, date time.Time) ([]*models.TopicArticleMapping, error) {
	var rows []TopicArticleMapping
	err := s.db.WithContext(ctx).
		Where("topic_date = ?", Date(date)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch mappings: %w", err)
	}
	out := make([]*models.TopicArticleMapping, 0, len(rows))
	for i := range rows {
		out = append(out, &models.TopicArticleMapping{
			TopicID:    rows[i].TopicID,
			ArticleID:  rows[i].ArticleID,
			Similarity: rows[i].Similarity,
			TopicDate:  rows[i].TopicDate,
		})
	}
	return out, nil
}
