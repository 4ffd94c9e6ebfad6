package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Article is a news article as seen by the clustering core. Articles are
// created and enriched by external collaborators; this core only reads them
// and derives similarity values.
type Article struct {
	ID          int64          `json:"id"`
	Source      string         `json:"source"`
	Title       string         `json:"title"`
	Summary     sql.NullString `json:"summary,omitempty"`
	Content     string         `json:"-"`
	Embedding   Vector         `json:"-"`
	NewsDate    time.Time      `json:"news_date"`
	PublishedAt time.Time      `json:"published_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasEmbedding reports whether the external enrichment pipeline has produced
// an embedding for this article.
func (a *Article) HasEmbedding() bool {
	return len(a.Embedding) > 0
}

// Topic is a semantic cluster of one day's articles. The full topic set for
// a date is replaced atomically by each batch clustering run; centroids and
// member counts drift between runs as the incremental assigner absorbs
// late-arriving articles.
type Topic struct {
	ID          int64           `json:"id"`
	TopicDate   time.Time       `json:"topic_date"`
	Title       string          `json:"title"`
	Keywords    JSONStringArray `json:"keywords,omitempty"`
	Centroid    Vector          `json:"-"`
	Rank        sql.NullInt64   `json:"rank,omitempty"` // 1..RankLimit for the largest topics, NULL otherwise
	Score       float64         `json:"score"`          // silhouette of the clustering run that created it
	MemberCount int             `json:"member_count"`
	Representative sql.NullInt64 `json:"representative_article_id,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUpdated time.Time       `json:"last_updated"`
}

// TopicArticleMapping links an article to its topic for a date, carrying the
// article's cosine similarity to the topic centroid at assignment time.
// An article maps to at most one topic per date.
type TopicArticleMapping struct {
	TopicID    int64     `json:"topic_id"`
	ArticleID  int64     `json:"article_id"`
	Similarity float64   `json:"similarity"`
	TopicDate  time.Time `json:"topic_date"`
}

// PendingReason records why an article was deferred instead of assigned.
type PendingReason string

const (
	// PendingLowSimilarity means the best topic match fell below threshold.
	PendingLowSimilarity PendingReason = "low_similarity"
	// PendingNoTopics means no active topics existed for the date.
	PendingNoTopics PendingReason = "no_topics"
)

// PendingArticle holds an article that matched no topic well enough. Pending
// rows are upserted, and an article leaves the pool implicitly once a later
// assigner or clusterer run maps it.
type PendingArticle struct {
	ArticleID     int64         `json:"article_id"`
	Reason        PendingReason `json:"reason"`
	MaxSimilarity float64       `json:"max_similarity"`
	AddedAt       time.Time     `json:"added_at"`
}

// JSONStringArray is a string slice stored as a JSON array column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("jsonstringarray: cannot scan %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
