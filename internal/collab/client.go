// Package collab is the HTTP client for the external AI collaborator, which
// owns summarization, embedding, and topic title generation. The clustering
// core never talks to a model directly.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/topica/internal/cluster"
	"github.com/thebtf/topica/internal/config"
)

// maxSummaryTokens caps each representative summary sent for title
// generation so a handful of long articles cannot blow the collaborator's
// context window.
const maxSummaryTokens = 256

// Client talks to the collaborator's REST API.
type Client struct {
	baseURL    string
	http       *http.Client
	warmup     *http.Client
	maxRetries int
	codec      tokenizer.Codec
}

var _ cluster.TitleGenerator = (*Client)(nil)

// NewClient creates a reusable collaborator client.
func NewClient(cfg config.CollaboratorConfig) (*Client, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("collab: load tokenizer: %w", err)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		http:       &http.Client{Timeout: cfg.Timeout},
		warmup:     &http.Client{Timeout: cfg.WarmupTimeout},
		maxRetries: cfg.MaxRetries,
		codec:      codec,
	}, nil
}

// GenerateTopics asks the collaborator to name each cluster from its
// representative articles. Summaries are token-capped before sending.
func (c *Client) GenerateTopics(ctx context.Context, clusters []cluster.ClusterDigest) ([]cluster.GeneratedTopic, error) {
	capped := make([]cluster.ClusterDigest, len(clusters))
	for i, cl := range clusters {
		capped[i] = cluster.ClusterDigest{
			ClusterID:              cl.ClusterID,
			RepresentativeArticles: make([]cluster.RepresentativeArticle, len(cl.RepresentativeArticles)),
		}
		for j, art := range cl.RepresentativeArticles {
			capped[i].RepresentativeArticles[j] = cluster.RepresentativeArticle{
				Title:   art.Title,
				Summary: c.truncate(art.Summary, maxSummaryTokens),
			}
		}
	}

	var resp struct {
		Topics []cluster.GeneratedTopic `json:"topics"`
	}
	payload := map[string]any{"clusters": capped}
	if err := c.postRetrying(ctx, "/generate-topics", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Topics, nil
}

// BatchArticle is one article sent for enrichment.
type BatchArticle struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// EnrichedArticle is the collaborator's output for one article.
type EnrichedArticle struct {
	ID        int64     `json:"id"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding"`
}

// ProcessBatch sends a batch of raw articles for summarization and
// embedding.
func (c *Client) ProcessBatch(ctx context.Context, articles []BatchArticle) ([]EnrichedArticle, error) {
	var resp struct {
		Articles []EnrichedArticle `json:"articles"`
	}
	payload := map[string]any{"articles": articles}
	if err := c.postRetrying(ctx, "/process-batch", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Articles, nil
}

// Warmup asks the collaborator to load its models. Called once at startup;
// a failure is reported but the service still starts, since the collaborator
// warms itself on first use anyway.
func (c *Client) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/warmup", nil)
	if err != nil {
		return fmt.Errorf("collab: new warmup request: %w", err)
	}
	resp, err := c.warmup.Do(req)
	if err != nil {
		return fmt.Errorf("collab: warmup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collab: warmup status %s", resp.Status)
	}
	return nil
}

// Health probes the collaborator's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collab: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collab: health status %s", resp.Status)
	}
	return nil
}

// truncate cuts text to at most n tokens, decoding back to a valid string.
func (c *Client) truncate(text string, n int) string {
	ids, _, err := c.codec.Encode(text)
	if err != nil || len(ids) <= n {
		return text
	}
	out, err := c.codec.Decode(ids[:n])
	if err != nil {
		return text
	}
	return out
}

// postRetrying posts JSON with bounded retries on transport errors and 5xx
// responses. 4xx responses fail immediately.
func (c *Client) postRetrying(ctx context.Context, path string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("collab: marshal payload: %w", err)
	}

	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			log.Debug().Str("path", path).Int("attempt", attempt+1).
				Dur("backoff", backoff).Msg("Retrying collaborator request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		retryable, err := c.post(ctx, path, body, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, path string, body []byte, v any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("collab: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("collab: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode >= 500, fmt.Errorf("collab: %s returned %s", path, resp.Status)
	}

	if v == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("collab: decode response: %w", err)
	}
	return false, nil
}
