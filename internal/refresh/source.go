package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// HTTPSource collects articles from an upstream collector service that serves
// a JSON array of articles with precomputed chunk embeddings.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source backed by the given collector URL.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Collect fetches the current article batch from the collector.
func (s *HTTPSource) Collect(ctx context.Context) ([]*models.ArticleInput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("collector returned %d: %s", resp.StatusCode, string(b))
	}
	var articles []*models.ArticleInput
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return nil, fmt.Errorf("decode collector response: %w", err)
	}
	return articles, nil
}
