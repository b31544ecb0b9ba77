package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPReranker calls an external cross-encoder service. The model is owned by
// that service; this client transports pairs and validates the response shape.
type HTTPReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPReranker creates a client for the rerank service at baseURL
// (e.g. "http://localhost:8082/v1").
func NewHTTPReranker(baseURL, model string, timeout time.Duration) (*HTTPReranker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("rerank service url is required")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
}

type rerankResponse struct {
	Results []struct {
		Index float64 `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores each (query, passage) pair and returns scores positionally.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Documents: passages, Model: r.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank service returned %s", resp.Status)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("invalid rerank response: %w", err)
	}
	if len(parsed.Results) != len(passages) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d passages", len(parsed.Results), len(passages))
	}
	scores := make([]float64, len(passages))
	for _, res := range parsed.Results {
		idx := int(res.Index)
		if idx < 0 || idx >= len(scores) {
			return nil, fmt.Errorf("rerank result index %d out of range", idx)
		}
		scores[idx] = res.Score
	}
	return scores, nil
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (r *HTTPReranker) Close() error {
	return nil
}
