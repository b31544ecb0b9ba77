package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperjump/kiji/pkg/utils"
)

const maxRetries = 3

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint. The model runs
// in an external service; this client only transports text and validates the
// response. Vectors are L2-normalized before being returned so the unit-vector
// contract holds at the boundary regardless of what the service sends back.
type HTTPEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPEmbedder creates a client for the embedding service at baseURL
// (e.g. "http://localhost:8081/v1"). dimensions is the expected vector length;
// a response of any other length is rejected.
func NewHTTPEmbedder(baseURL, model string, dimensions int, timeout time.Duration) (*HTTPEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service url is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the unit-length embedding for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	url := e.baseURL + "/embeddings"
	body, err := json.Marshal(embedRequest{Input: text, Model: e.model})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("embedding service returned %s", resp.Status)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("embedding service returned %s", resp.Status)
		}

		var parsed embedResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("invalid embedding response: %w", err)
		}
		if len(parsed.Data) == 0 {
			return nil, fmt.Errorf("embedding response contains no data")
		}
		emb := parsed.Data[0].Embedding
		if len(emb) != e.dimensions {
			return nil, fmt.Errorf("embedding service returned %d dimensions, expected %d", len(emb), e.dimensions)
		}
		utils.NormalizeL2(emb)
		return emb, nil
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (e *HTTPEmbedder) Close() error {
	return nil
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 500 * time.Millisecond
}
