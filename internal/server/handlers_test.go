package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/index"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/retrieve"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
)

const testDims = 4

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (stubEmbedder) Dimensions() int { return testDims }
func (stubEmbedder) Close() error    { return nil }

type stubReranker struct{}

func (stubReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i := range passages {
		scores[i] = 1 - float64(i)*0.01
	}
	return scores, nil
}
func (stubReranker) Close() error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	paths := &config.StorageConfig{
		DatabasePath:     filepath.Join(dir, "metadata.db"),
		VectorIndexPath:  filepath.Join(dir, "vectors.bin"),
		KeywordIndexPath: filepath.Join(dir, "keyword"),
	}
	idx, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(paths.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.NewBleveIndex(paths.KeywordIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	coordinator := index.NewCoordinator(idx, store, paths, index.WithKeywordIndex(kw))
	if err := coordinator.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = coordinator.Close() })

	retriever := retrieve.NewRetriever(coordinator, stubEmbedder{}, stubReranker{}, &config.RetrievalConfig{
		TopK:                3,
		MinCosine:           0.45,
		DaysFilter:          30,
		DecayRate:           0.1,
		CandidateMultiplier: 8,
	})
	srv := NewServer(coordinator, retriever, &config.ServerConfig{}, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func sampleArticles(n int) []*models.ArticleInput {
	articles := make([]*models.ArticleInput, n)
	for i := range articles {
		articles[i] = &models.ArticleInput{
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Title:       fmt.Sprintf("Headline %d", i),
			PublishedAt: time.Now().Add(-24 * time.Hour),
			Language:    "en",
			Chunks: []models.ChunkInput{
				{Text: fmt.Sprintf("hydropower expansion story %d", i), Embedding: []float32{1, 0, 0, 0}},
			},
		}
	}
	return articles
}

func TestIngestAndQuery(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/ingest", sampleArticles(2))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status=%d, want 201", resp.StatusCode)
	}
	var ingested struct {
		ChunksAdded int `json:"chunks_added"`
		CorpusSize  int `json:"corpus_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingested); err != nil {
		t.Fatal(err)
	}
	if ingested.ChunksAdded != 2 || ingested.CorpusSize != 2 {
		t.Errorf("ingest response=%+v", ingested)
	}

	qresp := postJSON(t, ts.URL+"/api/v1/query", &models.RetrieveQuery{Question: "hydropower"})
	defer qresp.Body.Close()
	if qresp.StatusCode != http.StatusOK {
		t.Fatalf("query status=%d, want 200", qresp.StatusCode)
	}
	var result models.RetrieveResponse
	if err := json.NewDecoder(qresp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) != 2 {
		t.Errorf("got %d passages, want 2", len(result.Passages))
	}
}

func TestQueryEmptyCorpus(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/query", &models.RetrieveQuery{Question: "anything"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	var result models.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) != 0 {
		t.Errorf("got %d passages from empty corpus, want 0", len(result.Passages))
	}
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/query", "application/json", bytes.NewReader([]byte("{bad json")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status=%d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/v1/query", &models.RetrieveQuery{Question: ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty question status=%d, want 400", resp.StatusCode)
	}
}

func TestIngestDimensionMismatch(t *testing.T) {
	ts := newTestServer(t)

	bad := sampleArticles(1)
	bad[0].Chunks[0].Embedding = []float32{1, 0}
	resp := postJSON(t, ts.URL+"/api/v1/ingest", bad)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status=%d, want 400", resp.StatusCode)
	}
}

func TestIngestIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/ingest", sampleArticles(2))
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/ingest", sampleArticles(2))
	defer resp.Body.Close()
	var ingested struct {
		ChunksAdded int `json:"chunks_added"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingested); err != nil {
		t.Fatal(err)
	}
	if ingested.ChunksAdded != 0 {
		t.Errorf("re-ingest added %d chunks, want 0", ingested.ChunksAdded)
	}
}

func TestKeywordEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/ingest", sampleArticles(2))
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/keyword?q=hydropower&limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	var result struct {
		Query string `json:"query"`
		Hits  []struct {
			Chunk *models.Chunk `json:"chunk"`
			Score float64       `json:"score"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Hits) == 0 {
		t.Error("expected keyword hits")
	}

	resp, err = http.Get(ts.URL + "/api/v1/keyword")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing q status=%d, want 400", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/ingest", sampleArticles(3))
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	var report struct {
		TotalChunks int  `json:"total_chunks"`
		VectorCount int  `json:"vector_count"`
		Consistent  bool `json:"consistent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.TotalChunks != 3 || report.VectorCount != 3 || !report.Consistent {
		t.Errorf("report=%+v", report)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status=%d, want 200", resp.StatusCode)
	}
}
