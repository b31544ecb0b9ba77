package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMockReranker(t *testing.T) {
	r := NewMockReranker()
	scores, err := r.Rerank(context.Background(), "nepal budget deficit", []string{
		"the budget deficit in nepal widened this quarter",
		"local football results",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}
	if scores[0] <= scores[1] {
		t.Errorf("relevant passage scored %f, irrelevant %f", scores[0], scores[1])
	}
	if scores[0] != 1.0 {
		t.Errorf("full overlap score=%f, want 1.0", scores[0])
	}
}

func TestMockReranker_EmptyPool(t *testing.T) {
	r := NewMockReranker()
	scores, err := r.Rerank(context.Background(), "anything", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 0 {
		t.Errorf("got %d scores for empty pool", len(scores))
	}
}

func TestHTTPReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			http.NotFound(w, r)
			return
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Results come back sorted by score, index pointing at the input slot.
		resp := map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 1, "relevance_score": 0.9},
				{"index": 0, "relevance_score": 0.2},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL+"/v1", "test-model", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	scores, err := r.Rerank(context.Background(), "q", []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] != 0.2 || scores[1] != 0.9 {
		t.Errorf("scores=%v, want [0.2 0.9]", scores)
	}
}

func TestHTTPReranker_ScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"results": []map[string]interface{}{{"index": 0, "relevance_score": 0.5}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r, _ := NewHTTPReranker(srv.URL, "m", time.Second)
	if _, err := r.Rerank(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Error("score count mismatch should be rejected")
	}
}
