// Package retrieve implements two-stage retrieval: decayed-cosine candidate
// generation over the vector index, then cross-encoder reranking of the
// survivors. Stage 1 decides who competes, stage 2 decides the order.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/rerank"
	"github.com/hyperjump/kiji/internal/vector"
)

// Blend weights for the stage-1 candidate score. Cosine carries the topical
// signal; the freshness term breaks ties between near-duplicates from
// different days.
const (
	cosineWeight    = 0.7
	freshnessWeight = 0.3
)

// Store is the read surface the retriever needs from the index.
type Store interface {
	Search(ctx context.Context, query []float32, n int) ([]vector.Result, error)
	Chunks(ctx context.Context, ids []int64) (map[int64]*models.Chunk, error)
	Size() int
}

// candidate is one stage-1 survivor awaiting reranking.
type candidate struct {
	chunk     *models.Chunk
	cosine    float64
	freshness float64
	blended   float64
	rerank    float64
}

// Retriever runs the retrieval pipeline against a store, an embedder, and a
// reranker.
type Retriever struct {
	store    Store
	embedder embedding.Embedder
	reranker rerank.Reranker
	cfg      *config.RetrievalConfig
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for pipeline diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithClock overrides the time source used for freshness scoring.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

// NewRetriever creates a retriever with the given collaborators. cfg supplies
// the defaults for any threshold a query leaves at zero.
func NewRetriever(store Store, embedder embedding.Embedder, reranker rerank.Reranker, cfg *config.RetrievalConfig, opts ...Option) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve answers a query with the top passages, or an empty list when
// nothing clears the thresholds. An empty result is a valid outcome, never an
// error.
func (r *Retriever) Retrieve(ctx context.Context, query *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	start := time.Now()

	if err := query.Validate(); err != nil {
		return nil, err
	}
	q := r.applyDefaults(query)

	resp := &models.RetrieveResponse{
		Passages: []*models.Passage{},
		Question: q.Question,
	}
	if r.store.Size() == 0 {
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}

	qvec, err := r.embedder.Embed(ctx, q.Question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	pool := q.TopK * q.CandidateMultiplier
	hits, err := r.store.Search(ctx, qvec, pool)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates, err := r.stageOne(ctx, hits, q)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}

	if err := r.stageTwo(ctx, q.Question, candidates); err != nil {
		return nil, err
	}

	if len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}
	for _, c := range candidates {
		resp.Passages = append(resp.Passages, &models.Passage{
			Text:           c.chunk.Text,
			Title:          c.chunk.Title,
			URL:            c.chunk.URL,
			PublishedAt:    c.chunk.PublishedAt,
			Language:       c.chunk.Language,
			Score:          c.rerank,
			CosineScore:    c.cosine,
			FreshnessScore: c.freshness,
			BlendedScore:   c.blended,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	r.logger.Debug("retrieval finished",
		zap.Int("candidates", len(hits)),
		zap.Int("passages", len(resp.Passages)),
		zap.Int64("query_time_ms", resp.QueryTime),
	)
	return resp, nil
}

// applyDefaults fills zero-valued thresholds from the configured defaults.
func (r *Retriever) applyDefaults(query *models.RetrieveQuery) *models.RetrieveQuery {
	q := *query
	if q.TopK == 0 {
		q.TopK = r.cfg.TopK
	}
	if q.MinCosine == 0 {
		q.MinCosine = r.cfg.MinCosine
	}
	if q.DaysFilter == 0 {
		q.DaysFilter = r.cfg.DaysFilter
	}
	if q.DecayRate == 0 {
		q.DecayRate = r.cfg.DecayRate
	}
	if q.CandidateMultiplier == 0 {
		q.CandidateMultiplier = r.cfg.CandidateMultiplier
	}
	return &q
}

// stageOne materializes the search hits, applies the cosine and age floors,
// blends in freshness, deduplicates by URL, and orders survivors by blended
// score.
func (r *Retriever) stageOne(ctx context.Context, hits []vector.Result, q *models.RetrieveQuery) ([]*candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := r.store.Chunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate metadata: %w", err)
	}

	now := r.now()
	maxAge := time.Duration(q.DaysFilter) * 24 * time.Hour
	candidates := make([]*candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < q.MinCosine {
			continue
		}
		chunk := rows[h.ID]
		// Dateless articles pass the age floor; the reduced freshness score is
		// their only penalty.
		if !chunk.PublishedAt.IsZero() && now.Sub(chunk.PublishedAt) > maxAge {
			continue
		}
		freshness := DecayScore(chunk.PublishedAt, now, q.DecayRate)
		candidates = append(candidates, &candidate{
			chunk:     chunk,
			cosine:    h.Score,
			freshness: freshness,
			blended:   cosineWeight*h.Score + freshnessWeight*freshness,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.blended != b.blended {
			return a.blended > b.blended
		}
		if !a.chunk.PublishedAt.Equal(b.chunk.PublishedAt) {
			return a.chunk.PublishedAt.After(b.chunk.PublishedAt)
		}
		return a.chunk.ID < b.chunk.ID
	})
	return dedupeByURL(candidates), nil
}

// dedupeByURL keeps the best-scored chunk per article. Input must already be
// sorted best-first.
func dedupeByURL(candidates []*candidate) []*candidate {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if seen[c.chunk.URL] {
			continue
		}
		seen[c.chunk.URL] = true
		out = append(out, c)
	}
	return out
}

// stageTwo reranks all survivors with the cross-encoder and reorders them by
// rerank score. The stage-1 order only survives as the tie-break.
func (r *Retriever) stageTwo(ctx context.Context, question string, candidates []*candidate) error {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.chunk.Text
	}
	scores, err := r.reranker.Rerank(ctx, question, passages)
	if err != nil {
		return fmt.Errorf("rerank: %w", err)
	}
	for i, s := range scores {
		candidates[i].rerank = s
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rerank > candidates[j].rerank
	})
	return nil
}
