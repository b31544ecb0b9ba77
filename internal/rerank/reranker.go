// Package rerank provides pairwise (query, passage) relevance scoring via an
// external cross-encoder service.
//
// The cross-encoder scores a query-passage pair jointly, which is slower but
// more accurate than the bi-encoder similarity used for candidate generation.
// It is only ever applied to the already-filtered candidate pool.
package rerank

import "context"

// Reranker scores (query, passage) pairs. Scores are returned positionally:
// scores[i] belongs to passages[i]. Higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
	Close() error
}
