// Package keyword provides keyword (BM25) lookup over indexed chunks.
//
// The keyword index is derived, rebuildable state maintained alongside the
// vector/metadata ledger. It exists as an operator aid for exact-term lookups
// ("which articles mention X"); the retrieval pipeline itself is semantic.
package keyword

import (
	"context"

	"github.com/hyperjump/kiji/internal/models"
)

// KeywordIndex defines keyword lookup operations over chunks.
type KeywordIndex interface {
	IndexBatch(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword hit. ID is the chunk id.
type KeywordResult struct {
	ID    int64
	Score float64
}
