// Package storage defines the metadata store for chunk records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// ErrNotFound is returned when a requested chunk id has no metadata row. The
// id space is shared with the vector index, so a miss means the two stores
// have desynchronized; callers treat this as a defect, never as a default.
var ErrNotFound = errors.New("chunk not found")

// MetadataStore persists chunk records minus their embeddings. Rows are keyed
// by the same ids as the vector index; ids are assigned by the coordinator and
// must never be generated here.
type MetadataStore interface {
	// ExistsURL reports whether any chunk from the given article URL is stored.
	// The ingestion workflow calls this before embedding work is spent on an
	// article that is already indexed.
	ExistsURL(ctx context.Context, url string) (bool, error)
	// InsertBatch inserts chunks with their pre-assigned ids in one transaction.
	InsertBatch(ctx context.Context, chunks []*models.Chunk) error
	// DeleteByIDs removes rows by id. Only used to roll back a metadata insert
	// whose vector append failed; the ledger never shrinks otherwise.
	DeleteByIDs(ctx context.Context, ids []int64) error
	// GetByIDs returns the rows for ids. Fails with ErrNotFound if any id was
	// never inserted.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Chunk, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*CorpusStats, error)
	Close() error
}

// CorpusStats is a snapshot of what is stored, for the status report.
type CorpusStats struct {
	TotalChunks   int64            `json:"total_chunks"`
	TotalArticles int64            `json:"total_articles"`
	OldestArticle time.Time        `json:"oldest_article,omitempty"`
	NewestArticle time.Time        `json:"newest_article,omitempty"`
	ByLanguage    map[string]int64 `json:"by_language,omitempty"`
}
