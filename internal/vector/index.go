// Package vector provides the exact similarity index over unit vectors.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector's length disagrees with the
// index's configured dimension. The offending batch is rejected before any
// mutation, so existing state is never corrupted.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrStoreUnavailable is returned when the persistence medium is unreachable at
// load time. This is fatal: operating silently on a missing index would produce
// plausible-looking but wrong empty results.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Index is an append-only similarity index. A vector's id equals its position
// in the index: ids are contiguous, start at zero, and are never reused.
type Index interface {
	// Append adds vectors to the end of the index and returns the assigned ids,
	// a contiguous increasing range starting at the current size. An empty
	// batch is a no-op returning an empty id list.
	Append(ctx context.Context, vectors [][]float32) ([]int64, error)
	// Search returns the top n stored vectors by inner product with query,
	// score descending, ties broken by lower id. Searching an empty index
	// returns an empty list.
	Search(ctx context.Context, query []float32, n int) ([]Result, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
}

// Result is a single similarity hit. Score is the inner product, which equals
// cosine similarity because stored and query vectors are unit length by the
// embedding producer's contract.
type Result struct {
	ID    int64
	Score float64
}
