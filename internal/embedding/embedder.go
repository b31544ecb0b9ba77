// Package embedding provides query embedding via an external service, with caching.
//
// Chunk embeddings are computed upstream and arrive with the ingestion input;
// only the query side of the bi-encoder runs here, and even that is a call to
// an external model service, not an in-process model.
package embedding

import "context"

// Embedder produces unit-length vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}
