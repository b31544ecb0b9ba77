// Package models defines core data structures for chunks, queries, and retrieved passages.
package models

import "time"

// Chunk is the atomic retrievable unit: one passage of article text plus provenance.
// ID is assigned by the index coordinator and equals the chunk's position in the
// vector index. IDs are contiguous, monotonically increasing, and never reused.
type Chunk struct {
	ID          int64     `json:"id" db:"id"`
	Text        string    `json:"text" db:"text"`
	Title       string    `json:"title" db:"title"`
	URL         string    `json:"url" db:"url"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	Language    string    `json:"language" db:"language"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
}

// ChunkInput is one cleaned passage with its embedding, as delivered by the
// upstream scrape/clean/embed pipeline. Embeddings are expected to be
// L2-normalized by the producer; the store does not renormalize.
type ChunkInput struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// ArticleInput is the ingestion input for one article. An article contributes at
// most one set of chunks: re-ingestion is detected and skipped by URL.
type ArticleInput struct {
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	PublishedAt time.Time    `json:"published_at"`
	Language    string       `json:"language"`
	Chunks      []ChunkInput `json:"chunks"`
}

// ChunkCount returns the total number of chunks across articles.
func ChunkCount(articles []*ArticleInput) int {
	n := 0
	for _, a := range articles {
		n += len(a.Chunks)
	}
	return n
}
