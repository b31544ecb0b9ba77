// Package keyword provides the Bleve implementation of KeywordIndex.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/kiji/internal/models"
)

// chunkEntry is the document shape stored in Bleve.
type chunkEntry struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	Language string `json:"language"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// opened and reused; the corpus is append-only, so already-indexed chunks stay
// valid across restarts.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	chunkMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): news text mixes
	// languages and proper nouns, and stemming mangles both.
	textFieldMapping.Analyzer = standard.Name
	chunkMapping.AddFieldMappingsAt("text", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	chunkMapping.AddFieldMappingsAt("url", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("language", keywordFieldMapping)
	im.DefaultMapping = chunkMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexBatch indexes chunks in one Bleve batch, keyed by chunk id.
func (b *BleveIndex) IndexBatch(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		entry := chunkEntry{Title: c.Title, Text: c.Text, URL: c.URL, Language: c.Language}
		if err := batch.Index(strconv.FormatInt(c.ID, 10), entry); err != nil {
			return fmt.Errorf("batch index chunk %d: %w", c.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over title and text and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("non-numeric chunk id in keyword index: %q", hit.ID)
		}
		out = append(out, &KeywordResult{ID: id, Score: hit.Score})
	}
	return out, nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
