package index

import (
	"context"
	"fmt"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
)

// Report is a snapshot of what is actually stored, for the status endpoint and
// CLI. VectorCount and TotalChunks are equal whenever the ledger is healthy.
type Report struct {
	storage.CorpusStats
	VectorCount int    `json:"vector_count"`
	KeywordDocs uint64 `json:"keyword_docs,omitempty"`
	DiskBytes   int64  `json:"disk_bytes"`
	Consistent  bool   `json:"consistent"`
}

// Report gathers corpus statistics and on-disk sizes under a read lock.
func (c *Coordinator) Report(ctx context.Context) (*Report, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats, err := c.metadata.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata stats: %w", err)
	}
	report := &Report{
		CorpusStats: *stats,
		VectorCount: c.vectors.Size(),
	}
	report.Consistent = int64(report.VectorCount) == stats.TotalChunks

	if c.keywords != nil {
		if n, err := c.keywords.DocCount(); err == nil {
			report.KeywordDocs = n
		}
	}
	disk, err := storage.DiskUsageBytes(
		c.paths.DatabasePath,
		c.paths.VectorIndexPath,
		c.paths.KeywordIndexPath,
	)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	report.DiskBytes = disk
	return report, nil
}

// KeywordHit is a keyword lookup result materialized with its chunk record.
type KeywordHit struct {
	Chunk *models.Chunk `json:"chunk"`
	Score float64       `json:"score"`
}

// KeywordSearch looks up chunks by keyword match. Returns an empty list when
// no keyword index is configured.
func (c *Coordinator) KeywordSearch(ctx context.Context, query string, limit int) ([]*KeywordHit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.keywords == nil {
		return []*KeywordHit{}, nil
	}
	results, err := c.keywords.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []*KeywordHit{}, nil
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	rows, err := c.metadata.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	hits := make([]*KeywordHit, len(results))
	for i, r := range results {
		hits[i] = &KeywordHit{Chunk: rows[r.ID], Score: r.Score}
	}
	return hits, nil
}
