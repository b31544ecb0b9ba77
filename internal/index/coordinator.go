// Package index owns the invariant that the vector index and the metadata
// store evolve in lockstep: for every id in [0, N) there is exactly one
// embedding and exactly one metadata row.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
)

// ErrConsistency is returned when the vector count and the metadata row count
// diverge. This is fail-closed: ingestion refuses to proceed until the stores
// are repaired (by restoring a matching artifact pair), and the divergence is
// never reconciled by guessing.
var ErrConsistency = errors.New("vector index and metadata store are inconsistent")

// Coordinator is the single ingestion entry point. It reserves contiguous id
// blocks, writes metadata before vectors (a metadata row without a vector is
// recoverable; a vector without its text is not), rolls back on append
// failure, and persists both stores under an exclusive lock.
type Coordinator struct {
	vectors  vector.Index
	metadata storage.MetadataStore
	keywords keyword.KeywordIndex
	paths    *config.StorageConfig
	logger   *zap.Logger

	// mu is the single-writer/multi-reader lock: Ingest holds it exclusively
	// across append+persist so a concurrent search never observes one store
	// ahead of the other.
	mu    sync.RWMutex
	ready bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a logger for ingest and consistency events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithKeywordIndex attaches a keyword index maintained alongside the ledger.
// It is derived state: indexing failures are logged, not fatal, and it is
// excluded from the alignment invariant.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(c *Coordinator) { c.keywords = k }
}

// NewCoordinator creates a coordinator over the given stores. Open must be
// called before any other operation.
func NewCoordinator(vectors vector.Index, metadata storage.MetadataStore, paths *config.StorageConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		vectors:  vectors,
		metadata: metadata,
		paths:    paths,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open loads the persisted vector blob and verifies the alignment invariant.
// On a true first run (no blob, no metadata rows) both stores are created
// empty. A missing blob with existing metadata rows, or any count divergence,
// is fatal: proceeding would serve plausible-looking but wrong results.
func (c *Coordinator) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.metadata.Count(ctx)
	if err != nil {
		return fmt.Errorf("count metadata rows: %w", err)
	}

	if err := c.vectors.Load(c.paths.VectorIndexPath); err != nil {
		if !errors.Is(err, vector.ErrStoreUnavailable) {
			return err
		}
		if rows != 0 {
			return fmt.Errorf("%w: vector blob missing at %s but metadata has %d rows: %v",
				ErrConsistency, c.paths.VectorIndexPath, rows, err)
		}
		// First run: create the empty blob now so a missing medium fails
		// here, before any query or append is attempted.
		if saveErr := c.vectors.Save(c.paths.VectorIndexPath); saveErr != nil {
			return fmt.Errorf("%w: cannot create vector blob: %v", vector.ErrStoreUnavailable, saveErr)
		}
		c.logger.Info("initialized empty stores", zap.String("vector_path", c.paths.VectorIndexPath))
	}

	if n := int64(c.vectors.Size()); n != rows {
		return fmt.Errorf("%w: %d vectors, %d metadata rows", ErrConsistency, n, rows)
	}

	c.ready = true
	c.logger.Info("index opened",
		zap.Int("vectors", c.vectors.Size()),
		zap.Int64("metadata_rows", rows),
	)
	return nil
}

// Ingest stores every article whose URL is not already indexed and returns the
// number of chunks added. Articles are processed one by one; a failure aborts
// the call but the articles already written stay, and the vector blob is
// persisted for them before the error propagates.
func (c *Coordinator) Ingest(ctx context.Context, articles []*models.ArticleInput) (added int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return 0, fmt.Errorf("%w: coordinator not opened", ErrConsistency)
	}

	batchID := uuid.New().String()[:8]
	skipped := 0

	defer func() {
		if added > 0 {
			if saveErr := c.vectors.Save(c.paths.VectorIndexPath); saveErr != nil {
				// SQLite rows for this batch are already durable; a stale blob
				// will be caught as ErrConsistency on next Open.
				err = errors.Join(err, fmt.Errorf("persist vector index: %w", saveErr))
			}
		}
		c.logger.Info("ingest finished",
			zap.String("batch", batchID),
			zap.Int("chunks_added", added),
			zap.Int("articles_skipped", skipped),
			zap.Int("corpus_size", c.vectors.Size()),
		)
	}()

	for _, article := range articles {
		if len(article.Chunks) == 0 {
			skipped++
			continue
		}
		exists, err := c.metadata.ExistsURL(ctx, article.URL)
		if err != nil {
			return added, fmt.Errorf("existence check for %s: %w", article.URL, err)
		}
		if exists {
			skipped++
			c.logger.Debug("article already indexed", zap.String("batch", batchID), zap.String("url", article.URL))
			continue
		}
		if err := c.ingestArticle(ctx, article); err != nil {
			return added, err
		}
		added += len(article.Chunks)
	}
	return added, nil
}

// ingestArticle writes one article under a freshly reserved contiguous id
// block. Caller holds the write lock.
func (c *Coordinator) ingestArticle(ctx context.Context, article *models.ArticleInput) error {
	// Reject bad embeddings before touching either store.
	dims := c.vectors.Dimensions()
	embeddings := make([][]float32, len(article.Chunks))
	for i, chunk := range article.Chunks {
		if len(chunk.Embedding) != dims {
			return fmt.Errorf("%w: %s chunk %d has %d dimensions, index expects %d",
				vector.ErrDimensionMismatch, article.URL, i, len(chunk.Embedding), dims)
		}
		embeddings[i] = chunk.Embedding
	}

	nextID := int64(c.vectors.Size())
	rows := make([]*models.Chunk, len(article.Chunks))
	ids := make([]int64, len(article.Chunks))
	for i, chunk := range article.Chunks {
		ids[i] = nextID + int64(i)
		rows[i] = &models.Chunk{
			ID:          ids[i],
			Text:        chunk.Text,
			Title:       article.Title,
			URL:         article.URL,
			PublishedAt: article.PublishedAt,
			Language:    article.Language,
			ChunkIndex:  i,
		}
	}

	// Metadata first: a row without a vector can be rolled back or re-embedded,
	// a vector without its text cannot.
	if err := c.metadata.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("insert metadata for %s: %w", article.URL, err)
	}
	assigned, err := c.vectors.Append(ctx, embeddings)
	if err != nil {
		if rbErr := c.metadata.DeleteByIDs(ctx, ids); rbErr != nil {
			return fmt.Errorf("%w: append failed for %s (%v) and metadata rollback failed: %v",
				ErrConsistency, article.URL, err, rbErr)
		}
		return fmt.Errorf("append vectors for %s: %w", article.URL, err)
	}
	if len(assigned) != len(ids) || assigned[0] != ids[0] {
		return fmt.Errorf("%w: reserved ids starting at %d but index assigned %v", ErrConsistency, nextID, assigned)
	}

	if c.keywords != nil {
		if err := c.keywords.IndexBatch(ctx, rows); err != nil {
			c.logger.Warn("keyword indexing failed", zap.String("url", article.URL), zap.Error(err))
		}
	}
	return nil
}

// Search runs a similarity search under a read lock.
func (c *Coordinator) Search(ctx context.Context, query []float32, n int) ([]vector.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectors.Search(ctx, query, n)
}

// Chunks returns metadata rows for candidate ids under a read lock.
func (c *Coordinator) Chunks(ctx context.Context, ids []int64) (map[int64]*models.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata.GetByIDs(ctx, ids)
}

// Size returns the number of indexed chunks.
func (c *Coordinator) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectors.Size()
}

// Close closes the underlying stores.
func (c *Coordinator) Close() error {
	var errs []error
	if err := c.metadata.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.keywords != nil {
		if err := c.keywords.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
