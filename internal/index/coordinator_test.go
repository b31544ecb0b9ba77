package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
)

const testDims = 4

func testPaths(t *testing.T) *config.StorageConfig {
	dir := t.TempDir()
	return &config.StorageConfig{
		DatabasePath:     filepath.Join(dir, "metadata.db"),
		VectorIndexPath:  filepath.Join(dir, "vectors.bin"),
		KeywordIndexPath: filepath.Join(dir, "keyword"),
	}
}

func newTestCoordinator(t *testing.T, paths *config.StorageConfig) *Coordinator {
	t.Helper()
	idx, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(paths.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(idx, store, paths)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func unitVec(axis int) []float32 {
	v := make([]float32, testDims)
	v[axis%testDims] = 1
	return v
}

func makeArticle(url string, nchunks int) *models.ArticleInput {
	a := &models.ArticleInput{
		URL:         url,
		Title:       "Headline for " + url,
		PublishedAt: time.Now().Add(-24 * time.Hour),
		Language:    "en",
	}
	for i := 0; i < nchunks; i++ {
		a.Chunks = append(a.Chunks, models.ChunkInput{
			Text:      fmt.Sprintf("passage %d of %s", i, url),
			Embedding: unitVec(i),
		})
	}
	return a
}

func TestCoordinator_IngestAligned(t *testing.T) {
	paths := testPaths(t)
	c := newTestCoordinator(t, paths)
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	added, err := c.Ingest(ctx, []*models.ArticleInput{
		makeArticle("https://example.com/a", 3),
		makeArticle("https://example.com/b", 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if added != 5 {
		t.Errorf("added=%d, want 5", added)
	}
	if c.Size() != 5 {
		t.Errorf("Size=%d, want 5", c.Size())
	}
	rows, err := c.Chunks(ctx, []int64{0, 1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if rows[3].URL != "https://example.com/b" || rows[3].ChunkIndex != 0 {
		t.Errorf("row 3 = %+v", rows[3])
	}
}

func TestCoordinator_IngestIdempotent(t *testing.T) {
	paths := testPaths(t)
	c := newTestCoordinator(t, paths)
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	five := []*models.ArticleInput{
		makeArticle("https://example.com/1", 1),
		makeArticle("https://example.com/2", 1),
		makeArticle("https://example.com/3", 1),
		makeArticle("https://example.com/4", 1),
		makeArticle("https://example.com/5", 1),
	}
	added, err := c.Ingest(ctx, five)
	if err != nil {
		t.Fatal(err)
	}
	if added != 5 {
		t.Fatalf("first ingest added=%d, want 5", added)
	}

	// Same five plus two new: only the two new ones land.
	seven := append(five,
		makeArticle("https://example.com/6", 1),
		makeArticle("https://example.com/7", 1),
	)
	added, err = c.Ingest(ctx, seven)
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Errorf("second ingest added=%d, want 2", added)
	}
	if c.Size() != 7 {
		t.Errorf("Size=%d, want 7", c.Size())
	}
}

func TestCoordinator_PersistReload(t *testing.T) {
	paths := testPaths(t)
	ctx := context.Background()

	c := newTestCoordinator(t, paths)
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ingest(ctx, []*models.ArticleInput{makeArticle("https://example.com/a", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestCoordinator(t, paths)
	if err := reopened.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != 2 {
		t.Fatalf("Size after reload=%d, want 2", reopened.Size())
	}
	results, err := reopened.Search(ctx, unitVec(0), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 0 {
		t.Errorf("results=%v", results)
	}
	rows, err := reopened.Chunks(ctx, []int64{results[0].ID})
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Text == "" {
		t.Error("metadata lost across reload")
	}
}

func TestCoordinator_OpenMissingBlobWithRows(t *testing.T) {
	paths := testPaths(t)
	ctx := context.Background()

	c := newTestCoordinator(t, paths)
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ingest(ctx, []*models.ArticleInput{makeArticle("https://example.com/a", 1)}); err != nil {
		t.Fatal(err)
	}
	_ = c.Close()

	// Simulate losing the vector blob while keeping the database.
	if err := os.Remove(paths.VectorIndexPath); err != nil {
		t.Fatal(err)
	}
	broken := newTestCoordinator(t, paths)
	if err := broken.Open(ctx); !errors.Is(err, ErrConsistency) {
		t.Errorf("Open err=%v, want ErrConsistency", err)
	}
}

func TestCoordinator_DimensionMismatchLeavesLedgerIntact(t *testing.T) {
	paths := testPaths(t)
	c := newTestCoordinator(t, paths)
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	bad := makeArticle("https://example.com/bad", 1)
	bad.Chunks[0].Embedding = []float32{1, 0} // wrong dimension

	_, err := c.Ingest(ctx, []*models.ArticleInput{bad})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("err=%v, want ErrDimensionMismatch", err)
	}
	if c.Size() != 0 {
		t.Errorf("Size=%d after rejected batch, want 0", c.Size())
	}
	report, err := c.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent || report.TotalChunks != 0 {
		t.Errorf("report=%+v", report)
	}
}

func TestCoordinator_AppendFailureRollsBackMetadata(t *testing.T) {
	paths := testPaths(t)
	idx, _ := vector.NewFlatIndex(testDims)
	store, err := storage.NewSQLiteStore(paths.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	failing := &failingIndex{Index: idx}
	c := NewCoordinator(failing, store, paths)
	defer c.Close()
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	failing.failAppend = true
	_, err = c.Ingest(ctx, []*models.ArticleInput{makeArticle("https://example.com/a", 2)})
	if err == nil {
		t.Fatal("expected ingest to fail")
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("metadata rows=%d after rollback, want 0", count)
	}

	// Same URL must ingest cleanly once the index recovers.
	failing.failAppend = false
	added, err := c.Ingest(ctx, []*models.ArticleInput{makeArticle("https://example.com/a", 2)})
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Errorf("added=%d after recovery, want 2", added)
	}
}

func TestCoordinator_IngestBeforeOpenRefused(t *testing.T) {
	paths := testPaths(t)
	c := newTestCoordinator(t, paths)
	_, err := c.Ingest(context.Background(), []*models.ArticleInput{makeArticle("https://example.com/a", 1)})
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("err=%v, want ErrConsistency", err)
	}
}

// Readers hammer Search+Chunks while a writer ingests. Any id a reader sees in
// the vector index must already have its metadata row; a miss means a search
// observed the stores mid-append. Run with -race.
func TestCoordinator_ConcurrentIngestAndRead(t *testing.T) {
	paths := testPaths(t)
	c := newTestCoordinator(t, paths)
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	const readers = 4
	const articles = 50

	done := make(chan struct{})
	errCh := make(chan error, readers)
	var wg sync.WaitGroup
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				results, err := c.Search(ctx, unitVec(0), 5)
				if err != nil {
					errCh <- fmt.Errorf("search: %w", err)
					return
				}
				if len(results) == 0 {
					continue
				}
				ids := make([]int64, len(results))
				for i, res := range results {
					ids[i] = res.ID
				}
				if _, err := c.Chunks(ctx, ids); err != nil {
					errCh <- fmt.Errorf("id visible in vector index but not in metadata: %w", err)
					return
				}
			}
		}()
	}

	for i := 0; i < articles; i++ {
		url := fmt.Sprintf("https://example.com/concurrent-%d", i)
		if _, err := c.Ingest(ctx, []*models.ArticleInput{makeArticle(url, 3)}); err != nil {
			close(done)
			wg.Wait()
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
	if c.Size() != articles*3 {
		t.Errorf("Size=%d, want %d", c.Size(), articles*3)
	}
}

// failingIndex wraps a vector index and fails Append on demand.
type failingIndex struct {
	vector.Index
	failAppend bool
}

func (f *failingIndex) Append(ctx context.Context, vectors [][]float32) ([]int64, error) {
	if f.failAppend {
		return nil, errors.New("simulated append failure")
	}
	return f.Index.Append(ctx, vectors)
}
