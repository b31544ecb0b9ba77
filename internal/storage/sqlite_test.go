package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunks(url string, startID int64, n int) []*models.Chunk {
	chunks := make([]*models.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = &models.Chunk{
			ID:          startID + int64(i),
			Text:        "passage text",
			Title:       "Some headline",
			URL:         url,
			PublishedAt: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
			Language:    "en",
			ChunkIndex:  i,
		}
	}
	return chunks
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBatch(ctx, testChunks("https://example.com/a", 0, 3)); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetByIDs(ctx, []int64{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[1].URL != "https://example.com/a" || got[1].ChunkIndex != 1 {
		t.Errorf("row 1 = %+v", got[1])
	}
	if got[2].PublishedAt.IsZero() {
		t.Error("published_at not round-tripped")
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Count=%d, want 3", count)
	}
}

func TestSQLiteStore_ExistsURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.ExistsURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unseen url reported as existing")
	}
	if err := store.InsertBatch(ctx, testChunks("https://example.com/a", 0, 2)); err != nil {
		t.Fatal(err)
	}
	ok, err = store.ExistsURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("indexed url not found")
	}
}

func TestSQLiteStore_GetByIDs_MissingIDIsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertBatch(ctx, testChunks("https://example.com/a", 0, 1)); err != nil {
		t.Fatal(err)
	}
	_, err := store.GetByIDs(ctx, []int64{0, 7})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_DeleteByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertBatch(ctx, testChunks("https://example.com/a", 0, 3)); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteByIDs(ctx, []int64{1, 2}); err != nil {
		t.Fatal(err)
	}
	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("Count=%d after delete, want 1", count)
	}
}

func TestSQLiteStore_DuplicateChunkRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertBatch(ctx, testChunks("https://example.com/a", 0, 1)); err != nil {
		t.Fatal(err)
	}
	// Same url + chunk_index under a new id violates the uniqueness constraint.
	err := store.InsertBatch(ctx, testChunks("https://example.com/a", 5, 1))
	if err == nil {
		t.Error("duplicate (url, chunk_index) insert should fail")
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := testChunks("https://example.com/a", 0, 2)
	b := testChunks("https://example.com/b", 2, 1)
	b[0].Language = "ne"
	b[0].PublishedAt = time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if err := store.InsertBatch(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertBatch(ctx, b); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalChunks != 3 || stats.TotalArticles != 2 {
		t.Errorf("stats=%+v", stats)
	}
	if stats.ByLanguage["en"] != 1 || stats.ByLanguage["ne"] != 1 {
		t.Errorf("ByLanguage=%v", stats.ByLanguage)
	}
	if !stats.NewestArticle.After(stats.OldestArticle) {
		t.Errorf("date range %v..%v", stats.OldestArticle, stats.NewestArticle)
	}
}
