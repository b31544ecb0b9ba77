// Package storage provides the SQLite implementation of MetadataStore.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kiji/internal/models"
)

// SQLiteStore implements MetadataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		text TEXT NOT NULL,
		title TEXT,
		url TEXT NOT NULL,
		published_at TIMESTAMP,
		language TEXT,
		chunk_index INTEGER NOT NULL,
		UNIQUE(url, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_url ON chunks(url);
	CREATE INDEX IF NOT EXISTS idx_chunks_published_at ON chunks(published_at);
	`
	_, err := db.Exec(schema)
	return err
}

// ExistsURL reports whether any chunk with the given article URL is stored.
func (s *SQLiteStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE url = ? LIMIT 1`, url,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("url existence check failed for %s: %w", url, err)
	}
	return true, nil
}

// InsertBatch inserts chunks in one transaction. The ids come from the
// coordinator's counter; generating them here would break the alignment with
// the vector index.
func (s *SQLiteStore) InsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, text, title, url, published_at, language, chunk_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Text, c.Title, c.URL, c.PublishedAt, c.Language, c.ChunkIndex,
		); err != nil {
			return fmt.Errorf("insert chunk %d (%s): %w", c.ID, c.URL, err)
		}
	}
	return tx.Commit()
}

// DeleteByIDs removes rows by id. Rollback path only.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, placeholders(len(ids)))
	_, err := s.db.ExecContext(ctx, query, idArgs(ids)...)
	return err
}

// GetByIDs returns the rows for ids, failing with ErrNotFound if any id is
// missing. A miss is a ledger desync and must surface loudly.
func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Chunk, error) {
	result := make(map[int64]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := fmt.Sprintf(
		`SELECT id, text, title, url, published_at, language, chunk_index
		 FROM chunks WHERE id IN (%s)`, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.Text, &c.Title, &c.URL, &c.PublishedAt, &c.Language, &c.ChunkIndex); err != nil {
			return nil, err
		}
		result[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("%w: id %d has a vector but no metadata row", ErrNotFound, id)
		}
	}
	return result, nil
}

// Count returns the total number of chunk rows.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Stats returns corpus-level counts and the publication date range.
func (s *SQLiteStore) Stats(ctx context.Context) (*CorpusStats, error) {
	stats := &CorpusStats{ByLanguage: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT url) FROM chunks`,
	).Scan(&stats.TotalChunks, &stats.TotalArticles)
	if err != nil {
		return nil, err
	}

	if stats.TotalChunks > 0 {
		var oldest, newest sql.NullTime
		err = s.db.QueryRowContext(ctx,
			`SELECT MIN(published_at), MAX(published_at) FROM chunks`,
		).Scan(&oldest, &newest)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		if oldest.Valid {
			stats.OldestArticle = oldest.Time
		}
		if newest.Valid {
			stats.NewestArticle = newest.Time
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT language, COUNT(DISTINCT url) FROM chunks GROUP BY language ORDER BY COUNT(DISTINCT url) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int64
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		stats.ByLanguage[lang] = n
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
