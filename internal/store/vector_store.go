package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// =============================================================================
// VECTOR STORE
// =============================================================================

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VectorStore keeps document chunks and their embeddings in SQLite tables.
// Tables are created lazily by the first Append. A VectorStore is owned by a
// single goroutine (the retrieval actor) and holds one connection.
type VectorStore struct {
	db   *sql.DB
	path string
}

// OpenVectorStore opens (creating if needed) the database at path.
func OpenVectorStore(path string) (*VectorStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenVectorStore")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(vectorDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to vector database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	logging.Store("Vector store opened: path=%s driver=%s distance=%s", path, vectorDriverName, vectorDistanceFunc)
	return &VectorStore{db: db, path: path}, nil
}

// Close releases the connection.
func (s *VectorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func checkTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// TableExists reports whether table has been created.
func (s *VectorStore) TableExists(ctx context.Context, table string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return n > 0, nil
}

func (s *VectorStore) createTable(ctx context.Context, tx *sql.Tx, table string) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT,
		vector BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_metadata ON %[1]s(metadata);`, table)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// Append writes chunks to table in one transaction, creating the table first
// if it does not exist yet.
func (s *VectorStore) Append(ctx context.Context, table string, chunks []types.DocumentChunk) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryStore, "VectorStore.Append")
	defer timer.Stop()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.createTable(ctx, tx, table); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, content, metadata, vector) VALUES (?, ?, ?, ?)", table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var blob []byte
		if len(c.Vector) > 0 {
			blob = encodeFloat32SliceToBlob(c.Vector)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Text, c.Metadata, blob); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	logging.StoreDebug("Appended %d chunks to %s", len(chunks), table)
	return nil
}

// Search returns the chunks nearest to query, closest first and in insertion
// order among equal distances. A non-empty filters list restricts results to
// chunks whose metadata equals any entry. The caller checks that the table
// exists.
func (s *VectorStore) Search(ctx context.Context, table string, query []float32, filters []string, limit int) ([]types.SearchResult, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	timer := logging.StartTimer(logging.CategoryStore, "VectorStore.Search")
	defer timer.Stop()

	var sb strings.Builder
	args := []any{encodeFloat32SliceToBlob(query)}
	fmt.Fprintf(&sb, "SELECT id, content, COALESCE(metadata, ''), %s(vector, ?) AS distance FROM %s WHERE vector IS NOT NULL",
		vectorDistanceFunc, table)
	if len(filters) > 0 {
		sb.WriteString(" AND metadata IN (")
		for i, f := range filters {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, f)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ORDER BY distance ASC, rowid ASC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to read search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	logging.StoreDebug("Search on %s returned %d rows (filters=%d, limit=%d)", table, len(results), len(filters), limit)
	return results, nil
}

// DeleteByMetadata removes every chunk tagged with metadata and returns how
// many were removed. A missing table removes nothing.
func (s *VectorStore) DeleteByMetadata(ctx context.Context, table, metadata string) (int64, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil || !exists {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE metadata = ?", table), metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of chunks in table, zero when it does not exist.
func (s *VectorStore) Count(ctx context.Context, table string) (int, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil || !exists {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
