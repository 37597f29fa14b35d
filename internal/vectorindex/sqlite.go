package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS index_entries (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    tenant_id   TEXT NOT NULL,
    document    TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}',
    dimension   INTEGER NOT NULL,
    embedding   BLOB NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_index_entries_tenant ON index_entries(tenant_id, seq);
`

// #endregion schema

// #region sqlite-index

// SQLiteIndex keeps entries in one table keyed by tenant_id. Similarity is
// computed in Go over the tenant's rows.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates the index table if needed.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("vector index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// #endregion sqlite-index

// #region add

// Add inserts an entry. Each Add is a single INSERT, so concurrent appends to
// the same tenant serialize in SQLite and none are lost.
func (s *SQLiteIndex) Add(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	return insertEntry(ctx, s.db, e)
}

// AddBatch inserts entries in one transaction. A failed insert rolls back the
// whole batch.
func (s *SQLiteIndex) AddBatch(ctx context.Context, entries []Entry) error {
	if err := validateBatch(entries); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()
	for i, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e Entry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO index_entries (id, tenant_id, document, metadata, dimension, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Document, string(metaJSON), len(e.Embedding),
		encodeEmbedding(e.Embedding), created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// #endregion add

// #region search

// Search ranks the tenant's entries by cosine similarity to query. Entries of
// a different dimension are skipped. An unknown tenant yields no hits.
func (s *SQLiteIndex) Search(ctx context.Context, tenantID string, query []float32, k int) ([]Hit, error) {
	if tenantID == "" || len(query) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata, embedding
		 FROM index_entries
		 WHERE tenant_id = ? AND dimension = ?
		 ORDER BY seq`,
		tenantID, len(query),
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var metaJSON string
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Document, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", h.ID, err)
		}
		h.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(metaJSON), &h.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata %s: %w", h.ID, err)
		}
		h.Score = cosineSimilarity(query, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankAndLimit(hits, k), nil
}

// #endregion search

// #region delete-tenant

// DeleteTenant removes every entry of one tenant and returns the count.
func (s *SQLiteIndex) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM index_entries WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// #endregion delete-tenant

// #region count

// Count returns the number of entries stored for a tenant.
func (s *SQLiteIndex) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_entries WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}

// #endregion count
