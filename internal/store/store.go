// Package store persists incident state documents in SQLite. Every Put
// appends a revision; the incidents table points at the latest one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

var (
	// ErrNotFound is returned when no incident has the requested id.
	ErrNotFound = errors.New("incident not found")
	// ErrRevisionConflict is returned by PutIfRevision when the incident
	// moved past the revision the caller read.
	ErrRevisionConflict = errors.New("incident revision moved")
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS incident_revisions (
	incident_id   TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	cursor        TEXT,
	document      TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	PRIMARY KEY (incident_id, revision)
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id   TEXT PRIMARY KEY,
	store_id      TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	incident_type TEXT,
	severity      INTEGER,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	FOREIGN KEY (incident_id, revision) REFERENCES incident_revisions(incident_id, revision)
);

CREATE INDEX IF NOT EXISTS idx_incidents_store ON incidents(store_id, updated_at);
`

// #endregion schema

// #region types

// Summary is one row of an incident listing.
type Summary struct {
	IncidentID   string    `json:"incident_id"`
	StoreID      string    `json:"store_id"`
	Revision     int       `json:"revision"`
	Phase        string    `json:"phase"`
	IncidentType string    `json:"incident_type,omitempty"`
	Severity     *int      `json:"severity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Revision is one persisted snapshot of an incident.
type Revision struct {
	Revision  int       `json:"revision"`
	Phase     string    `json:"phase"`
	Cursor    string    `json:"cursor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// #endregion types

// #region store-struct

// Store manages incident documents in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens a SQLite database at dbPath and runs migrations. ":memory:" is
// limited to one connection so every caller sees the same database. File
// databases set their pragmas per connection and take the write lock when a
// transaction begins, so several processes can share one file.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB runs migrations on an existing connection.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB so the vector index and decision log can
// share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region put

// Put writes st as a new revision and moves the incident's pointer to it.
// It returns the revision number.
func (s *Store) Put(ctx context.Context, st *incident.State) (int, error) {
	return s.put(ctx, st, -1)
}

// PutIfRevision writes st as revision expected+1 only while the incident's
// pointer is still at expected. Otherwise nothing is written and the error
// wraps ErrRevisionConflict. An expected of 0 claims a new incident id.
func (s *Store) PutIfRevision(ctx context.Context, st *incident.State, expected int) (int, error) {
	if expected < 0 {
		return 0, fmt.Errorf("put %s: negative revision %d", st.IncidentID, expected)
	}
	return s.put(ctx, st, expected)
}

// put appends a revision. A negative expected appends unconditionally.
func (s *Store) put(ctx context.Context, st *incident.State, expected int) (int, error) {
	if st.IncidentID == "" {
		return 0, errors.New("put: incident id is required")
	}
	doc, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("marshal incident: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	phase := st.Phase()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rev := expected + 1
	if expected < 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision), 0) + 1 FROM incident_revisions WHERE incident_id = ?`,
			st.IncidentID,
		).Scan(&rev)
		if err != nil {
			return 0, fmt.Errorf("next revision: %w", err)
		}
	}
	conflict := fmt.Errorf("put %s at revision %d: %w", st.IncidentID, expected, ErrRevisionConflict)

	var cursor any
	if st.Cursor != "" {
		cursor = st.Cursor
	}
	// The pointer always names the highest revision, so revision expected+1
	// already existing means another writer got there first.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO incident_revisions (incident_id, revision, phase, cursor, document, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(incident_id, revision) DO NOTHING`,
		st.IncidentID, rev, phase, cursor, string(doc), now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, conflict
	}

	var incType, severity any
	if st.IncidentType != nil {
		incType = *st.IncidentType
	}
	if st.Severity != nil {
		severity = *st.Severity
	}
	if expected > 0 {
		res, err = tx.ExecContext(ctx,
			`UPDATE incidents SET revision = ?, phase = ?, incident_type = ?, severity = ?, updated_at = ?
			 WHERE incident_id = ? AND revision = ?`,
			rev, phase, incType, severity, now, st.IncidentID, expected,
		)
		if err != nil {
			return 0, fmt.Errorf("update incident: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, conflict
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO incidents (incident_id, store_id, revision, phase, incident_type, severity, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(incident_id) DO UPDATE SET
			   revision = excluded.revision,
			   phase = excluded.phase,
			   incident_type = excluded.incident_type,
			   severity = excluded.severity,
			   updated_at = excluded.updated_at`,
			st.IncidentID, st.StoreID, rev, phase, incType, severity, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert incident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rev, nil
}

// #endregion put

// #region get

// Get returns the latest revision of an incident.
func (s *Store) Get(ctx context.Context, incidentID string) (*incident.State, error) {
	st, _, err := s.GetRevision(ctx, incidentID)
	return st, err
}

// GetRevision returns the latest state of an incident and its revision
// number, for a later PutIfRevision.
func (s *Store) GetRevision(ctx context.Context, incidentID string) (*incident.State, int, error) {
	var doc string
	var rev int
	err := s.db.QueryRowContext(ctx,
		`SELECT r.document, i.revision FROM incidents i
		 JOIN incident_revisions r ON r.incident_id = i.incident_id AND r.revision = i.revision
		 WHERE i.incident_id = ?`, incidentID,
	).Scan(&doc, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("get %s: %w", incidentID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", incidentID, err)
	}
	var st incident.State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, 0, fmt.Errorf("unmarshal incident %s: %w", incidentID, err)
	}
	return &st, rev, nil
}

// #endregion get

// #region list

// List returns the most recently updated incidents of a store. An empty
// storeID lists all stores.
func (s *Store) List(ctx context.Context, storeID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT incident_id, store_id, revision, phase, incident_type, severity, created_at, updated_at
		 FROM incidents`
	args := []any{}
	if storeID != "" {
		query += ` WHERE store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY updated_at DESC, incident_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var incType sql.NullString
		var severity sql.NullInt64
		var created, updated string
		if err := rows.Scan(&sum.IncidentID, &sum.StoreID, &sum.Revision, &sum.Phase, &incType, &severity, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if incType.Valid {
			sum.IncidentType = incType.String
		}
		if severity.Valid {
			v := int(severity.Int64)
			sum.Severity = &v
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// #endregion list

// #region history

// History lists every revision of an incident, oldest first.
func (s *Store) History(ctx context.Context, incidentID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, phase, cursor, created_at FROM incident_revisions
		 WHERE incident_id = ? ORDER BY revision`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", incidentID, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var cursor sql.NullString
		var created string
		if err := rows.Scan(&r.Revision, &r.Phase, &cursor, &created); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.Cursor = cursor.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("history %s: %w", incidentID, ErrNotFound)
	}
	return out, nil
}

// #endregion history
