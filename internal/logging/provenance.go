package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const decisionSchema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id  TEXT NOT NULL,
	store_id     TEXT NOT NULL,
	event        TEXT NOT NULL,
	node         TEXT,
	decision     TEXT,
	reason       TEXT,
	signals_json TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_incident ON decision_log(incident_id, id);
`

// EnsureDecisionLog creates the decision_log table if needed.
func EnsureDecisionLog(db *sql.DB) error {
	if _, err := db.Exec(decisionSchema); err != nil {
		return fmt.Errorf("decision log schema: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// LogDecision appends an entry to the decision log.
func LogDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (incident_id, store_id, event, node, decision, reason, signals_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.IncidentID,
		entry.StoreID,
		entry.Event,
		nullIfEmpty(entry.Node),
		nullIfEmpty(entry.Decision),
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.SignalsJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region decisions
// Decisions returns an incident's log entries in the order they were written.
func Decisions(ctx context.Context, db *sql.DB, incidentID string) ([]DecisionEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT incident_id, store_id, event, node, decision, reason, signals_json, created_at
		 FROM decision_log WHERE incident_id = ? ORDER BY id`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var node, decision, reason, signals sql.NullString
		var created string
		if err := rows.Scan(&e.IncidentID, &e.StoreID, &e.Event, &node, &decision, &reason, &signals, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Node = node.String
		e.Decision = decision.String
		e.Reason = reason.String
		e.SignalsJSON = signals.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
