package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	IncidentID  string
	StoreID     string
	Event       string // see Event* constants
	Node        string
	Decision    string
	Reason      string
	SignalsJSON string // risk snapshot at the time of the event
	CreatedAt   time.Time
}

// #endregion decision-entry

// #region events
const (
	EventCreated   = "created"
	EventSuspended = "suspended"
	EventDecision  = "decision"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// #endregion events

// #region risk-snapshot
// RiskSnapshot is serialized into signals_json so a reviewer can see what the
// pipeline knew when it suspended or finished.
type RiskSnapshot struct {
	IncidentType  string  `json:"incident_type"`
	Severity      int     `json:"severity"`
	RiskScore     float64 `json:"risk_score"`
	RequiresHuman bool    `json:"requires_human"`
	Resolved      bool    `json:"resolved"`
	Escalation    bool    `json:"escalation_required"`
}

// #endregion risk-snapshot
