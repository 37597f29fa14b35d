package incident

import (
	"fmt"

	"github.com/google/uuid"
)

// #region state

// State is the single record threaded through one pipeline invocation.
// It is owned by exactly one invocation at a time and is persisted between a
// suspend and the following resume.
type State struct {
	// Identity
	IncidentID string `json:"incident_id"`
	StoreID    string `json:"store_id"`

	// Raw observations
	VisionObservation *VisionObservation `json:"vision_observation"`
	AudioObservation  *AudioObservation  `json:"audio_observation"`
	VideoObservation  *VideoObservation  `json:"video_observation"`

	// Judged signals
	VisionSignal *Signal `json:"vision_signal"`
	AudioSignal  *Signal `json:"audio_signal"`
	VideoSignal  *Signal `json:"video_signal"`

	FusedIncident FusedIncident `json:"fused_incident"`

	// Memory
	EpisodeMemory   []string       `json:"episode_memory"`
	WorkingMemory   map[string]any `json:"working_memory"`
	LongTermContext *string        `json:"long_term_context"`

	// Understanding
	IncidentType *string `json:"incident_type"`
	Confidence   float64 `json:"confidence"`

	// Risk
	Severity      *int     `json:"severity"`
	RiskScore     *float64 `json:"risk_score"`
	RequiresHuman bool     `json:"requires_human"`

	// Planning & execution
	Plan             []string                 `json:"plan"`
	ExecutionActions *ActionSet               `json:"execution_actions"`
	ExecutionResults map[Channel]ActionResult `json:"execution_results"`
	ExecutionBlocked bool                     `json:"execution_blocked"`

	// Lifecycle
	Resolved           bool    `json:"resolved"`
	EscalationRequired bool    `json:"escalation_required"`
	HumanDecision      *string `json:"human_decision"`

	// Explainability
	Explanation    *string  `json:"explanation"`
	Reflection     *string  `json:"reflection"`
	ReflectionTags []string `json:"reflection_tags"`

	// Cursor is the node a suspended run resumes at; empty means the graph start.
	Cursor string `json:"cursor,omitempty"`
	// Completed is set once the run reached a terminal node or was halted.
	Completed bool `json:"completed"`
}

// New creates a fresh state for storeID with a generated incident id.
func New(storeID string) *State {
	return &State{
		IncidentID:       uuid.New().String(),
		StoreID:          storeID,
		EpisodeMemory:    []string{},
		WorkingMemory:    map[string]any{},
		ExecutionResults: map[Channel]ActionResult{},
	}
}

// #endregion state

// #region trace

// Trace appends a line to the episode memory. Episode memory is never
// truncated or reordered.
func (s *State) Trace(format string, args ...any) {
	s.EpisodeMemory = append(s.EpisodeMemory, fmt.Sprintf(format, args...))
}

// TraceError appends a "<TAG> ERROR: <message>" line.
func (s *State) TraceError(tag string, err error) {
	s.Trace("%s ERROR: %v", tag, err)
}

// #endregion trace

// #region accessors

// SetSeverity stores severity clamped to [1,5].
func (s *State) SetSeverity(v int) {
	v = min(max(v, MinSeverity), MaxSeverity)
	s.Severity = &v
}

// SetRiskScore stores a risk score clamped to [0,1].
func (s *State) SetRiskScore(v float64) {
	v = min(max(v, 0), 1)
	s.RiskScore = &v
}

// SeverityOr returns the severity or fallback when unassessed.
func (s *State) SeverityOr(fallback int) int {
	if s.Severity == nil {
		return fallback
	}
	return *s.Severity
}

// RiskScoreOr returns the risk score or fallback when unassessed.
func (s *State) RiskScoreOr(fallback float64) float64 {
	if s.RiskScore == nil {
		return fallback
	}
	return *s.RiskScore
}

// Type returns the incident type or "unknown".
func (s *State) Type() string {
	if s.IncidentType == nil || *s.IncidentType == "" {
		return UnknownType
	}
	return *s.IncidentType
}

// Decision returns the pending human decision, or "" when none was submitted.
func (s *State) Decision() string {
	if s.HumanDecision == nil {
		return ""
	}
	return *s.HumanDecision
}

// AwaitingDecision reports whether the run is suspended at human review.
func (s *State) AwaitingDecision() bool {
	return !s.Completed && s.RequiresHuman && s.ExecutionBlocked && s.HumanDecision == nil
}

// Phase summarizes where the run stands.
func (s *State) Phase() string {
	switch {
	case s.Completed:
		return PhaseCompleted
	case s.AwaitingDecision():
		return PhaseAwaitingDecision
	default:
		return PhaseRunning
	}
}

// RecordResult stores the outcome of a dispatch attempt.
func (s *State) RecordResult(ch Channel, r ActionResult) {
	if s.ExecutionResults == nil {
		s.ExecutionResults = map[Channel]ActionResult{}
	}
	s.ExecutionResults[ch] = r
}

// Remember writes a working-memory entry.
func (s *State) Remember(key string, value any) {
	if s.WorkingMemory == nil {
		s.WorkingMemory = map[string]any{}
	}
	s.WorkingMemory[key] = value
}

// Vars exposes the fields that graph edge conditions may reference.
func (s *State) Vars() map[string]any {
	return map[string]any{
		"requires_human":      s.RequiresHuman,
		"severity":            s.SeverityOr(0),
		"risk_score":          s.RiskScoreOr(0),
		"resolved":            s.Resolved,
		"escalation_required": s.EscalationRequired,
		"execution_blocked":   s.ExecutionBlocked,
		"human_decision":      s.Decision(),
	}
}

// #endregion accessors

const (
	MinSeverity = 1
	MaxSeverity = 5
)

const (
	PhaseRunning          = "running"
	PhaseAwaitingDecision = "awaiting_decision"
	PhaseCompleted        = "completed"
)

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
