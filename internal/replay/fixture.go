package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/steps"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string `json:"description"`
	Cases       []Case `json:"cases"`
}

// Case is one recorded incident: what was observed, what the reasoner
// answered, and where the run ended.
type Case struct {
	IncidentID string                      `json:"incident_id"`
	StoreID    string                      `json:"store_id"`
	Vision     *incident.VisionObservation `json:"vision,omitempty"`
	Audio      *incident.AudioObservation  `json:"audio,omitempty"`
	Video      *incident.FrameAggregate    `json:"video,omitempty"`
	Decision   string                      `json:"decision,omitempty"`
	Replies    Replies                     `json:"replies"`
	Expected   Outcome                     `json:"expected"`
}

// Replies holds the raw reasoner answer per prompt role. An empty reply
// replays as a reasoner failure.
type Replies struct {
	Vision        string `json:"vision,omitempty"`
	Speech        string `json:"speech,omitempty"`
	Video         string `json:"video,omitempty"`
	Fusion        string `json:"fusion,omitempty"`
	Risk          string `json:"risk,omitempty"`
	Plan          string `json:"plan,omitempty"`
	Communication string `json:"communication,omitempty"`
	Reflection    string `json:"reflection,omitempty"`
}

// Outcome is the comparable end state of a run.
type Outcome struct {
	Phase         string   `json:"phase"`
	IncidentType  string   `json:"incident_type,omitempty"`
	Severity      int      `json:"severity,omitempty"`
	RequiresHuman bool     `json:"requires_human"`
	Blocked       bool     `json:"execution_blocked"`
	Escalated     bool     `json:"escalation_required"`
	Resolved      bool     `json:"resolved"`
	Channels      []string `json:"channels,omitempty"`
}

// #endregion fixture-types

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(f *Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-io

// #region from-state

// OutcomeOf extracts the comparable outcome of a run.
func OutcomeOf(st *incident.State) Outcome {
	o := Outcome{
		Phase:         st.Phase(),
		IncidentType:  st.Type(),
		Severity:      st.SeverityOr(0),
		RequiresHuman: st.RequiresHuman,
		Blocked:       st.ExecutionBlocked,
		Escalated:     st.EscalationRequired,
		Resolved:      st.Resolved,
	}
	for ch := range st.ExecutionResults {
		o.Channels = append(o.Channels, string(ch))
	}
	sort.Strings(o.Channels)
	return o
}

// CaseFromState rebuilds a replayable case from a persisted incident. The
// replies are reconstructed from the fields each step wrote, so a replay
// reaches the same outcome without the original model.
func CaseFromState(st *incident.State) Case {
	c := Case{
		IncidentID: st.IncidentID,
		StoreID:    st.StoreID,
		Vision:     st.VisionObservation,
		Audio:      st.AudioObservation,
		Decision:   st.Decision(),
		Expected:   OutcomeOf(st),
	}
	if st.VideoObservation != nil {
		c.Video = st.VideoObservation.Aggregate
	}

	c.Replies.Vision = signalReply(st.VisionSignal)
	c.Replies.Speech = signalReply(st.AudioSignal)
	c.Replies.Video = signalReply(st.VideoSignal)
	if !st.FusedIncident.IsEmpty() {
		c.Replies.Fusion = mustJSON(map[string]any{
			"incident_type":       st.FusedIncident.IncidentType,
			"description":         st.FusedIncident.Description,
			"combined_confidence": st.FusedIncident.CombinedConfidence,
			"supporting_evidence": st.FusedIncident.SupportingEvidence,
		})
	}
	if st.Severity != nil && st.RiskScore != nil {
		// Review and monitoring may raise severity after assessment, and an
		// approval clears requires_human.
		severity := float64(*st.Severity)
		if v, ok := st.WorkingMemory[steps.WorkingAssessedSeverity].(float64); ok {
			severity = v
		}
		justification, _ := st.WorkingMemory[steps.WorkingRiskJustification].(string)
		c.Replies.Risk = mustJSON(map[string]any{
			"severity":       severity,
			"risk_score":     *st.RiskScore,
			"requires_human": st.RequiresHuman || st.HumanDecision != nil,
			"justification":  justification,
		})
	}
	for i, step := range st.Plan {
		if i > 0 {
			c.Replies.Plan += "\n"
		}
		c.Replies.Plan += step
	}
	if st.ExecutionActions != nil {
		c.Replies.Communication = mustJSON(st.ExecutionActions)
	}
	if st.Reflection != nil {
		c.Replies.Reflection = *st.Reflection
	}
	return c
}

func signalReply(sig *incident.Signal) string {
	if sig == nil {
		return ""
	}
	return mustJSON(map[string]any{
		"is_incident":        sig.IsIncident,
		"scenario_or_intent": sig.Scenario,
		"confidence":         sig.Confidence,
		"evidence":           sig.Evidence,
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion from-state
