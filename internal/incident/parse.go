package incident

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// #region errors

// ErrMalformedOutput marks a reasoner reply that does not match the shape a
// step expects.
var ErrMalformedOutput = errors.New("malformed reasoner output")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...))
}

// #endregion errors

// #region decode

// stripFence removes a surrounding Markdown code fence (```json ... ```).
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func decodeObject(raw string, v any) error {
	body := stripFence(raw)
	if body == "" {
		return malformed("empty reply")
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return malformed("%v", err)
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return malformed("%s %.3f outside [0,1]", name, v)
	}
	return nil
}

// #endregion decode

// #region signal

type rawSignal struct {
	IsIncident *bool    `json:"is_incident"`
	Scenario   *string  `json:"scenario_or_intent"`
	Confidence *float64 `json:"confidence"`
	Evidence   *string  `json:"evidence"`
}

// ParseSignal parses {is_incident, scenario_or_intent, confidence, evidence}.
func ParseSignal(raw string) (Signal, error) {
	var r rawSignal
	if err := decodeObject(raw, &r); err != nil {
		return Signal{}, err
	}
	if r.IsIncident == nil || r.Scenario == nil || r.Confidence == nil {
		return Signal{}, malformed("signal requires is_incident, scenario_or_intent and confidence")
	}
	if err := checkUnit("confidence", *r.Confidence); err != nil {
		return Signal{}, err
	}
	sig := Signal{
		IsIncident: *r.IsIncident,
		Scenario:   *r.Scenario,
		Confidence: *r.Confidence,
	}
	if r.Evidence != nil {
		sig.Evidence = *r.Evidence
	}
	return sig, nil
}

// #endregion signal

// #region fused

type rawFused struct {
	IncidentType       *string  `json:"incident_type"`
	Description        *string  `json:"description"`
	CombinedConfidence *float64 `json:"combined_confidence"`
	SupportingEvidence *string  `json:"supporting_evidence"`
}

// ParseFused parses {incident_type, description, combined_confidence, supporting_evidence}.
func ParseFused(raw string) (FusedIncident, error) {
	var r rawFused
	if err := decodeObject(raw, &r); err != nil {
		return FusedIncident{}, err
	}
	if r.IncidentType == nil || r.Description == nil || r.CombinedConfidence == nil {
		return FusedIncident{}, malformed("fused incident requires incident_type, description and combined_confidence")
	}
	if err := checkUnit("combined_confidence", *r.CombinedConfidence); err != nil {
		return FusedIncident{}, err
	}
	f := FusedIncident{
		IncidentType:       strings.TrimSpace(*r.IncidentType),
		Description:        *r.Description,
		CombinedConfidence: *r.CombinedConfidence,
	}
	if r.SupportingEvidence != nil {
		f.SupportingEvidence = *r.SupportingEvidence
	}
	return f, nil
}

// #endregion fused

// #region risk

type rawRisk struct {
	Severity      *float64 `json:"severity"`
	RiskScore     *float64 `json:"risk_score"`
	RequiresHuman *bool    `json:"requires_human"`
	Justification string   `json:"justification"`
}

// ParseRisk parses {severity 1-5, risk_score 0-1, requires_human, justification}.
func ParseRisk(raw string) (RiskAssessment, error) {
	var r rawRisk
	if err := decodeObject(raw, &r); err != nil {
		return RiskAssessment{}, err
	}
	if r.Severity == nil || r.RiskScore == nil || r.RequiresHuman == nil {
		return RiskAssessment{}, malformed("risk requires severity, risk_score and requires_human")
	}
	sev := *r.Severity
	if sev != float64(int(sev)) || sev < MinSeverity || sev > MaxSeverity {
		return RiskAssessment{}, malformed("severity %v is not an integer in [1,5]", sev)
	}
	if err := checkUnit("risk_score", *r.RiskScore); err != nil {
		return RiskAssessment{}, err
	}
	return RiskAssessment{
		Severity:      int(sev),
		RiskScore:     *r.RiskScore,
		RequiresHuman: *r.RequiresHuman,
		Justification: r.Justification,
	}, nil
}

// #endregion risk

// #region actions

// ParseActions parses the four-channel action map. Unknown channels are
// rejected; missing channels stay absent.
func ParseActions(raw string) (ActionSet, error) {
	var fields map[string]json.RawMessage
	if err := decodeObject(raw, &fields); err != nil {
		return ActionSet{}, err
	}
	var set ActionSet
	for key, msg := range fields {
		var err error
		switch Channel(key) {
		case ChannelAnnounce:
			set.Announce = &AnnounceAction{}
			err = json.Unmarshal(msg, set.Announce)
		case ChannelEmail:
			set.Email = &EmailAction{}
			err = json.Unmarshal(msg, set.Email)
		case ChannelCall:
			set.Call = &CallAction{}
			err = json.Unmarshal(msg, set.Call)
		case ChannelEmergency:
			set.Emergency = &EmergencyAction{}
			err = json.Unmarshal(msg, set.Emergency)
		default:
			return ActionSet{}, malformed("unknown channel %q", key)
		}
		if err != nil {
			return ActionSet{}, malformed("channel %s: %v", key, err)
		}
	}
	return set, nil
}

// #endregion actions

// #region plan

// ParsePlan splits a newline-delimited plan into trimmed, non-empty steps.
// Leading list bullets are dropped.
func ParsePlan(raw string) ([]string, error) {
	lines := strings.Split(stripFence(raw), "\n")
	steps := make([]string, 0, len(lines))
	for _, line := range lines {
		step := stripBullet(line)
		if step != "" {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return nil, malformed("plan has no steps")
	}
	return steps, nil
}

// stripBullet removes one list marker ("-", "*" or "•") when whitespace or
// the end of the line follows it, so emphasis like **bold** survives.
func stripBullet(line string) string {
	line = strings.TrimSpace(line)
	for _, marker := range []string{"-", "*", "•"} {
		rest, ok := strings.CutPrefix(line, marker)
		if !ok {
			continue
		}
		if rest == "" {
			return ""
		}
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(r) {
			return strings.TrimSpace(rest)
		}
	}
	return line
}

// #endregion plan
