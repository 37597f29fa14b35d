package incident

// #region observations

// DetectedObject is one object label reported by an image analyzer.
type DetectedObject struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VisionObservation is the structured output of an image perception adapter.
type VisionObservation struct {
	Processed bool             `json:"processed"`
	Objects   []DetectedObject `json:"objects,omitempty"`
	People    int              `json:"people"`
	Text      string           `json:"text,omitempty"`
	Caption   string           `json:"caption,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// AudioObservation is the structured output of a speech perception adapter.
type AudioObservation struct {
	Processed  bool     `json:"processed"`
	Transcript string   `json:"transcript,omitempty"`
	Language   string   `json:"language,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// VideoObservation carries a raw clip and, once the video step ran, the
// aggregate of its per-frame analysis.
type VideoObservation struct {
	Processed bool            `json:"processed"`
	Data      []byte          `json:"data,omitempty"`
	Aggregate *FrameAggregate `json:"aggregate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// FrameAggregate is the commutative reduction of analyzed video frames.
type FrameAggregate struct {
	TotalFrames   int            `json:"total_frames"`
	FailedFrames  int            `json:"failed_frames"`
	TotalObjects  int            `json:"total_objects_detected"`
	TotalPeople   int            `json:"total_people_detected"`
	ObjectCounts  map[string]int `json:"object_counts"`
	Captions      []string       `json:"captions"`
	ExtractedText []string       `json:"extracted_texts"`
}

// #endregion observations

// #region signals

// Signal is the per-modality judgment produced by a signal interpretation step.
type Signal struct {
	IsIncident bool    `json:"is_incident"`
	Scenario   string  `json:"scenario_or_intent"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// FusedIncident combines the modality signals into one description.
// The zero value means fusion produced nothing usable.
type FusedIncident struct {
	IncidentType       string  `json:"incident_type,omitempty"`
	Description        string  `json:"description,omitempty"`
	CombinedConfidence float64 `json:"combined_confidence,omitempty"`
	SupportingEvidence string  `json:"supporting_evidence,omitempty"`
}

// IsEmpty reports whether fusion left no incident description.
func (f FusedIncident) IsEmpty() bool {
	return f == FusedIncident{}
}

// TypeOrUnknown returns the incident type, or "unknown" for an empty record.
func (f FusedIncident) TypeOrUnknown() string {
	if f.IncidentType == "" {
		return UnknownType
	}
	return f.IncidentType
}

// UnknownType labels incidents whose type could not be determined.
const UnknownType = "unknown"

// RiskAssessment is the parsed output of the risk step.
type RiskAssessment struct {
	Severity      int     `json:"severity"`
	RiskScore     float64 `json:"risk_score"`
	RequiresHuman bool    `json:"requires_human"`
	Justification string  `json:"justification"`
}

// #endregion signals

// #region actions

// Channel names an execution channel.
type Channel string

const (
	ChannelAnnounce  Channel = "announce"
	ChannelEmail     Channel = "email"
	ChannelCall      Channel = "call"
	ChannelEmergency Channel = "emergency"
)

// ChannelState is the exhaustive view of one channel entry in an ActionSet.
type ChannelState int

const (
	ChannelAbsent ChannelState = iota
	ChannelDisabled
	ChannelEnabled
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDisabled:
		return "disabled"
	case ChannelEnabled:
		return "enabled"
	default:
		return "absent"
	}
}

// AnnounceAction is an in-store voice announcement.
type AnnounceAction struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text,omitempty"`
}

// EmailAction is a notification email. To overrides the contact directory.
type EmailAction struct {
	Enabled bool   `json:"enabled"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// CallAction is an outbound phone call. To overrides the contact directory.
type CallAction struct {
	Enabled bool   `json:"enabled"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Script  string `json:"script,omitempty"`
}

// EmergencyAction flags that emergency services should be contacted.
type EmergencyAction struct {
	Enabled bool `json:"enabled"`
}

// ActionSet holds one optional entry per channel.
type ActionSet struct {
	Announce  *AnnounceAction  `json:"announce,omitempty"`
	Email     *EmailAction     `json:"email,omitempty"`
	Call      *CallAction      `json:"call,omitempty"`
	Emergency *EmergencyAction `json:"emergency,omitempty"`
}

// State returns the presence/enablement of a channel. A nil set reports every
// channel as absent.
func (a *ActionSet) State(ch Channel) ChannelState {
	if a == nil {
		return ChannelAbsent
	}
	var present, enabled bool
	switch ch {
	case ChannelAnnounce:
		present, enabled = a.Announce != nil, a.Announce != nil && a.Announce.Enabled
	case ChannelEmail:
		present, enabled = a.Email != nil, a.Email != nil && a.Email.Enabled
	case ChannelCall:
		present, enabled = a.Call != nil, a.Call != nil && a.Call.Enabled
	case ChannelEmergency:
		present, enabled = a.Emergency != nil, a.Emergency != nil && a.Emergency.Enabled
	}
	switch {
	case !present:
		return ChannelAbsent
	case !enabled:
		return ChannelDisabled
	default:
		return ChannelEnabled
	}
}

// Enabled lists the enabled channels in canonical order.
func (a *ActionSet) Enabled() []Channel {
	var out []Channel
	for _, ch := range []Channel{ChannelAnnounce, ChannelEmail, ChannelCall, ChannelEmergency} {
		if a.State(ch) == ChannelEnabled {
			out = append(out, ch)
		}
	}
	return out
}

// ActionResult is the outcome of one dispatch attempt.
type ActionResult struct {
	Status     string `json:"status"`
	To         string `json:"to,omitempty"`
	From       string `json:"from,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Text       string `json:"text,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	StatusSent      = "sent"
	StatusSimulated = "simulated"
	StatusFailed    = "failed"
)

// #endregion actions

// #region decisions

// Human decision tokens with special meaning. Any other non-empty token approves.
const (
	DecisionAbort           = "abort"
	DecisionForceEscalation = "force_escalation"
)

// #endregion decisions
