package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
)

// Thresholds of the close-out checks.
const (
	EscalationSeverity = 4
	HotRiskScore       = 0.85
)

// ReflectionTags is the vocabulary matched in reflection text.
var ReflectionTags = []string{"severity_tuning", "faster_escalation", "deescalation"}

// Learning outcome labels.
const (
	OutcomeResolved  = "resolved"
	OutcomeEscalated = "escalated"
)

// #region escalate-monitor

// Escalate flags emergency escalation for severity 4 and above.
func (s *Steps) Escalate(ctx context.Context, st *incident.State) pipeline.Control {
	severity := st.SeverityOr(0)
	if severity >= EscalationSeverity {
		st.EscalationRequired = true
		s.log(st, pipeline.NodeEscalate).Warn("emergency escalation required", zap.Int("severity", severity))
	}
	return pipeline.Continue
}

// Monitor closes the incident unless risk is still hot, in which case
// severity goes up one level and the incident stays open.
func (s *Steps) Monitor(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeMonitor)
	risk := st.RiskScoreOr(0)
	if risk > HotRiskScore {
		prev := st.SeverityOr(0)
		st.SetSeverity(prev + 1)
		st.Resolved = false
		log.Warn("risk still high, raising severity", zap.Float64("risk_score", risk), zap.Int("severity", *st.Severity))
		return pipeline.Continue
	}
	st.Resolved = true
	log.Info("incident resolved", zap.Float64("risk_score", risk))
	return pipeline.Continue
}

// #endregion escalate-monitor

// #region explain

// Explain writes the fixed-format incident report with policy references.
func (s *Steps) Explain(ctx context.Context, st *incident.State) pipeline.Control {
	severity := st.SeverityOr(0)
	refs, err := s.lookup(ctx, st, fmt.Sprintf(explainQuery, st.Type(), severity))
	if err != nil {
		s.log(st, pipeline.NodeExplain).Warn("policy lookup failed", zap.Error(err))
		st.TraceError("EXPLAIN", err)
		refs = ""
	}
	report := fmt.Sprintf(explanationReport, st.Type(), severity, st.Confidence, severity, refs)
	st.Explanation = &report
	return pipeline.Continue
}

// #endregion explain

// #region reflect

// Reflect critiques the run against similar past incidents and tags the
// critique with the improvement areas it mentions.
func (s *Steps) Reflect(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeReflect)
	severity := st.SeverityOr(0)

	history, err := s.lookup(ctx, st, fmt.Sprintf(reflectQuery, st.Type(), severity))
	if err != nil {
		log.Warn("history lookup failed", zap.Error(err))
		st.TraceError("REFLECTION", fmt.Errorf("history lookup: %w", err))
	}

	prompt := fmt.Sprintf(reflectPrompt, st.Type(), severity, st.RiskScoreOr(0),
		asJSON(st.Plan), asJSON(st.ExecutionResults), strings.Join(st.EpisodeMemory, "\n"), history)
	reply, err := s.complete(ctx, prompt)
	if err != nil {
		log.Warn("reflection failed", zap.Error(err))
		msg := "Reflection error: " + err.Error()
		st.Reflection = &msg
		st.ReflectionTags = []string{}
		st.TraceError("REFLECTION", err)
	} else {
		st.Reflection = &reply
		st.ReflectionTags = MatchTags(reply)
		log.Info("reflection completed", zap.Strings("tags", st.ReflectionTags))
	}
	st.Trace("Self-reflection completed")
	return pipeline.Continue
}

// MatchTags returns the ReflectionTags that occur in text, case-insensitively.
func MatchTags(text string) []string {
	lower := strings.ToLower(text)
	found := []string{}
	for _, tag := range ReflectionTags {
		if strings.Contains(lower, tag) {
			found = append(found, tag)
		}
	}
	return found
}

// #endregion reflect

// #region learn

// Learn writes a lessons-learned record into the store's retrieval partition.
func (s *Steps) Learn(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeLearn)
	outcome := OutcomeEscalated
	if st.Resolved {
		outcome = OutcomeResolved
	}
	record := fmt.Sprintf(learningRecord, st.Type(), st.SeverityOr(0), asJSON(st.Plan), outcome, asJSON(st.EpisodeMemory))

	var severity any
	if st.Severity != nil {
		severity = *st.Severity
	}
	var incidentType any
	if st.IncidentType != nil {
		incidentType = *st.IncidentType
	}
	metadata := map[string]any{
		retrieval.MetaStoreID:    st.StoreID,
		retrieval.MetaIncident:   incidentType,
		retrieval.MetaSeverity:   severity,
		retrieval.MetaSource:     retrieval.SourceLearning,
		retrieval.MetaRecordedAt: s.opts.Now().Unix(),
		"outcome":                outcome,
	}

	if s.deps.Retrieval == nil {
		st.TraceError("LEARNING", errNoRetrieval)
		return pipeline.Continue
	}
	if !s.deps.Retrieval.Ingest(ctx, st.StoreID, record, metadata) {
		log.Warn("learning writeback failed")
		st.TraceError("LEARNING", fmt.Errorf("ingest into store %q failed", st.StoreID))
		return pipeline.Continue
	}
	log.Info("learning recorded", zap.String("outcome", outcome))
	return pipeline.Continue
}

// #endregion learn
