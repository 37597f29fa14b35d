package steps

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
)

// Working memory keys written by assessment and read by planning.
const (
	WorkingFusedSummary      = "fusion_summary"
	WorkingRiskJustification = "risk_justification"
	WorkingAssessedSeverity  = "assessed_severity"
)

// Risk fallback applied when assessment fails.
const (
	FallbackSeverity  = 3
	FallbackRiskScore = 0.5
)

// #region fusion

// Fusion combines the present modality signals into one incident record.
func (s *Steps) Fusion(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeFusion)
	prompt := fmt.Sprintf(fusionPrompt, asJSON(st.VisionSignal), asJSON(st.AudioSignal), asJSON(st.VideoSignal))

	reply, err := s.complete(ctx, prompt)
	var fused incident.FusedIncident
	if err == nil {
		fused, err = incident.ParseFused(reply)
	}
	if err != nil {
		log.Warn("fusion failed", zap.Error(err))
		st.FusedIncident = incident.FusedIncident{}
		st.TraceError("FUSION", err)
		return pipeline.Continue
	}

	st.FusedIncident = fused
	if fused.IncidentType != "" {
		st.IncidentType = incident.StringPtr(fused.IncidentType)
	}
	st.Confidence = fused.CombinedConfidence
	st.Remember(WorkingFusedSummary, fused.Description)
	log.Info("signals fused", zap.String("incident_type", fused.TypeOrUnknown()), zap.Float64("confidence", fused.CombinedConfidence))
	return pipeline.Continue
}

// #endregion fusion

// #region risk

// Risk assigns severity, risk score and the human-review gate. Any failure,
// including a failed policy lookup, falls back to severity 3, risk 0.5 and
// human review. Without a configured knowledge base it classifies with no
// policies.
func (s *Steps) Risk(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeRisk)

	policies, err := s.lookup(ctx, st, riskPolicyQuery)
	switch {
	case errors.Is(err, errNoRetrieval):
		st.TraceError("RISK", fmt.Errorf("policy lookup: %w", err))
	case err != nil:
		log.Warn("policy lookup failed, using fallback", zap.Error(err))
		s.riskFallback(st, fmt.Errorf("policy lookup: %w", err))
		return pipeline.Continue
	}

	reply, err := s.complete(ctx, fmt.Sprintf(riskPrompt, asJSON(st.FusedIncident), policies))
	var risk incident.RiskAssessment
	if err == nil {
		risk, err = incident.ParseRisk(reply)
	}
	if err != nil {
		log.Warn("risk assessment failed, using fallback", zap.Error(err))
		s.riskFallback(st, err)
		return pipeline.Continue
	}

	st.SetSeverity(risk.Severity)
	st.Remember(WorkingAssessedSeverity, float64(risk.Severity))
	st.SetRiskScore(risk.RiskScore)
	st.RequiresHuman = risk.RequiresHuman
	if risk.Justification != "" {
		st.Remember(WorkingRiskJustification, risk.Justification)
	}
	log.Info("risk assessed",
		zap.Int("severity", risk.Severity),
		zap.Float64("risk_score", risk.RiskScore),
		zap.Bool("requires_human", risk.RequiresHuman),
	)
	return pipeline.Continue
}

func (s *Steps) riskFallback(st *incident.State, cause error) {
	st.RequiresHuman = true
	st.SetRiskScore(FallbackRiskScore)
	st.SetSeverity(FallbackSeverity)
	st.Remember(WorkingAssessedSeverity, float64(FallbackSeverity))
	st.TraceError("RISK", cause)
}

// #endregion risk

// #region human

// Human is the review gate and the only suspend point. Without a decision it
// blocks execution and suspends; "abort" resolves and halts the run;
// "force_escalation" raises severity to 5; any other token approves.
func (s *Steps) Human(ctx context.Context, st *incident.State) pipeline.Control {
	if !st.RequiresHuman {
		return pipeline.Continue
	}
	log := s.log(st, pipeline.NodeHuman)

	if st.HumanDecision == nil {
		if !st.ExecutionBlocked {
			st.ExecutionBlocked = true
			st.Trace("HUMAN: awaiting decision")
			log.Info("awaiting human decision")
		}
		return pipeline.Suspend
	}

	decision := st.Decision()
	log.Info("human decision received", zap.String("decision", decision))
	switch decision {
	case incident.DecisionAbort:
		st.Resolved = true
		st.ExecutionBlocked = true
		st.Trace("HUMAN: aborted by reviewer")
		return pipeline.Halt
	case incident.DecisionForceEscalation:
		st.SetSeverity(incident.MaxSeverity)
		st.Trace("HUMAN: escalation forced by reviewer")
	default:
		st.Trace("HUMAN: approved (%s)", decision)
	}
	st.RequiresHuman = false
	st.ExecutionBlocked = false
	return pipeline.Continue
}

// #endregion human
