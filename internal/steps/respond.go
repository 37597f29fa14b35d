package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
)

// Planning asks for an ordered response plan grounded in the store's SOPs.
func (s *Steps) Planning(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodePlanning)
	severity := st.SeverityOr(0)

	sop, err := s.lookup(ctx, st, fmt.Sprintf(planningQuery, st.Type(), severity))
	if err != nil {
		log.Warn("sop lookup failed", zap.Error(err))
		st.TraceError("PLANNING", fmt.Errorf("sop lookup: %w", err))
	}

	longTerm := ""
	if st.LongTermContext != nil {
		longTerm = *st.LongTermContext
	}
	prompt := fmt.Sprintf(planningPrompt, st.Type(), severity, asJSON(st.FusedIncident), asJSON(st.WorkingMemory), longTerm, sop)

	reply, err := s.complete(ctx, prompt)
	var plan []string
	if err == nil {
		plan, err = incident.ParsePlan(reply)
	}
	if err != nil {
		log.Warn("planning failed", zap.Error(err))
		st.Plan = []string{}
		st.TraceError("PLANNING", err)
	} else {
		st.Plan = plan
		log.Info("plan generated", zap.Int("steps", len(plan)))
	}
	st.Trace("Response plan generated")
	return pipeline.Continue
}

// Respond turns the plan into per-channel messages. A failure leaves an
// empty action set so nothing is dispatched.
func (s *Steps) Respond(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeRespond)
	longTerm := ""
	if st.LongTermContext != nil {
		longTerm = *st.LongTermContext
	}
	prompt := fmt.Sprintf(respondPrompt, st.SeverityOr(0), asJSON(st.WorkingMemory), asJSON(st.Plan), longTerm)

	reply, err := s.complete(ctx, prompt)
	var actions incident.ActionSet
	if err == nil {
		actions, err = incident.ParseActions(reply)
	}
	if err != nil {
		log.Warn("action generation failed", zap.Error(err))
		st.ExecutionActions = &incident.ActionSet{}
		st.TraceError("RESPONSE", err)
		return pipeline.Continue
	}
	st.ExecutionActions = &actions
	st.Trace("Execution messages generated")
	log.Info("actions generated", zap.Any("enabled", actions.Enabled()))
	return pipeline.Continue
}
