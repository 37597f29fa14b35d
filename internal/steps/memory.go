package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
)

// Memory loads similar past incidents into LongTermContext, weighting older
// and milder ones down.
func (s *Steps) Memory(ctx context.Context, st *incident.State) pipeline.Control {
	log := s.log(st, pipeline.NodeMemory)

	severity := "unknown"
	if st.Severity != nil {
		severity = fmt.Sprint(*st.Severity)
	}
	query := fmt.Sprintf(memoryQuery, st.StoreID, st.Type(), severity, asJSON(st.VisionSignal), asJSON(st.AudioSignal))

	text, err := s.lookup(ctx, st, query, retrieval.WithDecay(s.opts.Now()))
	if err != nil {
		log.Warn("memory retrieval failed", zap.Error(err))
		st.LongTermContext = incident.StringPtr("")
		st.TraceError("MEMORY", err)
		return pipeline.Continue
	}
	st.LongTermContext = &text
	st.Trace("Retrieved long-term memory context")
	log.Info("memory retrieved", zap.Int("chars", len(text)))
	return pipeline.Continue
}
