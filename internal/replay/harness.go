// Package replay re-runs recorded incidents through the pipeline with their
// recorded reasoner replies and compares where each run ends. Dispatch is
// simulated and nothing is persisted.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/steps"
)

// #region recorded

// ErrNoReply is returned for a prompt role with no recorded reply.
var ErrNoReply = errors.New("no recorded reply")

// Recorded answers prompts from a case's replies, keyed on the role line
// each prompt opens with.
type Recorded struct {
	Replies Replies
}

func (r Recorded) Complete(_ context.Context, prompt string) (string, error) {
	role, _, _ := strings.Cut(prompt, "\n")
	var reply string
	switch {
	case strings.Contains(role, "VISION incident detector"):
		reply = r.Replies.Vision
	case strings.Contains(role, "SPEECH incident detector"):
		reply = r.Replies.Speech
	case strings.Contains(role, "VIDEO incident detector"):
		reply = r.Replies.Video
	case strings.Contains(role, "FUSION agent"):
		reply = r.Replies.Fusion
	case strings.Contains(role, "RISK ASSESSMENT"):
		reply = r.Replies.Risk
	case strings.Contains(role, "PLANNER"):
		reply = r.Replies.Plan
	case strings.Contains(role, "COMMUNICATION agent"):
		reply = r.Replies.Communication
	case strings.Contains(role, "SELF-REFLECTION"):
		reply = r.Replies.Reflection
	}
	if reply == "" {
		return "", fmt.Errorf("%w for %q", ErrNoReply, role)
	}
	return reply, nil
}

// #endregion recorded

// #region types

// Result captures one replayed case.
type Result struct {
	IncidentID string
	Expected   Outcome
	Got        Outcome
	Diff       string // empty when the outcomes agree
	Err        error
	State      *incident.State
}

// Match reports whether the replay reached the recorded outcome.
func (r Result) Match() bool {
	return r.Err == nil && r.Diff == ""
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int
	Matched    int
	Mismatched int
	Failed     int
	ByPhase    map[string]int
}

// Option configures a Harness.
type Option func(*Harness)

// WithRetrieval answers memory and policy lookups. Without it those steps
// degrade exactly as they do when retrieval is down.
func WithRetrieval(r steps.Retriever) Option {
	return func(h *Harness) { h.retrieval = r }
}

// WithLogger sets the logger of the replayed steps.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithStepOptions overrides the step options.
func WithStepOptions(o steps.Options) Option {
	return func(h *Harness) { h.opts = o }
}

// #endregion types

// #region harness

// Harness replays cases against the compiled incident graph.
type Harness struct {
	graph     *pipeline.Graph
	opts      steps.Options
	retrieval steps.Retriever
	logger    *zap.Logger
}

// NewHarness compiles the default incident graph.
func NewHarness(opts ...Option) (*Harness, error) {
	g, err := pipeline.Default()
	if err != nil {
		return nil, err
	}
	h := &Harness{graph: g, opts: steps.DefaultOptions(), logger: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Replay runs every case in order.
func (h *Harness) Replay(ctx context.Context, cases []Case) []Result {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		results = append(results, h.Run(ctx, c))
	}
	return results
}

// Run replays one case. A recorded decision is submitted when the run
// suspends for review.
func (h *Harness) Run(ctx context.Context, c Case) Result {
	res := Result{IncidentID: c.IncidentID, Expected: c.Expected}

	outbox := &dispatch.Outbox{}
	s := steps.New(steps.Deps{
		Reasoner:  Recorded{Replies: c.Replies},
		Retrieval: h.retrieval,
		Announcer: &dispatch.SimulatedAnnouncer{SpeechKey: "replay", Region: "replay", Outbox: outbox, Logger: h.logger},
		Mailer:    &dispatch.SimulatedMailer{APIKey: "replay", From: "replay@localhost", Outbox: outbox, Logger: h.logger},
		Caller:    &dispatch.SimulatedCaller{AccountSID: "replay", AuthToken: "replay", From: "+10000000001", Outbox: outbox, Logger: h.logger},
		Contacts:  dispatch.NewDirectory(nil).WithDefault(dispatch.Contact{Email: "replay@localhost", Phone: "+10000000000"}),
	}, h.opts, h.logger)
	engine, err := pipeline.New(h.graph, s.Registry(), pipeline.WithLogger(h.logger))
	if err != nil {
		res.Err = err
		return res
	}

	st := incident.New(c.StoreID)
	if c.IncidentID != "" {
		st.IncidentID = c.IncidentID
	}
	st.VisionObservation = c.Vision
	st.AudioObservation = c.Audio
	if c.Video != nil {
		st.VideoObservation = &incident.VideoObservation{Processed: true, Aggregate: c.Video}
	}

	if _, err := engine.Invoke(ctx, st); err != nil {
		res.Err = fmt.Errorf("replay %s: %w", c.IncidentID, err)
		return res
	}
	if st.AwaitingDecision() && c.Decision != "" {
		decision := c.Decision
		st.HumanDecision = &decision
		if _, err := engine.Invoke(ctx, st); err != nil {
			res.Err = fmt.Errorf("resume %s: %w", c.IncidentID, err)
			return res
		}
	}

	res.State = st
	res.Got = OutcomeOf(st)
	res.Diff = cmp.Diff(c.Expected, res.Got, cmpopts.EquateEmpty())
	return res
}

// Summarize tallies a replay run.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByPhase: map[string]int{}}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
			continue
		case r.Diff == "":
			s.Matched++
		default:
			s.Mismatched++
		}
		s.ByPhase[r.Got.Phase]++
	}
	return s
}

// #endregion harness
