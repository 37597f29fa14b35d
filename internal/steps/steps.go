// Package steps implements the nodes of the incident graph. Every step is a
// total function over the state: collaborator failures become
// "<TAG> ERROR: <message>" lines in the episode memory and safe defaults on
// the fields the step owns.
package steps

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/perception"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
)

// #region collaborators

// Reasoner answers a text prompt.
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Retriever is the part of the retrieval engine the steps use.
type Retriever interface {
	Query(ctx context.Context, tenant, text string, k int, opts ...retrieval.QueryOption) (retrieval.Result, error)
	Ingest(ctx context.Context, tenant, text string, metadata map[string]any) bool
}

// Deps are the collaborators injected into every run.
type Deps struct {
	Reasoner  Reasoner
	Retrieval Retriever
	Frames    perception.ImageAnalyzer
	Announcer dispatch.Announcer
	Mailer    dispatch.Mailer
	Caller    dispatch.Caller
	Contacts  *dispatch.Directory
}

// #endregion collaborators

// #region options

// Options tune the steps that have knobs.
type Options struct {
	FrameInterval    int           // keep every Nth video frame
	MaxFrames        int           // frames analyzed per clip after sampling
	FrameConcurrency int           // parallel frame analyses
	FrameTimeout     time.Duration // bound on joining all frame analyses
	TopK             int           // documents per retrieval query
	Now              func() time.Time
}

// DefaultOptions samples every 30th frame, up to 64 frames, four at a time.
func DefaultOptions() Options {
	return Options{
		FrameInterval:    30,
		MaxFrames:        64,
		FrameConcurrency: 4,
		FrameTimeout:     30 * time.Second,
		TopK:             5,
		Now:              time.Now,
	}
}

// #endregion options

// #region steps

// Steps holds the collaborators shared by all node implementations.
type Steps struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// New wires the steps. Zero-valued options fall back to DefaultOptions.
func New(deps Deps, opts Options, logger *zap.Logger) *Steps {
	def := DefaultOptions()
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = def.FrameInterval
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = def.MaxFrames
	}
	if opts.FrameConcurrency <= 0 {
		opts.FrameConcurrency = def.FrameConcurrency
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = def.FrameTimeout
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Steps{deps: deps, opts: opts, logger: logger.Named("steps")}
}

// Registry maps every node of the incident graph to its step.
func (s *Steps) Registry() map[string]pipeline.Step {
	return map[string]pipeline.Step{
		pipeline.NodeMemory:   s.Memory,
		pipeline.NodeVision:   s.Vision,
		pipeline.NodeAudio:    s.Audio,
		pipeline.NodeVideo:    s.Video,
		pipeline.NodeFusion:   s.Fusion,
		pipeline.NodeRisk:     s.Risk,
		pipeline.NodeHuman:    s.Human,
		pipeline.NodePlanning: s.Planning,
		pipeline.NodeRespond:  s.Respond,
		pipeline.NodeVoice:    s.Voice,
		pipeline.NodeEmail:    s.Email,
		pipeline.NodeCall:     s.Call,
		pipeline.NodeEscalate: s.Escalate,
		pipeline.NodeMonitor:  s.Monitor,
		pipeline.NodeExplain:  s.Explain,
		pipeline.NodeReflect:  s.Reflect,
		pipeline.NodeLearn:    s.Learn,
	}
}

// #endregion steps

// #region helpers

func (s *Steps) log(st *incident.State, node string) *zap.Logger {
	return s.logger.With(
		zap.String("incident_id", st.IncidentID),
		zap.String("store_id", st.StoreID),
		zap.String("node", node),
	)
}

// complete asks the reasoner, treating a missing reasoner as a call failure.
func (s *Steps) complete(ctx context.Context, prompt string) (string, error) {
	if s.deps.Reasoner == nil {
		return "", errNoReasoner
	}
	return s.deps.Reasoner.Complete(ctx, prompt)
}

// lookup queries the tenant's documents and returns the joined context.
func (s *Steps) lookup(ctx context.Context, st *incident.State, query string, opts ...retrieval.QueryOption) (string, error) {
	if s.deps.Retrieval == nil {
		return "", errNoRetrieval
	}
	res, err := s.deps.Retrieval.Query(ctx, st.StoreID, query, s.opts.TopK, opts...)
	if err != nil {
		return "", err
	}
	return res.Context, nil
}

// asJSON renders v for embedding in a prompt; nil renders as null.
func asJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// #endregion helpers
