// Package app wires the incident service from a Config. The daemon, the
// Lambda function and the CLI all build through here.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/codec"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/config"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/gemini"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/perception"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/steps"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/store"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/transport/httptransport"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/vectorindex"
)

// #region types

// Backend is a model provider able to reason, embed and see.
type Backend interface {
	steps.Reasoner
	retrieval.Embedder
	perception.ImageAnalyzer
}

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     *store.Store
	Retrieval *retrieval.Engine
	Engine    *pipeline.Engine
	Service   *orchestrator.Service
	Outbox    *dispatch.Outbox
	Contacts  *dispatch.Directory
	Steps     *pipeline.StepStats

	closers []func() error
}

// #endregion types

// #region build

// Build opens storage, connects the backend and wires the pipeline.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, closeBackend, err := NewBackend(ctx, cfg.Reasoner)
	if err != nil {
		return nil, err
	}
	a, err := BuildWith(cfg, backend, logger)
	if err != nil {
		closeBackend()
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)
	return a, nil
}

// BuildWith wires everything over an existing backend.
func BuildWith(cfg config.Config, backend Backend, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Outbox: &dispatch.Outbox{}}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, st.Close)
	a.Store = st

	index, err := vectorindex.NewSQLiteIndex(st.DB())
	if err != nil {
		a.Close()
		return nil, err
	}
	rcfg := retrieval.DefaultConfig()
	rcfg.TopK = cfg.Retrieve.TopK
	rcfg.SimilarityThreshold = cfg.Retrieve.SimilarityThreshold
	rcfg.ChunkSize = cfg.Retrieve.ChunkSize
	rcfg.ChunkOverlap = cfg.Retrieve.ChunkOverlap
	a.Retrieval = retrieval.NewEngine(index, backend, rcfg, logger)

	contacts, err := loadContacts(cfg.Dispatch)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Contacts = contacts
	if cfg.Dispatch.WatchContacts {
		w, err := dispatch.WatchDirectory(context.Background(), contacts, cfg.Dispatch.ContactsFile, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
	}

	s := steps.New(steps.Deps{
		Reasoner:  backend,
		Retrieval: a.Retrieval,
		Frames:    backend,
		Announcer: &dispatch.SimulatedAnnouncer{SpeechKey: cfg.Dispatch.SpeechKey, Region: cfg.Dispatch.SpeechRegion, Outbox: a.Outbox, Logger: logger},
		Mailer:    &dispatch.SimulatedMailer{APIKey: cfg.Dispatch.MailAPIKey, From: cfg.Dispatch.MailFrom, Outbox: a.Outbox, Logger: logger},
		Caller:    &dispatch.SimulatedCaller{AccountSID: cfg.Dispatch.CallAccountSID, AuthToken: cfg.Dispatch.CallAuthToken, From: cfg.Dispatch.CallFrom, Outbox: a.Outbox, Logger: logger},
		Contacts:  contacts,
	}, steps.Options{
		FrameInterval:    cfg.Pipeline.FrameInterval,
		MaxFrames:        cfg.Pipeline.MaxFrames,
		FrameConcurrency: cfg.Pipeline.FrameConcurrency,
		FrameTimeout:     cfg.Pipeline.FrameTimeout,
		TopK:             cfg.Retrieve.TopK,
	}, logger)

	graph, err := pipeline.Default()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Steps = pipeline.NewStepStats()
	queue := pipeline.NewStepQueue(cfg.Pipeline.ObserverBuffer, pipeline.NewStepLogger(logger, cfg.Pipeline.SlowStep), a.Steps)
	a.closers = append(a.closers, func() error { queue.Close(); return nil })

	a.Engine, err = pipeline.New(graph, s.Registry(),
		pipeline.WithLogger(logger),
		pipeline.WithMaxSteps(cfg.Pipeline.MaxSteps),
		pipeline.WithStepObserver(queue),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []orchestrator.Option{orchestrator.WithImageAnalyzer(backend), orchestrator.WithLogger(logger)}
	if t, ok := backend.(perception.AudioTranscriber); ok {
		opts = append(opts, orchestrator.WithTranscriber(t))
	}
	a.Service, err = orchestrator.New(a.Engine, st, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewBackend connects the configured model provider.
func NewBackend(ctx context.Context, cfg config.Reasoner) (Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendGemini:
		c, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbedModel)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	case config.BackendCodec:
		c, err := codec.NewCodecClient(cfg.CodecAddr, codec.Options{
			GenerateTimeout:   cfg.GenerateTimeout,
			EmbedTimeout:      cfg.EmbedTimeout,
			PerceptionTimeout: cfg.PerceptionTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown reasoner backend %q", cfg.Backend)
	}
}

func loadContacts(cfg config.Dispatch) (*dispatch.Directory, error) {
	dir := dispatch.NewDirectory(nil)
	if cfg.ContactsFile != "" {
		var err error
		if dir, err = dispatch.LoadDirectory(cfg.ContactsFile); err != nil {
			return nil, err
		}
	}
	return dir.WithDefault(dispatch.Contact{Email: cfg.DefaultEmail, Phone: cfg.DefaultPhone}), nil
}

// #endregion build

// #region serve

// Handler returns the HTTP routes of the service.
func (a *App) Handler() http.Handler {
	return httptransport.NewHandler(a.Service, a.Retrieval, a.Engine.Graph().Source, a.Logger).
		WithStepStats(a.Steps).
		Routes()
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// #endregion serve
