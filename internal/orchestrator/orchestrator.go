// Package orchestrator is the incident service: it turns raw media into
// observations, drives the pipeline engine, persists every run, and accepts
// human review decisions for suspended incidents.
package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/logging"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/perception"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/store"
)

// #endregion

// #region errors

var (
	// ErrNotAwaitingDecision is returned when a decision arrives for an
	// incident that is not suspended at human review.
	ErrNotAwaitingDecision = errors.New("incident is not awaiting a decision")
	ErrEmptyDecision       = errors.New("decision is empty")
	ErrMissingStoreID      = errors.New("store id is required")
)

// #endregion

// #region types

// CreateRequest carries the raw media of a new incident. Any of the media
// may be empty.
type CreateRequest struct {
	StoreID string
	Image   []byte
	Audio   []byte
	Video   []byte
}

// #endregion

// #region service-struct

// Service is the top-level coordinator for incident runs.
type Service struct {
	engine *pipeline.Engine
	store  *store.Store
	images perception.ImageAnalyzer
	speech perception.AudioTranscriber
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*incidentLock
}

// incidentLock is a per-incident mutex shared by its current holders and
// waiters.
type incidentLock struct {
	sync.Mutex
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithImageAnalyzer sets the adapter applied to uploaded images.
func WithImageAnalyzer(a perception.ImageAnalyzer) Option {
	return func(s *Service) { s.images = a }
}

// WithTranscriber sets the adapter applied to uploaded audio.
func WithTranscriber(t perception.AudioTranscriber) Option {
	return func(s *Service) { s.speech = t }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// #endregion

// #region constructor

// New wires a service over engine and st, creating the decision log table in
// the store's database.
func New(engine *pipeline.Engine, st *store.Store, opts ...Option) (*Service, error) {
	if engine == nil || st == nil {
		return nil, errors.New("orchestrator: engine and store are required")
	}
	if err := logging.EnsureDecisionLog(st.DB()); err != nil {
		return nil, err
	}
	s := &Service{
		engine: engine,
		store:  st,
		logger: zap.NewNop(),
		locks:  make(map[string]*incidentLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("orchestrator")
	return s, nil
}

// #endregion

// #region create

// CreateIncident observes the media, runs the pipeline until it suspends or
// finishes, and persists the result. An engine fault still persists the
// partial state before returning the error.
func (s *Service) CreateIncident(ctx context.Context, req CreateRequest) (*incident.State, error) {
	if strings.TrimSpace(req.StoreID) == "" {
		return nil, ErrMissingStoreID
	}
	st := incident.New(req.StoreID)
	log := s.logger.With(zap.String("incident_id", st.IncidentID), zap.String("store_id", st.StoreID))

	st.VisionObservation = s.observeImage(ctx, req.Image)
	st.AudioObservation = s.observeAudio(ctx, req.Audio)
	if len(req.Video) > 0 {
		st.VideoObservation = &incident.VideoObservation{Data: req.Video}
	}
	log.Info("incident created",
		zap.Bool("image", st.VisionObservation != nil),
		zap.Bool("audio", st.AudioObservation != nil),
		zap.Bool("video", st.VideoObservation != nil),
	)

	unlock := s.lock(st.IncidentID)
	defer unlock()

	s.record(ctx, st, logging.EventCreated, "", "")
	return s.run(ctx, st)
}

func (s *Service) observeImage(ctx context.Context, image []byte) *incident.VisionObservation {
	if len(image) == 0 {
		return nil
	}
	if s.images == nil {
		return &incident.VisionObservation{Error: "no image analyzer configured"}
	}
	return perception.ObserveImage(ctx, s.images, image)
}

func (s *Service) observeAudio(ctx context.Context, audio []byte) *incident.AudioObservation {
	if len(audio) == 0 {
		return nil
	}
	if s.speech == nil {
		return &incident.AudioObservation{Error: "no transcriber configured"}
	}
	return perception.ObserveAudio(ctx, s.speech, audio)
}

// #endregion

// #region decide

// SubmitDecision resumes a suspended incident with a reviewer's decision.
// A decision is consumed once, across processes sharing the store: a second
// submission for the same suspension gets ErrNotAwaitingDecision.
func (s *Service) SubmitDecision(ctx context.Context, incidentID, decision string) (*incident.State, error) {
	decision = strings.TrimSpace(decision)
	if decision == "" {
		return nil, ErrEmptyDecision
	}
	unlock := s.lock(incidentID)
	defer unlock()

	st, rev, err := s.store.GetRevision(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !st.AwaitingDecision() {
		return st, ErrNotAwaitingDecision
	}
	st.HumanDecision = &decision
	log := s.logger.With(zap.String("incident_id", st.IncidentID), zap.String("store_id", st.StoreID))

	// Claim the decision before resuming. Another process sharing the
	// database may have read the same suspended revision.
	if _, err := s.store.PutIfRevision(ctx, st, rev); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			log.Info("decision already claimed", zap.Int("revision", rev))
			return nil, fmt.Errorf("%w: %w", ErrNotAwaitingDecision, err)
		}
		return nil, fmt.Errorf("claim decision: %w", err)
	}
	log.Info("decision received", zap.String("decision", decision))
	s.record(ctx, st, logging.EventDecision, decision, "")
	return s.run(ctx, st)
}

// #endregion

// #region run

// run invokes the engine and persists whatever state it returns.
func (s *Service) run(ctx context.Context, st *incident.State) (*incident.State, error) {
	log := s.logger.With(zap.String("incident_id", st.IncidentID), zap.String("store_id", st.StoreID))

	out, runErr := s.engine.Invoke(ctx, st)
	if out == nil {
		out = st
	}
	rev, err := s.store.Put(context.WithoutCancel(ctx), out)
	if err != nil {
		log.Error("persist incident failed", zap.Error(err))
		return out, errors.Join(runErr, fmt.Errorf("persist incident: %w", err))
	}

	switch {
	case runErr != nil:
		log.Error("pipeline run failed", zap.String("node", out.Cursor), zap.Error(runErr))
		s.record(ctx, out, logging.EventFailed, "", runErr.Error())
		return out, fmt.Errorf("run incident %s: %w", out.IncidentID, runErr)
	case out.Completed:
		log.Info("incident completed", zap.Int("revision", rev), zap.Bool("resolved", out.Resolved))
		s.record(ctx, out, logging.EventCompleted, "", "")
	case out.AwaitingDecision():
		log.Info("incident awaiting decision", zap.Int("revision", rev))
		s.record(ctx, out, logging.EventSuspended, "", "")
	}
	return out, nil
}

// record appends a decision log entry. Logging failures never fail a run.
func (s *Service) record(ctx context.Context, st *incident.State, event, decision, reason string) {
	snap, _ := json.Marshal(logging.RiskSnapshot{
		IncidentType:  st.Type(),
		Severity:      st.SeverityOr(0),
		RiskScore:     st.RiskScoreOr(0),
		RequiresHuman: st.RequiresHuman,
		Resolved:      st.Resolved,
		Escalation:    st.EscalationRequired,
	})
	err := logging.LogDecision(context.WithoutCancel(ctx), s.store.DB(), logging.DecisionEntry{
		IncidentID:  st.IncidentID,
		StoreID:     st.StoreID,
		Event:       event,
		Node:        st.Cursor,
		Decision:    decision,
		Reason:      reason,
		SignalsJSON: string(snap),
	})
	if err != nil {
		s.logger.Warn("decision log write failed", zap.String("incident_id", st.IncidentID), zap.Error(err))
	}
}

// lock serializes work on one incident within this process. The entry is
// dropped once nobody holds or waits for it.
func (s *Service) lock(incidentID string) func() {
	s.mu.Lock()
	m, ok := s.locks[incidentID]
	if !ok {
		m = &incidentLock{}
		s.locks[incidentID] = m
	}
	m.refs++
	s.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		s.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(s.locks, incidentID)
		}
		s.mu.Unlock()
	}
}

// #endregion

// #region read

// Get returns the latest state of an incident.
func (s *Service) Get(ctx context.Context, incidentID string) (*incident.State, error) {
	return s.store.Get(ctx, incidentID)
}

// List returns recent incidents of a store; an empty storeID lists all.
func (s *Service) List(ctx context.Context, storeID string, limit int) ([]store.Summary, error) {
	return s.store.List(ctx, storeID, limit)
}

// Decisions returns the decision log of an incident.
func (s *Service) Decisions(ctx context.Context, incidentID string) ([]logging.DecisionEntry, error) {
	return logging.Decisions(ctx, s.store.DB(), incidentID)
}

// Graph returns the compiled pipeline graph.
func (s *Service) Graph() *pipeline.Graph {
	return s.engine.Graph()
}

// #endregion
