package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

// #region step-contract

// Control tells the engine what to do after a step returns.
type Control int

const (
	// Continue follows the first matching outgoing edge.
	Continue Control = iota
	// Suspend returns the state to the caller; the next Invoke resumes at the
	// suspending node.
	Suspend
	// Halt ends the run without visiting further nodes.
	Halt
)

func (c Control) String() string {
	switch c {
	case Suspend:
		return "suspend"
	case Halt:
		return "halt"
	default:
		return "continue"
	}
}

// Step is one node's behaviour. Steps record their own failures on the state
// and never return errors.
type Step func(ctx context.Context, st *incident.State) Control

// #endregion step-contract

// #region engine

// DefaultMaxSteps bounds one Invoke against cycles in a malformed graph.
const DefaultMaxSteps = 10_000

// Engine runs incident state through a compiled graph.
type Engine struct {
	graph           *Graph
	steps           map[string]Step
	stepObserver    StepObserver
	logger          *zap.Logger
	maxSteps        int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStepObserver reports every executed step.
func WithStepObserver(observer StepObserver) Option {
	return func(e *Engine) {
		e.stepObserver = observer
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// New binds steps to the nodes of g. Every node must have a step.
func New(g *Graph, steps map[string]Step, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("graph is nil")
	}
	for id := range g.Nodes {
		if steps[id] == nil {
			return nil, fmt.Errorf("no step registered for node %q", id)
		}
	}
	e := &Engine{
		graph:    g,
		steps:    steps,
		logger:   zap.NewNop(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the compiled graph the engine runs.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// #endregion engine

// #region invoke

// Invoke runs st from its cursor (or the graph start) until a suspend, a
// halt, or a terminal node. A completed state is returned unchanged. Errors
// are engine faults only; the state is still returned with its cursor at the
// node that faulted.
func (e *Engine) Invoke(ctx context.Context, st *incident.State) (*incident.State, error) {
	return e.run(ctx, st, nil)
}

// InvokeTraced is Invoke that also records the path taken and every edge
// evaluated.
func (e *Engine) InvokeTraced(ctx context.Context, st *incident.State) (*incident.State, *ExecutionTrace, error) {
	trace := &ExecutionTrace{VisitedPath: []string{}, Steps: []TraceStep{}}
	out, err := e.run(ctx, st, trace)
	return out, trace, err
}

func (e *Engine) run(ctx context.Context, st *incident.State, trace *ExecutionTrace) (*incident.State, error) {
	if st == nil {
		return nil, errors.New("state is nil")
	}
	if st.Completed {
		if trace != nil {
			trace.Terminated = TerminatedCompleted
		}
		return st, nil
	}

	current := st.Cursor
	if current == "" {
		current = e.graph.Start
	}
	if trace != nil {
		trace.StartNode = current
	}
	log := e.logger.With(zap.String("incident_id", st.IncidentID), zap.String("store_id", st.StoreID))

	for range e.maxSteps {
		if err := ctx.Err(); err != nil {
			st.Cursor = current
			return st, fmt.Errorf("invoke at %q: %w", current, err)
		}

		node := e.graph.Nodes[current]
		if node == nil {
			return st, fmt.Errorf("unknown node %q", current)
		}
		if trace != nil {
			trace.VisitedPath = append(trace.VisitedPath, current)
		}

		started := time.Now()
		ctl := e.steps[current](ctx, st)
		elapsed := time.Since(started)
		e.observe(st, current, ctl, elapsed)
		log.Debug("step finished", zap.String("node", current), zap.Duration("duration", elapsed), zap.Stringer("control", ctl))

		ts := TraceStep{NodeID: current, DurationMicros: elapsed.Microseconds()}

		switch ctl {
		case Suspend:
			st.Cursor = current
			if trace != nil {
				trace.Steps = append(trace.Steps, ts)
				trace.Terminated = TerminatedSuspended
			}
			log.Info("run suspended", zap.String("node", current))
			return st, nil
		case Halt:
			e.complete(st)
			if trace != nil {
				trace.Steps = append(trace.Steps, ts)
				trace.Terminated = TerminatedHalted
			}
			log.Info("run halted", zap.String("node", current))
			return st, nil
		}

		next, err := e.chooseEdge(node, st.Vars(), &ts)
		if trace != nil {
			ts.ChosenNext = next
			trace.Steps = append(trace.Steps, ts)
		}
		if err != nil {
			st.Cursor = current
			return st, err
		}
		if next == "" {
			e.complete(st)
			if trace != nil {
				trace.Terminated = TerminatedEnd
			}
			log.Info("run completed", zap.String("node", current))
			return st, nil
		}
		current = next
	}

	st.Cursor = current
	return st, fmt.Errorf("max steps (%d) exceeded at %q", e.maxSteps, current)
}

// chooseEdge returns the first edge whose condition holds, or "" when none
// does. An edge that fails to evaluate is an error.
func (e *Engine) chooseEdge(node *Node, vars map[string]any, ts *TraceStep) (string, error) {
	for _, edge := range node.Outgoing {
		ok, err := edge.Match(vars)
		et := EdgeTrace{To: edge.To, Cond: edge.Cond, Matched: ok}
		if err != nil {
			et.Error = err.Error()
			ts.Edges = append(ts.Edges, et)
			return "", fmt.Errorf("evaluate %s -> %s (%q): %w", node.ID, edge.To, edge.Cond, err)
		}
		ts.Edges = append(ts.Edges, et)
		if ok {
			return edge.To, nil
		}
	}
	return "", nil
}

func (e *Engine) complete(st *incident.State) {
	st.Completed = true
	st.Cursor = ""
}

func (e *Engine) observe(st *incident.State, node string, ctl Control, elapsed time.Duration) {
	if e.stepObserver == nil {
		return
	}
	e.stepObserver.ObserveStep(StepEvent{
		IncidentID: st.IncidentID,
		StoreID:    st.StoreID,
		Node:       node,
		Control:    ctl,
		Duration:   elapsed,
	})
}

// #endregion invoke

// #region trace

// How a traced run ended.
const (
	TerminatedEnd       = "end"
	TerminatedSuspended = "suspended"
	TerminatedHalted    = "halted"
	TerminatedCompleted = "already_completed"
)

// ExecutionTrace records one Invoke for debugging.
type ExecutionTrace struct {
	StartNode   string      `json:"start_node"`
	VisitedPath []string    `json:"visited_path"`
	Steps       []TraceStep `json:"steps"`
	Terminated  string      `json:"terminated"`
}

type TraceStep struct {
	NodeID         string      `json:"node_id"`
	DurationMicros int64       `json:"duration_micros"`
	ChosenNext     string      `json:"chosen_next,omitempty"`
	Edges          []EdgeTrace `json:"edges,omitempty"`
}

type EdgeTrace struct {
	To      string `json:"to"`
	Cond    string `json:"cond,omitempty"`
	Matched bool   `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// #endregion trace
