package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

// recorder builds a step per node that appends the node id to a shared path.
type recorder struct {
	path     []string
	override map[string]Step
}

func (r *recorder) steps(g *Graph) map[string]Step {
	out := map[string]Step{}
	for id := range g.Nodes {
		out[id] = func(ctx context.Context, st *incident.State) Control {
			r.path = append(r.path, id)
			if step := r.override[id]; step != nil {
				return step(ctx, st)
			}
			return Continue
		}
	}
	return out
}

func newDefaultEngine(t *testing.T, r *recorder, opts ...Option) *Engine {
	t.Helper()
	g, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(g, r.steps(g), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// humanGate mirrors the review step: suspend until a decision arrives.
func humanGate(ctx context.Context, st *incident.State) Control {
	if st.HumanDecision == nil {
		st.ExecutionBlocked = true
		return Suspend
	}
	if st.Decision() == incident.DecisionAbort {
		st.Resolved = true
		return Halt
	}
	st.RequiresHuman = false
	st.ExecutionBlocked = false
	return Continue
}

func TestInvoke_ReferenceOrder(t *testing.T) {
	r := &recorder{}
	e := newDefaultEngine(t, r)
	st := incident.New("store-1")

	out, err := e.Invoke(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.path, ReferenceOrder) {
		t.Errorf("unexpected path:\nwant %v\ngot  %v", ReferenceOrder, r.path)
	}
	if !out.Completed || out.Cursor != "" {
		t.Errorf("expected completed with empty cursor, got completed=%v cursor=%q", out.Completed, out.Cursor)
	}
}

func TestInvoke_SuspendAndResume(t *testing.T) {
	r := &recorder{override: map[string]Step{
		NodeRisk: func(ctx context.Context, st *incident.State) Control {
			st.RequiresHuman = true
			return Continue
		},
		NodeHuman: humanGate,
	}}
	e := newDefaultEngine(t, r)
	st := incident.New("store-1")

	st, err := e.Invoke(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if st.Cursor != NodeHuman || st.Completed {
		t.Fatalf("expected suspension at human, got cursor=%q completed=%v", st.Cursor, st.Completed)
	}
	if r.path[len(r.path)-1] != NodeHuman || slices.Contains(r.path, NodePlanning) {
		t.Fatalf("planning must not run before a decision: %v", r.path)
	}

	// Re-invoking without a decision stays suspended and only revisits human.
	r.path = nil
	st, _ = e.Invoke(context.Background(), st)
	if !slices.Equal(r.path, []string{NodeHuman}) || st.Cursor != NodeHuman {
		t.Fatalf("expected idle re-suspend, got path=%v cursor=%q", r.path, st.Cursor)
	}

	r.path = nil
	st.HumanDecision = incident.StringPtr("approve")
	st, err = e.Invoke(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]string{NodeHuman}, ReferenceOrder[slices.Index(ReferenceOrder, NodePlanning):]...)
	if !slices.Equal(r.path, want) {
		t.Errorf("unexpected resume path:\nwant %v\ngot  %v", want, r.path)
	}
	if !st.Completed {
		t.Error("expected run to complete after approval")
	}
}

func TestInvoke_HaltNeverReachesPlanning(t *testing.T) {
	r := &recorder{override: map[string]Step{
		NodeRisk: func(ctx context.Context, st *incident.State) Control {
			st.RequiresHuman = true
			return Continue
		},
		NodeHuman: humanGate,
	}}
	e := newDefaultEngine(t, r)
	st := incident.New("s")
	st, _ = e.Invoke(context.Background(), st)

	st.HumanDecision = incident.StringPtr(incident.DecisionAbort)
	r.path = nil
	st, trace, err := e.InvokeTraced(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.path, []string{NodeHuman}) {
		t.Errorf("expected only human to run, got %v", r.path)
	}
	if !st.Completed || !st.Resolved || st.Cursor != "" {
		t.Errorf("expected halted resolved state, got %+v", st)
	}
	if trace.Terminated != TerminatedHalted {
		t.Errorf("expected halted trace, got %q", trace.Terminated)
	}

	r.path = nil
	if _, err := e.Invoke(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if len(r.path) != 0 {
		t.Errorf("completed state must not re-run steps, ran %v", r.path)
	}
}

func TestInvokeTraced_RecordsBranch(t *testing.T) {
	r := &recorder{}
	e := newDefaultEngine(t, r)

	_, trace, err := e.InvokeTraced(context.Background(), incident.New("s"))
	if err != nil {
		t.Fatal(err)
	}
	if trace.StartNode != NodeMemory || trace.Terminated != TerminatedEnd {
		t.Errorf("unexpected trace bounds: start=%q terminated=%q", trace.StartNode, trace.Terminated)
	}
	if !slices.Equal(trace.VisitedPath, ReferenceOrder) {
		t.Errorf("trace path mismatch: %v", trace.VisitedPath)
	}
	var risk TraceStep
	for _, s := range trace.Steps {
		if s.NodeID == NodeRisk {
			risk = s
		}
	}
	if len(risk.Edges) != 2 || risk.Edges[0].Matched || !risk.Edges[1].Matched || risk.ChosenNext != NodePlanning {
		t.Errorf("unexpected risk edge trace: %+v", risk)
	}
}

func TestInvoke_MaxSteps(t *testing.T) {
	g, err := Compile(`digraph loop { root="a"; a -> b; b -> a; }`)
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	e, err := New(g, r.steps(g), WithMaxSteps(5))
	if err != nil {
		t.Fatal(err)
	}
	st, err := e.Invoke(context.Background(), incident.New("s"))
	if err == nil {
		t.Fatal("expected max steps error")
	}
	if len(r.path) != 5 || st.Completed {
		t.Errorf("expected 5 steps and an incomplete state, got %d completed=%v", len(r.path), st.Completed)
	}
}

func TestInvoke_CanceledContextKeepsCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{override: map[string]Step{
		NodeAudio: func(context.Context, *incident.State) Control {
			cancel()
			return Continue
		},
	}}
	e := newDefaultEngine(t, r)

	st, err := e.Invoke(ctx, incident.New("s"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.Cursor != NodeVideo {
		t.Errorf("expected cursor at video, got %q", st.Cursor)
	}

	r.path = nil
	st, err = e.Invoke(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if r.path[0] != NodeVideo || !st.Completed {
		t.Errorf("expected resume at video, got %v", r.path)
	}
}

func TestNew_RequiresEveryStep(t *testing.T) {
	g, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	steps := (&recorder{}).steps(g)
	delete(steps, NodeLearn)
	if _, err := New(g, steps); err == nil {
		t.Fatal("expected error for missing step")
	}
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil graph")
	}
}

type spyStepObserver struct {
	mu     sync.Mutex
	events []StepEvent
}

func (s *spyStepObserver) ObserveStep(ev StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *spyStepObserver) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestInvoke_ObservesEveryStep(t *testing.T) {
	spy := &spyStepObserver{}
	e := newDefaultEngine(t, &recorder{}, WithStepObserver(spy), WithLogger(zap.NewNop()))
	st := incident.New("store-9")
	if _, err := e.Invoke(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	nodes := make([]string, len(spy.events))
	for i, ev := range spy.events {
		nodes[i] = ev.Node
		if ev.IncidentID != st.IncidentID || ev.StoreID != "store-9" {
			t.Errorf("event %d carries %q/%q", i, ev.IncidentID, ev.StoreID)
		}
	}
	if !slices.Equal(nodes, ReferenceOrder) {
		t.Errorf("observer saw %v", nodes)
	}
}

func TestStepStats_Aggregates(t *testing.T) {
	stats := NewStepStats()
	stats.ObserveStep(StepEvent{StoreID: "a", Node: NodeHuman, Control: Suspend, Duration: 2 * time.Millisecond})
	stats.ObserveStep(StepEvent{StoreID: "b", Node: NodeHuman, Control: Halt, Duration: 5 * time.Millisecond})
	stats.ObserveStep(StepEvent{StoreID: "b", Node: NodeFusion, Control: Continue, Duration: time.Millisecond})

	snap := stats.Snapshot()
	if len(snap) != 2 || snap[0].Node != NodeFusion || snap[1].Node != NodeHuman {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
	human := snap[1]
	if human.Runs != 2 || human.Suspends != 1 || human.Halts != 1 {
		t.Errorf("unexpected counts: %+v", human)
	}
	if human.Total != 7*time.Millisecond || human.Max != 5*time.Millisecond || human.LastStore != "b" {
		t.Errorf("unexpected durations: %+v", human)
	}
}

func TestStepQueue_FansOutAndDeliversOnClose(t *testing.T) {
	a, b := &spyStepObserver{}, &spyStepObserver{}
	q := NewStepQueue(8, a, StepObserverFunc(b.ObserveStep))
	q.ObserveStep(StepEvent{Node: NodeMemory})
	q.ObserveStep(StepEvent{Node: NodeVision})
	q.Close()

	if a.Count() != 2 || b.Count() != 2 {
		t.Fatalf("expected 2 events per observer, got %d and %d", a.Count(), b.Count())
	}
	q.ObserveStep(StepEvent{Node: "late"})
	if q.Dropped() != 1 {
		t.Errorf("expected event after close to be dropped, dropped=%d", q.Dropped())
	}
	q.Close()
}

func TestStepQueue_DropsWhenFull(t *testing.T) {
	spy := &spyStepObserver{}
	q := NewStepQueue(1, spy)
	for range 1000 {
		q.ObserveStep(StepEvent{Node: "n", Duration: time.Microsecond})
	}
	q.Close()
	if q.Dropped() == 0 {
		t.Fatal("expected dropped events > 0")
	}
	if uint64(spy.Count())+q.Dropped() != 1000 {
		t.Errorf("delivered + dropped should equal observed: %d + %d", spy.Count(), q.Dropped())
	}
}

func TestStepLogger_WarnsOnSlowSteps(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewStepLogger(zap.New(core), 10*time.Millisecond)
	l.ObserveStep(StepEvent{IncidentID: "i-1", StoreID: "s", Node: NodeRisk, Duration: time.Millisecond})
	l.ObserveStep(StepEvent{IncidentID: "i-1", StoreID: "s", Node: NodePlanning, Duration: 20 * time.Millisecond})

	slow := logs.FilterMessage("slow step").All()
	if len(slow) != 1 || slow[0].ContextMap()["node"] != NodePlanning {
		t.Fatalf("expected one slow planning step, got %+v", slow)
	}
	if logs.FilterField(zap.String("incident_id", "i-1")).Len() != 2 {
		t.Errorf("expected every event to carry the incident id")
	}
}
