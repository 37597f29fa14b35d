package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// #region events

// StepEvent describes one executed step of an incident run.
type StepEvent struct {
	IncidentID string
	StoreID    string
	Node       string
	Control    Control
	Duration   time.Duration
}

// StepObserver receives an event for every executed step. Implementations
// must not block the engine for long.
type StepObserver interface {
	ObserveStep(ev StepEvent)
}

// StepObserverFunc adapts a function to StepObserver.
type StepObserverFunc func(ev StepEvent)

func (f StepObserverFunc) ObserveStep(ev StepEvent) { f(ev) }

// #endregion events

// #region logger

// StepLogger writes step events to zap. Steps slower than the threshold are
// logged at warn level.
type StepLogger struct {
	logger *zap.Logger
	slow   time.Duration
}

// NewStepLogger returns a StepLogger; a zero slow threshold never warns.
func NewStepLogger(logger *zap.Logger, slow time.Duration) *StepLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepLogger{logger: logger.Named("steps"), slow: slow}
}

func (l *StepLogger) ObserveStep(ev StepEvent) {
	fields := []zap.Field{
		zap.String("incident_id", ev.IncidentID),
		zap.String("store_id", ev.StoreID),
		zap.String("node", ev.Node),
		zap.Stringer("control", ev.Control),
		zap.Float64("duration_ms", float64(ev.Duration.Microseconds())/1000.0),
	}
	if l.slow > 0 && ev.Duration >= l.slow {
		l.logger.Warn("slow step", fields...)
		return
	}
	l.logger.Debug("step observed", fields...)
}

// #endregion logger

// #region stats

// NodeStats aggregates the steps executed at one node.
type NodeStats struct {
	Node       string        `json:"node"`
	Runs       int           `json:"runs"`
	Suspends   int           `json:"suspends"`
	Halts      int           `json:"halts"`
	Total      time.Duration `json:"total_ns"`
	Max        time.Duration `json:"max_ns"`
	LastStore  string        `json:"last_store_id,omitempty"`
	LastUpdate time.Time     `json:"last_update"`
}

// StepStats keeps per-node aggregates in memory for the info endpoint.
type StepStats struct {
	mu    sync.Mutex
	nodes map[string]*NodeStats
	now   func() time.Time
}

func NewStepStats() *StepStats {
	return &StepStats{nodes: map[string]*NodeStats{}, now: time.Now}
}

func (s *StepStats) ObserveStep(ev StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ev.Node]
	if !ok {
		n = &NodeStats{Node: ev.Node}
		s.nodes[ev.Node] = n
	}
	n.Runs++
	switch ev.Control {
	case Suspend:
		n.Suspends++
	case Halt:
		n.Halts++
	}
	n.Total += ev.Duration
	n.Max = max(n.Max, ev.Duration)
	n.LastStore = ev.StoreID
	n.LastUpdate = s.now()
}

// Snapshot returns a copy of the aggregates ordered by node id.
func (s *StepStats) Snapshot() []NodeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeStats, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// #endregion stats

// #region queue

// StepQueue hands events to its observers from one goroutine so the engine
// never waits on them. Events are dropped, and counted, when the buffer is
// full or the queue is closed.
type StepQueue struct {
	observers []StepObserver
	events    chan StepEvent

	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	done    chan struct{}
	dropped atomic.Uint64
}

func NewStepQueue(buffer int, observers ...StepObserver) *StepQueue {
	q := &StepQueue{
		observers: observers,
		events:    make(chan StepEvent, max(buffer, 1)),
		done:      make(chan struct{}),
	}
	go q.deliver()
	return q
}

func (q *StepQueue) deliver() {
	defer close(q.done)
	for ev := range q.events {
		for _, o := range q.observers {
			o.ObserveStep(ev)
		}
	}
}

func (q *StepQueue) ObserveStep(ev StepEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.events <- ev:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (q *StepQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close delivers the buffered events and stops the queue.
func (q *StepQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.events)
		q.mu.Unlock()
		<-q.done
	})
}

// #endregion queue
