package steps

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/vectorindex"
)

// #region reasoner

// Role markers that open each prompt.
const (
	markVision  = "VISION incident detector"
	markSpeech  = "SPEECH incident detector"
	markVideo   = "VIDEO incident detector"
	markFusion  = "FUSION agent"
	markRisk    = "RISK ASSESSMENT"
	markPlanner = "PLANNER"
	markComms   = "COMMUNICATION agent"
	markReflect = "SELF-REFLECTION"
)

var allMarks = []string{markVision, markSpeech, markVideo, markFusion, markRisk, markPlanner, markComms, markReflect}

// scripted answers prompts by their role marker and records which roles
// were asked.
type scripted struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (s *scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range allMarks {
		if !strings.Contains(prompt, m) {
			continue
		}
		s.calls = append(s.calls, m)
		if err := s.errs[m]; err != nil {
			return "", err
		}
		return s.replies[m], nil
	}
	return "", errors.New("unexpected prompt")
}

func (s *scripted) count(mark string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == mark {
			n++
		}
	}
	return n
}

const (
	replySignal  = `{"is_incident":true,"scenario_or_intent":"theft","confidence":0.9,"evidence":"concealed item"}`
	replyFused   = "```json\n{\"incident_type\":\"theft\",\"description\":\"shoplifting at aisle 4\",\"combined_confidence\":0.85,\"supporting_evidence\":\"camera and audio\"}\n```"
	replyRisk    = `{"severity":4,"risk_score":0.7,"requires_human":true,"justification":"repeat offender"}`
	replyPlan    = "1. Notify manager\n- Review footage\n\n* Contact security"
	replyActions = `{"announce":{"enabled":true,"text":"Security to aisle 4"},
	  "email":{"enabled":true,"subject":"Theft","body":"A theft occurred"},
	  "call":{"enabled":true,"subject":"Theft","script":"Please review"},
	  "emergency":{"enabled":false}}`
	replyReflect = "Severity was right. Consider faster_escalation next time."
)

func happyReasoner() *scripted {
	return &scripted{
		replies: map[string]string{
			markVision:  replySignal,
			markSpeech:  replySignal,
			markVideo:   replySignal,
			markFusion:  replyFused,
			markRisk:    replyRisk,
			markPlanner: replyPlan,
			markComms:   replyActions,
			markReflect: replyReflect,
		},
		errs: map[string]error{},
	}
}

// #endregion reasoner

// #region retrieval

type ingestCall struct {
	tenant   string
	text     string
	metadata map[string]any
}

// fakeRetriever returns a fixed context and records ingests.
type fakeRetriever struct {
	context  string
	err      error
	reject   bool
	queries  []string
	ingested []ingestCall
}

func (f *fakeRetriever) Query(_ context.Context, tenant, text string, k int, _ ...retrieval.QueryOption) (retrieval.Result, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return retrieval.Result{}, f.err
	}
	return retrieval.Result{Context: f.context, Documents: []string{f.context}}, nil
}

func (f *fakeRetriever) Ingest(_ context.Context, tenant, text string, metadata map[string]any) bool {
	if f.reject {
		return false
	}
	f.ingested = append(f.ingested, ingestCall{tenant: tenant, text: text, metadata: metadata})
	return true
}

// wordEmbedder hashes words into buckets so similar texts score high.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 128)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:[]\"")))
		vec[h.Sum32()%128]++
	}
	return vec, nil
}

func realRetrieval() *retrieval.Engine {
	return retrieval.NewEngine(vectorindex.NewMemoryIndex(), wordEmbedder{}, retrieval.DefaultConfig(), zap.NewNop())
}

// #endregion retrieval

// #region frames

type frameAnalyzer struct {
	block time.Duration
}

func (f frameAnalyzer) AnalyzeImage(ctx context.Context, image []byte) (incident.VisionObservation, error) {
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return incident.VisionObservation{}, ctx.Err()
		}
	}
	return incident.VisionObservation{
		People:  1,
		Objects: []incident.DetectedObject{{Name: "bag", Confidence: 0.8}},
		Caption: "person holding a bag",
	}, nil
}

// clip builds an MJPEG stream of n minimal frames.
func clip(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.Write([]byte{0xFF, 0xD8, byte(i), 0x00, 0xFF, 0xD9})
	}
	return buf.Bytes()
}

// #endregion frames

// #region wiring

type fixture struct {
	reasoner  *scripted
	retriever *fakeRetriever
	outbox    *dispatch.Outbox
	steps     *Steps
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reasoner:  happyReasoner(),
		retriever: &fakeRetriever{context: "Call security for theft above severity 3."},
		outbox:    &dispatch.Outbox{},
	}
	f.steps = New(Deps{
		Reasoner:  f.reasoner,
		Retrieval: f.retriever,
		Frames:    frameAnalyzer{},
		Announcer: &dispatch.SimulatedAnnouncer{SpeechKey: "k", Region: "eastus", Outbox: f.outbox},
		Mailer:    &dispatch.SimulatedMailer{APIKey: "k", From: "alerts@store.com", Outbox: f.outbox},
		Caller:    &dispatch.SimulatedCaller{AccountSID: "sid", AuthToken: "tok", From: "+15550000", Outbox: f.outbox},
		Contacts: dispatch.NewDirectory(map[string]dispatch.Contact{
			dispatch.DefaultTenant: {Email: "manager@store.com", Phone: "+15551111"},
		}),
	}, Options{Now: func() time.Time { return fixedNow }}, zap.NewNop())
	return f
}

// #endregion wiring
