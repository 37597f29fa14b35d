package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/config"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/steps"
)

type fakeBackend struct{}

func (fakeBackend) Complete(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "RISK ASSESSMENT"):
		return `{"severity":3,"risk_score":0.4,"requires_human":false,"justification":"policy match"}`, nil
	case strings.Contains(prompt, "FUSION agent"):
		return `{"incident_type":"spill","description":"liquid on floor","combined_confidence":0.7,"supporting_evidence":"camera"}`, nil
	case strings.Contains(prompt, "PLANNER"):
		return "Place wet floor sign\nClean spill", nil
	case strings.Contains(prompt, "COMMUNICATION agent"):
		return `{"announce":{"enabled":true,"text":"Cleanup on aisle 2"},"email":{"enabled":true,"subject":"Spill","body":"Spill in aisle 2"}}`, nil
	case strings.Contains(prompt, "SELF-REFLECTION"):
		return "Consider deescalation.", nil
	default:
		return `{"is_incident":true,"scenario_or_intent":"spill","confidence":0.8,"evidence":"wet floor"}`, nil
	}
}

func (fakeBackend) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r % 7)
	}
	return vec, nil
}

func (fakeBackend) AnalyzeImage(context.Context, []byte) (incident.VisionObservation, error) {
	return incident.VisionObservation{Caption: "wet floor"}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.Dispatch.SpeechKey = "k"
	cfg.Dispatch.SpeechRegion = "westus"
	cfg.Dispatch.DefaultEmail = "fallback@store.com"
	cfg.Dispatch.MailAPIKey = "mail-key"

	contacts := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(contacts, []byte("contacts:\n  store-1: {email: s1@store.com}\n"), 0o644))
	cfg.Dispatch.ContactsFile = contacts
	return cfg
}

func TestBuildWith_ServesIncidents(t *testing.T) {
	a, err := BuildWith(testConfig(t), fakeBackend{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stores/store-1/policies",
		bytes.NewBufferString(`{"text":"Spills must be signed within five minutes."}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/incidents",
		bytes.NewBufferString(`{"store_id":"store-1","vision_observation":"aW1hZ2U="}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var out struct {
		IncidentID string          `json:"incident_id"`
		Phase      string          `json:"phase"`
		Incident   *incident.State `json:"incident"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, incident.PhaseCompleted, out.Phase)

	st := out.Incident
	assert.Equal(t, "spill", st.Type())
	assert.Contains(t, *st.LongTermContext, "Spills must be signed")
	assert.Equal(t, "s1@store.com", st.ExecutionResults[incident.ChannelEmail].To)
	assert.Equal(t, incident.StatusSimulated, st.ExecutionResults[incident.ChannelEmail].Status)
	assert.Equal(t, incident.StatusSimulated, st.ExecutionResults[incident.ChannelAnnounce].Status)
	assert.Len(t, a.Outbox.Deliveries(), 2)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/incidents/"+out.IncidentID, nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graph", nil))
	assert.Contains(t, rr.Body.String(), "digraph incident")

	require.Eventually(t, func() bool { return len(a.Steps.Snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info struct {
		StepStats []pipeline.NodeStats `json:"step_stats"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.NotEmpty(t, info.StepStats)
}

func TestBuildWith_WatchesContacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.WatchContacts = true
	a, err := BuildWith(cfg, fakeBackend{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, os.WriteFile(cfg.Dispatch.ContactsFile, []byte("contacts:\n  store-1: {email: new@store.com}\n"), 0o644))
	require.Eventually(t, func() bool {
		v, _ := a.Contacts.Lookup("store-1", dispatch.ContactEmail)
		return v == "new@store.com"
	}, 5*time.Second, 20*time.Millisecond)

	st, err := a.Service.CreateIncident(context.Background(), orchestrator.CreateRequest{StoreID: "store-1"})
	require.NoError(t, err)
	assert.Equal(t, "new@store.com", st.ExecutionResults[incident.ChannelEmail].To)
}

func TestBuildWith_MissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.SpeechKey = ""
	a, err := BuildWith(cfg, fakeBackend{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	st, err := a.Service.CreateIncident(context.Background(), orchestrator.CreateRequest{StoreID: "store-9"})
	require.NoError(t, err)
	r := st.ExecutionResults[incident.ChannelAnnounce]
	assert.Equal(t, incident.StatusFailed, r.Status)
	assert.Equal(t, steps.CredentialsMissing, r.Error)
	assert.Equal(t, "fallback@store.com", st.ExecutionResults[incident.ChannelEmail].To)
}

func TestBuildWith_BadContactsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.ContactsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := BuildWith(cfg, fakeBackend{}, nil)
	assert.Error(t, err)
}

func TestNewBackend_UnknownBackend(t *testing.T) {
	_, _, err := NewBackend(context.Background(), config.Reasoner{Backend: "oracle"})
	assert.Error(t, err)
}
