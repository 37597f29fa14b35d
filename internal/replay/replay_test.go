package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/store"
)

// #region fixture-tests

// TestFixture_Regression replays the hand-recorded cases. If routing, review
// or monitoring rules change, this catches drift.
func TestFixture_Regression(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	require.Len(t, f.Cases, 3)

	h, err := NewHarness()
	require.NoError(t, err)
	results := h.Replay(context.Background(), f.Cases)

	for _, r := range results {
		assert.True(t, r.Match(), "%s: err=%v diff:\n%s", r.IncidentID, r.Err, r.Diff)
	}
	sum := Summarize(results)
	assert.Equal(t, 3, sum.Matched)
	assert.Equal(t, map[string]int{incident.PhaseCompleted: 2, incident.PhaseAwaitingDecision: 1}, sum.ByPhase)
}

func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)
}

func TestWriteThenLoad(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteFixture(f, path))
	again, err := LoadFixture(path)
	require.NoError(t, err)
	if diff := cmp.Diff(f, again); diff != "" {
		t.Errorf("fixture changed on rewrite (-want +got):\n%s", diff)
	}
}

// #endregion fixture-tests

// #region harness-tests

func TestRun_DetectsDrift(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	c := f.Cases[0]
	c.Replies.Risk = `{"severity":5,"risk_score":0.9,"requires_human":false}`

	h, err := NewHarness()
	require.NoError(t, err)
	r := h.Run(context.Background(), c)
	require.NoError(t, r.Err)
	assert.False(t, r.Match())
	assert.Contains(t, r.Diff, "Severity")
	assert.True(t, r.Got.Escalated)
}

func TestRun_MissingReplyDegrades(t *testing.T) {
	h, err := NewHarness()
	require.NoError(t, err)
	r := h.Run(context.Background(), Case{IncidentID: "empty", StoreID: "s"})
	require.NoError(t, r.Err)

	// Every reasoner call fails, so risk falls back to review.
	assert.Equal(t, incident.PhaseAwaitingDecision, r.Got.Phase)
	assert.Equal(t, incident.UnknownType, r.Got.IncidentType)
	assert.Equal(t, 3, r.Got.Severity)
	assert.Contains(t, r.State.EpisodeMemory, `RISK ERROR: no recorded reply for "You are a careful retail RISK ASSESSMENT agent."`)
}

func TestRun_CanceledContext(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	h, err := NewHarness()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := h.Run(ctx, f.Cases[0])
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Equal(t, 1, Summarize([]Result{r}).Failed)
}

// #endregion harness-tests

// #region export-tests

// Replaying a case rebuilt from a finished run reaches the same outcome,
// including runs where review or monitoring changed severity.
func TestCaseFromState_RoundTrip(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	h, err := NewHarness()
	require.NoError(t, err)

	for _, c := range f.Cases {
		first := h.Run(context.Background(), c)
		require.True(t, first.Match(), first.Diff)

		rebuilt := CaseFromState(first.State)
		assert.Equal(t, c.Decision, rebuilt.Decision)
		second := h.Run(context.Background(), rebuilt)
		assert.True(t, second.Match(), "%s diff:\n%s", c.IncidentID, second.Diff)
	}
}

func TestExport(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f, err := LoadFixture(filepath.Join("testdata", "regression.json"))
	require.NoError(t, err)
	h, err := NewHarness()
	require.NoError(t, err)
	ctx := context.Background()
	for _, c := range f.Cases {
		r := h.Run(ctx, c)
		require.NoError(t, r.Err)
		_, err := st.Put(ctx, r.State)
		require.NoError(t, err)
	}
	running := incident.New("store-1")
	_, err = st.Put(ctx, running)
	require.NoError(t, err)

	out, err := Export(ctx, st, "store-1", 10)
	require.NoError(t, err)
	require.Len(t, out.Cases, 2, "running incidents are skipped")
	for _, r := range h.Replay(ctx, out.Cases) {
		assert.True(t, r.Match(), "%s diff:\n%s", r.IncidentID, r.Diff)
	}
}

// #endregion export-tests
