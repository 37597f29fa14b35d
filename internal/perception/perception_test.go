package perception

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region fakes

type stubAnalyzer struct {
	calls atomic.Int32
	fail  map[byte]bool
	block bool
}

func (s *stubAnalyzer) AnalyzeImage(ctx context.Context, image []byte) (incident.VisionObservation, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return incident.VisionObservation{}, ctx.Err()
	}
	tag := image[2]
	if s.fail[tag] {
		return incident.VisionObservation{}, fmt.Errorf("frame %d unreadable", tag)
	}
	return incident.VisionObservation{
		Objects: []incident.DetectedObject{{Name: "person"}, {Name: fmt.Sprintf("item-%d", tag%2)}},
		People:  1,
		Caption: fmt.Sprintf("caption %d", tag),
		Text:    fmt.Sprintf("text %d", tag),
	}, nil
}

type stubTranscriber struct{ err error }

func (s stubTranscriber) Transcribe(context.Context, []byte) (incident.AudioObservation, error) {
	if s.err != nil {
		return incident.AudioObservation{}, s.err
	}
	return incident.AudioObservation{Transcript: "call security"}, nil
}

// mjpeg builds n tiny frames whose third byte is the frame number.
func mjpeg(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.Write([]byte{0xFF, 0xD8, byte(i), 0x00, 0xFF, 0xD9})
		buf.WriteString("junk")
	}
	return buf.Bytes()
}

// #endregion fakes

// #region frames

func TestMJPEGSource_SplitsFrames(t *testing.T) {
	src := NewMJPEGSource(mjpeg(4))
	frames, err := Collect(src.Frames(), 0)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, byte(i), f.Data[2])
		assert.True(t, bytes.HasSuffix(f.Data, jpegEOI))
	}
}

func TestMJPEGSource_Restartable(t *testing.T) {
	src := NewMJPEGSource(mjpeg(3))
	first, err := Collect(src.Frames(), 0)
	require.NoError(t, err)
	second, err := Collect(src.Frames(), 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMJPEGSource_Truncated(t *testing.T) {
	data := append(mjpeg(2), 0xFF, 0xD8, 0x01)
	frames, err := Collect(NewMJPEGSource(data).Frames(), 0)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	assert.Len(t, frames, 2)
}

func TestSample_FixedInterval(t *testing.T) {
	frames, err := Collect(Sample(NewMJPEGSource(mjpeg(65)).Frames(), 30), 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{0, 30, 60}, []int{frames[0].Index, frames[1].Index, frames[2].Index})
}

func TestCollect_Max(t *testing.T) {
	frames, err := Collect(NewMJPEGSource(mjpeg(10)).Frames(), 4)
	require.NoError(t, err)
	assert.Len(t, frames, 4)
}

// #endregion frames

// #region analyze

func TestAnalyzeFrames_PartialFailure(t *testing.T) {
	frames, err := Collect(NewMJPEGSource(mjpeg(6)).Frames(), 0)
	require.NoError(t, err)
	a := &stubAnalyzer{fail: map[byte]bool{3: true}}

	results, err := AnalyzeFrames(context.Background(), a, frames, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.EqualValues(t, 6, a.calls.Load())
	assert.Error(t, results[3].Err)
	assert.False(t, results[3].Observation.Processed)
	assert.True(t, results[0].Observation.Processed)
}

func TestAnalyzeFrames_TimeoutIsError(t *testing.T) {
	frames, err := Collect(NewMJPEGSource(mjpeg(4)).Frames(), 0)
	require.NoError(t, err)

	_, err = AnalyzeFrames(context.Background(), &stubAnalyzer{block: true}, frames, 0, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAggregate_CommutativeAndCapped(t *testing.T) {
	frames, err := Collect(NewMJPEGSource(mjpeg(8)).Frames(), 0)
	require.NoError(t, err)
	results, err := AnalyzeFrames(context.Background(), &stubAnalyzer{fail: map[byte]bool{1: true}}, frames, 0, time.Second)
	require.NoError(t, err)

	reversed := make([]FrameResult, len(results))
	for i := range results {
		reversed[len(results)-1-i] = results[i]
	}

	agg := Aggregate(results)
	assert.Equal(t, agg, Aggregate(reversed))

	assert.Equal(t, 8, agg.TotalFrames)
	assert.Equal(t, 1, agg.FailedFrames)
	assert.Equal(t, 14, agg.TotalObjects)
	assert.Equal(t, 7, agg.TotalPeople)
	assert.Equal(t, 7, agg.ObjectCounts["person"])
	assert.Len(t, agg.Captions, MaxSummaries)
	assert.Equal(t, "caption 0", agg.Captions[0])
	assert.Equal(t, "caption 2", agg.Captions[1])
	assert.Len(t, agg.ExtractedText, MaxSummaries)
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)
	assert.Zero(t, agg.TotalFrames)
	assert.Empty(t, agg.ObjectCounts)
}

// #endregion analyze

// #region observe

func TestObserveImage(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ObserveImage(ctx, &stubAnalyzer{}, nil))

	obs := ObserveImage(ctx, &stubAnalyzer{}, []byte{0xFF, 0xD8, 7})
	require.NotNil(t, obs)
	assert.True(t, obs.Processed)

	obs = ObserveImage(ctx, &stubAnalyzer{fail: map[byte]bool{7: true}}, []byte{0xFF, 0xD8, 7})
	require.NotNil(t, obs)
	assert.False(t, obs.Processed)
	assert.Contains(t, obs.Error, "unreadable")
}

func TestObserveAudio(t *testing.T) {
	ctx := context.Background()
	obs := ObserveAudio(ctx, stubTranscriber{}, []byte("pcm"))
	require.NotNil(t, obs)
	assert.Equal(t, "call security", obs.Transcript)

	obs = ObserveAudio(ctx, stubTranscriber{err: errors.New("no model")}, []byte("pcm"))
	require.NotNil(t, obs)
	assert.False(t, obs.Processed)
	assert.Equal(t, "no model", obs.Error)
}

// #endregion observe
