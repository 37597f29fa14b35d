// Package perception adapts raw media into structured observations: image
// analysis, speech transcription, and sampled video frame analysis.
package perception

import (
	"context"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

// #region interfaces

// ImageAnalyzer detects objects, people, text and a caption in one image.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte) (incident.VisionObservation, error)
}

// AudioTranscriber converts an audio clip to text.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, audio []byte) (incident.AudioObservation, error)
}

// #endregion interfaces

// #region observe

// ObserveImage runs the analyzer and folds a failure into the observation,
// so callers always get a record to hand to the pipeline. Empty input yields nil.
func ObserveImage(ctx context.Context, a ImageAnalyzer, image []byte) *incident.VisionObservation {
	if len(image) == 0 {
		return nil
	}
	obs, err := a.AnalyzeImage(ctx, image)
	if err != nil {
		return &incident.VisionObservation{Processed: false, Error: err.Error()}
	}
	obs.Processed = true
	return &obs
}

// ObserveAudio is ObserveImage for speech.
func ObserveAudio(ctx context.Context, t AudioTranscriber, audio []byte) *incident.AudioObservation {
	if len(audio) == 0 {
		return nil
	}
	obs, err := t.Transcribe(ctx, audio)
	if err != nil {
		return &incident.AudioObservation{Processed: false, Error: err.Error()}
	}
	obs.Processed = true
	return &obs
}

// #endregion observe
