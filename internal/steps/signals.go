package steps

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/perception"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
)

// #region judge

// judge asks the reasoner to classify one observation. A nil return means the
// signal is absent; failures have already been traced.
func (s *Steps) judge(ctx context.Context, st *incident.State, node, tag, modality string, observation any) *incident.Signal {
	log := s.log(st, node)
	reply, err := s.complete(ctx, fmt.Sprintf(signalPrompt, modality, asJSON(observation)))
	if err == nil {
		var sig incident.Signal
		if sig, err = incident.ParseSignal(reply); err == nil {
			log.Info("signal judged",
				zap.Bool("is_incident", sig.IsIncident),
				zap.String("scenario", sig.Scenario),
				zap.Float64("confidence", sig.Confidence),
			)
			return &sig
		}
	}
	log.Warn("signal interpretation failed", zap.Error(err))
	st.TraceError(tag, err)
	return nil
}

// #endregion judge

// #region vision-audio

// Vision interprets the image observation.
func (s *Steps) Vision(ctx context.Context, st *incident.State) pipeline.Control {
	if st.VisionObservation == nil {
		st.VisionSignal = nil
		return pipeline.Continue
	}
	st.VisionSignal = s.judge(ctx, st, pipeline.NodeVision, "VISION", "VISION", st.VisionObservation)
	return pipeline.Continue
}

// Audio interprets the speech transcript.
func (s *Steps) Audio(ctx context.Context, st *incident.State) pipeline.Control {
	if st.AudioObservation == nil {
		st.AudioSignal = nil
		return pipeline.Continue
	}
	st.AudioSignal = s.judge(ctx, st, pipeline.NodeAudio, "SPEECH", "SPEECH", st.AudioObservation)
	return pipeline.Continue
}

// #endregion vision-audio

// #region video

var errNoFrames = errors.New("no frames extracted from video")

// Video samples the clip, analyzes the sampled frames in parallel and
// interprets their aggregate. The raw clip is dropped once aggregated.
func (s *Steps) Video(ctx context.Context, st *incident.State) pipeline.Control {
	obs := st.VideoObservation
	if obs == nil || (len(obs.Data) == 0 && obs.Aggregate == nil) {
		st.VideoSignal = nil
		return pipeline.Continue
	}
	log := s.log(st, pipeline.NodeVideo)

	if obs.Aggregate == nil {
		agg, err := s.analyzeClip(ctx, obs.Data)
		if err != nil {
			log.Warn("video analysis failed", zap.Error(err))
			obs.Processed = false
			obs.Error = err.Error()
			st.VideoSignal = nil
			st.TraceError("VIDEO", err)
			return pipeline.Continue
		}
		obs.Aggregate = &agg
		obs.Processed = true
		obs.Data = nil
		log.Info("video frames aggregated",
			zap.Int("frames", agg.TotalFrames),
			zap.Int("failed_frames", agg.FailedFrames),
			zap.Int("objects", agg.TotalObjects),
			zap.Int("people", agg.TotalPeople),
		)
	}

	st.VideoSignal = s.judge(ctx, st, pipeline.NodeVideo, "VIDEO", "VIDEO", obs.Aggregate)
	return pipeline.Continue
}

func (s *Steps) analyzeClip(ctx context.Context, clip []byte) (incident.FrameAggregate, error) {
	if s.deps.Frames == nil {
		return incident.FrameAggregate{}, errors.New("no frame analyzer configured")
	}
	src := perception.NewMJPEGSource(clip)
	frames, err := perception.Collect(perception.Sample(src.Frames(), s.opts.FrameInterval), s.opts.MaxFrames)
	if err != nil {
		return incident.FrameAggregate{}, fmt.Errorf("extract frames: %w", err)
	}
	if len(frames) == 0 {
		return incident.FrameAggregate{}, errNoFrames
	}
	results, err := perception.AnalyzeFrames(ctx, s.deps.Frames, frames, s.opts.FrameConcurrency, s.opts.FrameTimeout)
	if err != nil {
		return incident.FrameAggregate{}, fmt.Errorf("analyze frames: %w", err)
	}
	return perception.Aggregate(results), nil
}

// #endregion video
