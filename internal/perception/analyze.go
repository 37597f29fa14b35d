package perception

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

// MaxSummaries caps the captions and extracted texts kept by Aggregate.
const MaxSummaries = 5

// FrameResult is the analysis of one frame. Err is set when the analyzer
// failed on that frame; other frames are unaffected.
type FrameResult struct {
	Frame       Frame
	Observation incident.VisionObservation
	Err         error
}

// #region analyze-frames

// AnalyzeFrames sends every frame to the analyzer concurrently, at most
// concurrency at a time (0 means unbounded). Per-frame failures are kept in
// the results. The whole join is bounded by timeout; when it expires the
// call returns an error and no results.
func AnalyzeFrames(ctx context.Context, a ImageAnalyzer, frames []Frame, concurrency int, timeout time.Duration) ([]FrameResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]FrameResult, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, f := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			obs, err := a.AnalyzeImage(gctx, f.Data)
			obs.Processed = err == nil
			results[i] = FrameResult{Frame: f, Observation: obs, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("frame analysis: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("frame analysis: %w", err)
	}
	return results, nil
}

// #endregion analyze-frames

// #region aggregate

// Aggregate reduces frame results into one observation. Counts are sums and
// object tallies are map merges, so completion order does not matter;
// captions and texts follow frame order and are capped at MaxSummaries.
func Aggregate(results []FrameResult) incident.FrameAggregate {
	agg := incident.FrameAggregate{
		TotalFrames:   len(results),
		ObjectCounts:  map[string]int{},
		Captions:      []string{},
		ExtractedText: []string{},
	}
	ordered := make([]FrameResult, len(results))
	copy(ordered, results)
	slices.SortStableFunc(ordered, func(a, b FrameResult) int {
		return cmp.Compare(a.Frame.Index, b.Frame.Index)
	})

	for _, r := range ordered {
		if r.Err != nil || !r.Observation.Processed {
			agg.FailedFrames++
			continue
		}
		agg.TotalObjects += len(r.Observation.Objects)
		agg.TotalPeople += r.Observation.People
		for _, o := range r.Observation.Objects {
			name := o.Name
			if name == "" {
				name = incident.UnknownType
			}
			agg.ObjectCounts[name]++
		}
		if r.Observation.Caption != "" && len(agg.Captions) < MaxSummaries {
			agg.Captions = append(agg.Captions, r.Observation.Caption)
		}
		if r.Observation.Text != "" && len(agg.ExtractedText) < MaxSummaries {
			agg.ExtractedText = append(agg.ExtractedText, r.Observation.Text)
		}
	}
	return agg
}

// #endregion aggregate
