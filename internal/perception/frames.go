package perception

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
)

// #region frame

// Frame is one decoded still from a video clip. Index is its position in the
// full, unsampled stream.
type Frame struct {
	Index int
	Data  []byte
}

// FrameSource yields frames lazily. Each call to Frames starts from the
// first frame again.
type FrameSource interface {
	Frames() iter.Seq2[Frame, error]
}

// #endregion frame

// #region mjpeg

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ErrTruncatedFrame reports a start-of-image marker with no matching end.
var ErrTruncatedFrame = errors.New("truncated jpeg frame")

// MJPEGSource reads a clip encoded as concatenated JPEG images.
type MJPEGSource struct {
	data []byte
}

// NewMJPEGSource wraps an in-memory MJPEG clip.
func NewMJPEGSource(data []byte) *MJPEGSource {
	return &MJPEGSource{data: data}
}

// Frames splits the clip on JPEG start and end markers. Bytes between frames
// are skipped.
func (s *MJPEGSource) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		rest := s.data
		for index := 0; ; index++ {
			start := bytes.Index(rest, jpegSOI)
			if start < 0 {
				return
			}
			end := bytes.Index(rest[start+len(jpegSOI):], jpegEOI)
			if end < 0 {
				yield(Frame{}, fmt.Errorf("frame %d: %w", index, ErrTruncatedFrame))
				return
			}
			stop := start + len(jpegSOI) + end + len(jpegEOI)
			if !yield(Frame{Index: index, Data: rest[start:stop]}, nil) {
				return
			}
			rest = rest[stop:]
		}
	}
}

// #endregion mjpeg

// #region sample

// Sample keeps every interval-th frame, starting with the first. An interval
// below 1 keeps every frame. Errors pass through.
func Sample(frames iter.Seq2[Frame, error], interval int) iter.Seq2[Frame, error] {
	if interval < 1 {
		interval = 1
	}
	return func(yield func(Frame, error) bool) {
		for f, err := range frames {
			if err != nil {
				if !yield(f, err) {
					return
				}
				continue
			}
			if f.Index%interval != 0 {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Collect drains up to max frames (max <= 0 means no limit) and stops at the
// first error.
func Collect(frames iter.Seq2[Frame, error], max int) ([]Frame, error) {
	var out []Frame
	for f, err := range frames {
		if err != nil {
			return out, err
		}
		out = append(out, f)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// #endregion sample
