// Package video provides frame access, metadata probing, and annotated-video
// rendering for the detection pipeline.
//
// The pipeline consumes these as interfaces; the implementations in this
// package shell out to ffmpeg/ffprobe so the service carries no cgo vision
// dependencies.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/hmartell/damagescan/internal/domain"
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Frame is one decoded image extracted from a video at a given ordinal index.
type Frame struct {
	Index int
	Image image.Image
}

// FrameStream is a finite, ordered, single-pass sequence of frames.
type FrameStream interface {
	// Next returns the next frame in order. It returns io.EOF once the
	// stream is exhausted.
	Next() (Frame, error)

	// Close releases decoder resources. Safe to call more than once.
	Close() error
}

// FrameSource opens videos for sequential frame access.
type FrameSource interface {
	// Open starts decoding the video at path. Fails with ErrNotReadable if
	// the file cannot be opened or decoded.
	Open(ctx context.Context, path string) (FrameStream, error)
}

// Prober extracts technical metadata from a video file.
type Prober interface {
	Probe(ctx context.Context, path string) (*domain.VideoMetadata, error)
}

// Renderer produces an annotated copy of a video with detected damages
// burned into the frames that contain them.
type Renderer interface {
	// RenderAnnotated writes the annotated video to outPath and returns the
	// path actually written.
	RenderAnnotated(ctx context.Context, srcPath string, damagesByFrame map[int][]domain.Damage, outPath string) (string, error)
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotReadable indicates the video file could not be opened or decoded.
	ErrNotReadable = errors.New("video not readable")

	// ErrNoFrames indicates the stream produced no frames at all.
	ErrNoFrames = errors.New("video contains no decodable frames")
)

// wrapf adds operation context while preserving the sentinel chain.
func wrapf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
