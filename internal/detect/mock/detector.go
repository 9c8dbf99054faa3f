// Package mock provides a Detector implementation with canned responses for
// development and tests.
package mock

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/hmartell/damagescan/internal/detect"
	"github.com/hmartell/damagescan/internal/domain"
)

// Detector is a mock detection capability. The zero response reports one
// dent and one scratch per frame; tests can override responses and errors.
type Detector struct {
	logger *slog.Logger

	mu       sync.Mutex
	prepared bool

	// Configurable responses for testing
	InferResponse []detect.RawDetection
	InferErr      error
	PrepareErr    error

	// Call tracking for testing
	PrepareCalls int
	InferCalls   int
}

// New creates a new mock detector. It starts unprepared.
func New(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Ready reports whether Prepare has succeeded.
func (d *Detector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prepared
}

// Prepare marks the detector ready. Idempotent.
func (d *Detector) Prepare(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.PrepareCalls++
	if d.PrepareErr != nil {
		return d.PrepareErr
	}
	if !d.prepared {
		d.prepared = true
		if d.logger != nil {
			d.logger.Debug("mock detector prepared")
		}
	}
	return nil
}

// Infer returns the configured response, or a default pair of detections.
func (d *Detector) Infer(ctx context.Context, frame image.Image) ([]detect.RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.InferCalls++
	if !d.prepared {
		return nil, detect.ErrModelNotLoaded
	}
	if d.InferErr != nil {
		return nil, d.InferErr
	}
	if d.InferResponse != nil {
		return d.InferResponse, nil
	}

	return []detect.RawDetection{
		{
			ClassID:    1, // dent
			Confidence: 0.87,
			Box:        domain.BoundingBox{X: 120, Y: 80, Width: 60, Height: 45},
		},
		{
			ClassID:    0, // scratch
			Confidence: 0.64,
			Box:        domain.BoundingBox{X: 310, Y: 200, Width: 25, Height: 8},
		},
	}, nil
}

// ModelVersion identifies the mock model.
func (d *Detector) ModelVersion() string {
	return "mock-detector-v1"
}
