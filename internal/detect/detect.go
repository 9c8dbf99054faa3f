// Package detect defines the damage detection capability consumed by the
// processing pipeline, together with the severity classification strategy and
// the per-run statistics aggregator.
package detect

import (
	"context"
	"errors"
	"image"

	"github.com/hmartell/damagescan/internal/domain"
)

// Detector is the inference capability the pipeline drives one frame at a
// time. Implementations wrap an object-detection model.
type Detector interface {
	// Ready reports whether the model is loaded and able to serve Infer calls.
	Ready() bool

	// Prepare loads the model. It is idempotent: calling Prepare on a ready
	// detector is a no-op.
	Prepare(ctx context.Context) error

	// Infer runs detection over a single decoded frame and returns the raw
	// regions found at or above the configured confidence threshold.
	Infer(ctx context.Context, frame image.Image) ([]RawDetection, error)

	// ModelVersion identifies the model for persisted results.
	ModelVersion() string
}

// RawDetection is a single region reported by the model before domain
// enrichment (severity, timestamps, ids).
type RawDetection struct {
	ClassID    int
	Confidence float64
	Box        domain.BoundingBox
}

// classMapping mirrors the training-time class ordering of the damage model.
var classMapping = map[int]domain.DamageType{
	0: domain.DamageTypeScratch,
	1: domain.DamageTypeDent,
	2: domain.DamageTypeCrack,
	3: domain.DamageTypeRust,
	4: domain.DamageTypeBrokenPart,
}

// TypeForClass returns the damage type for a model class id, falling back to
// DamageTypeUnknown for classes outside the mapping.
func TypeForClass(classID int) domain.DamageType {
	if t, ok := classMapping[classID]; ok {
		return t
	}
	return domain.DamageTypeUnknown
}

// ErrModelNotLoaded indicates Infer was called before Prepare succeeded.
var ErrModelNotLoaded = errors.New("detection model not loaded")
