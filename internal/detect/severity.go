package detect

import "github.com/hmartell/damagescan/internal/domain"

// SeverityClassifier maps a detected region's size and confidence to a
// severity level. Implementations must be pure and total: any non-negative
// area and any confidence in [0, 1] produces a severity.
//
// The classifier is a pluggable strategy so calibrated models can replace the
// fixed thresholds without touching the pipeline.
type SeverityClassifier interface {
	Classify(area, confidence float64) domain.DamageSeverity
}

// Threshold defaults, in pixels and model confidence.
const (
	defaultAreaSmall        = 1000.0
	defaultAreaMedium       = 5000.0
	defaultConfidenceMedium = 0.6
	defaultConfidenceHigh   = 0.8
)

// ThresholdClassifier is the default SeverityClassifier. It buckets the
// region area at two pixel thresholds and the confidence at two levels:
//
//	confidence   area>=medium   small<=area<medium   area<small
//	>= high      critical       severe               moderate
//	>= medium    severe         moderate             minor
//	<  medium    moderate       minor                minor
type ThresholdClassifier struct {
	AreaSmall        float64
	AreaMedium       float64
	ConfidenceMedium float64
	ConfidenceHigh   float64
}

// NewThresholdClassifier returns a classifier with the default thresholds.
func NewThresholdClassifier() *ThresholdClassifier {
	return &ThresholdClassifier{
		AreaSmall:        defaultAreaSmall,
		AreaMedium:       defaultAreaMedium,
		ConfidenceMedium: defaultConfidenceMedium,
		ConfidenceHigh:   defaultConfidenceHigh,
	}
}

// Classify implements SeverityClassifier.
func (c *ThresholdClassifier) Classify(area, confidence float64) domain.DamageSeverity {
	switch {
	case confidence >= c.ConfidenceHigh:
		switch {
		case area >= c.AreaMedium:
			return domain.SeverityCritical
		case area >= c.AreaSmall:
			return domain.SeveritySevere
		default:
			return domain.SeverityModerate
		}
	case confidence >= c.ConfidenceMedium:
		switch {
		case area >= c.AreaMedium:
			return domain.SeveritySevere
		case area >= c.AreaSmall:
			return domain.SeverityModerate
		default:
			return domain.SeverityMinor
		}
	default:
		if area >= c.AreaMedium {
			return domain.SeverityModerate
		}
		return domain.SeverityMinor
	}
}
