// Package domain contains core business types and interfaces.
//
// This file defines the DetectionResult aggregate and the summary statistics
// derived from a detection run.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Detection Statistics
// =============================================================================

// DetectionStatistics is the immutable summary of a detection run.
//
// Invariant: the sum of DamagesByType counts equals TotalDamages.
type DetectionStatistics struct {
	FramesProcessed   int            `json:"total_frames_processed"`
	TotalDamages      int            `json:"total_damages_detected"`
	DamagesByType     map[string]int `json:"damages_by_type"`
	DamagesBySeverity map[string]int `json:"damages_by_severity"`
	AverageConfidence float64        `json:"average_confidence"`
	ProcessingTime    float64        `json:"processing_time"` // Seconds
	FramesPerSecond   float64        `json:"frames_per_second"`
}

// Validate checks the statistics for impossible values.
func (s *DetectionStatistics) Validate() error {
	const op = "domain.DetectionStatistics.Validate"

	if s.FramesProcessed < 0 {
		return Invalid(op, "frames processed must be non-negative")
	}
	if s.TotalDamages < 0 {
		return Invalid(op, "total damages must be non-negative")
	}
	if s.AverageConfidence < 0 || s.AverageConfidence > 1 {
		return Invalid(op, "average confidence must be between 0.0 and 1.0")
	}
	if s.ProcessingTime < 0 {
		return Invalid(op, "processing time must be non-negative")
	}
	if s.FramesPerSecond < 0 {
		return Invalid(op, "frames per second must be non-negative")
	}

	byType := 0
	for _, n := range s.DamagesByType {
		byType += n
	}
	if byType != s.TotalDamages {
		return Invalid(op, "per-type counts do not sum to total damages")
	}
	return nil
}

// =============================================================================
// Detection Result
// =============================================================================

// DetectionResult is the complete outcome of one detection run over a video.
// It owns the Damage instances it carries and is persisted exactly once per
// successful run.
type DetectionResult struct {
	ID                  uuid.UUID           `json:"id"`
	VideoID             uuid.UUID           `json:"video_id"`
	Damages             []Damage            `json:"damages"`
	Statistics          DetectionStatistics `json:"statistics"`
	CreatedAt           time.Time           `json:"created_at"`
	ModelVersion        string              `json:"model_version"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	AnnotatedPath       string              `json:"annotated_video_path,omitempty"`

	// ArtifactKey is the object storage key of the published annotated video,
	// set only when the artifact was uploaded successfully.
	ArtifactKey string `json:"artifact_key,omitempty"`
}

// NewDetectionResult validates and constructs a DetectionResult.
func NewDetectionResult(videoID uuid.UUID, damages []Damage, stats DetectionStatistics, modelVersion string, threshold float64) (*DetectionResult, error) {
	const op = "domain.NewDetectionResult"

	if threshold < 0 || threshold > 1 {
		return nil, Invalid(op, "confidence threshold must be between 0.0 and 1.0")
	}
	if modelVersion == "" {
		return nil, Invalid(op, "model version is required")
	}
	if stats.TotalDamages != len(damages) {
		return nil, Invalid(op, "statistics total does not match damage count")
	}
	if err := stats.Validate(); err != nil {
		return nil, err
	}

	return &DetectionResult{
		ID:                  uuid.New(),
		VideoID:             videoID,
		Damages:             damages,
		Statistics:          stats,
		CreatedAt:           time.Now().UTC(),
		ModelVersion:        modelVersion,
		ConfidenceThreshold: threshold,
	}, nil
}

// HasDamages returns true if the run detected any damages.
func (r *DetectionResult) HasDamages() bool {
	return len(r.Damages) > 0
}

// DamageCount returns the number of detected damages.
func (r *DetectionResult) DamageCount() int {
	return len(r.Damages)
}

// DamagesByFrame groups damages by their frame number, preserving detection
// order within each frame. Used by the annotation renderer.
func (r *DetectionResult) DamagesByFrame() map[int][]Damage {
	grouped := make(map[int][]Damage)
	for _, d := range r.Damages {
		grouped[d.FrameNumber] = append(grouped[d.FrameNumber], d)
	}
	return grouped
}

// DamageDensity returns the average number of damages per processed frame.
func (r *DetectionResult) DamageDensity() float64 {
	if r.Statistics.FramesProcessed == 0 {
		return 0
	}
	return float64(len(r.Damages)) / float64(r.Statistics.FramesProcessed)
}

// SevereDamages returns the subset of damages that are severe or critical.
func (r *DetectionResult) SevereDamages() []Damage {
	var out []Damage
	for _, d := range r.Damages {
		if d.Severe() {
			out = append(out, d)
		}
	}
	return out
}

// UniqueDamageTypes returns the distinct damage types present in the result.
func (r *DetectionResult) UniqueDamageTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.Damages {
		t := d.Type.String()
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Summary produces a compact report of the detection run.
type Summary struct {
	VideoID               uuid.UUID `json:"video_id"`
	TotalDamages          int       `json:"total_damages"`
	HighConfidenceDamages int       `json:"high_confidence_damages"`
	SevereDamages         int       `json:"severe_damages"`
	UniqueDamageTypes     []string  `json:"unique_damage_types"`
	DamageDensity         float64   `json:"damage_density"`
	ProcessingTime        float64   `json:"processing_time"`
	AverageConfidence     float64   `json:"average_confidence"`
	FramesProcessed       int       `json:"frames_processed"`
	ModelVersion          string    `json:"model_version"`
	ConfidenceThreshold   float64   `json:"confidence_threshold"`
}

// Summarize builds the Summary for this result.
func (r *DetectionResult) Summarize() Summary {
	high := 0
	for _, d := range r.Damages {
		if d.HighConfidence(r.ConfidenceThreshold) {
			high++
		}
	}
	return Summary{
		VideoID:               r.VideoID,
		TotalDamages:          len(r.Damages),
		HighConfidenceDamages: high,
		SevereDamages:         len(r.SevereDamages()),
		UniqueDamageTypes:     r.UniqueDamageTypes(),
		DamageDensity:         r.DamageDensity(),
		ProcessingTime:        r.Statistics.ProcessingTime,
		AverageConfidence:     r.Statistics.AverageConfidence,
		FramesProcessed:       r.Statistics.FramesProcessed,
		ModelVersion:          r.ModelVersion,
		ConfidenceThreshold:   r.ConfidenceThreshold,
	}
}
