// Package domain contains core business types and interfaces.
//
// This file defines the Damage domain type and related types describing a
// single detected region of vehicle damage within a video frame.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Damage Type
// =============================================================================

// DamageType classifies the kind of damage detected on a vehicle.
type DamageType string

const (
	// DamageTypeScratch indicates a paint scratch.
	DamageTypeScratch DamageType = "scratch"

	// DamageTypeDent indicates a dent in the bodywork.
	DamageTypeDent DamageType = "dent"

	// DamageTypeCrack indicates a crack in glass or bodywork.
	DamageTypeCrack DamageType = "crack"

	// DamageTypeRust indicates surface rust or corrosion.
	DamageTypeRust DamageType = "rust"

	// DamageTypeBrokenPart indicates a broken or missing part.
	DamageTypeBrokenPart DamageType = "broken_part"

	// DamageTypeUnknown indicates a detection the model could not classify.
	DamageTypeUnknown DamageType = "unknown"
)

// String returns the string representation of the damage type.
func (t DamageType) String() string {
	return string(t)
}

// IsValid returns true if the damage type is a recognized value.
func (t DamageType) IsValid() bool {
	switch t {
	case DamageTypeScratch, DamageTypeDent, DamageTypeCrack,
		DamageTypeRust, DamageTypeBrokenPart, DamageTypeUnknown:
		return true
	}
	return false
}

// =============================================================================
// Damage Severity
// =============================================================================

// DamageSeverity is a four-level ordinal classification of damage importance,
// derived from the detected region size and model confidence.
type DamageSeverity string

const (
	// SeverityMinor indicates cosmetic damage.
	SeverityMinor DamageSeverity = "minor"

	// SeverityModerate indicates noticeable damage worth repairing.
	SeverityModerate DamageSeverity = "moderate"

	// SeveritySevere indicates significant damage.
	SeveritySevere DamageSeverity = "severe"

	// SeverityCritical indicates extensive damage, likely structural.
	SeverityCritical DamageSeverity = "critical"
)

// String returns the string representation of the severity.
func (s DamageSeverity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a recognized value.
func (s DamageSeverity) IsValid() bool {
	switch s {
	case SeverityMinor, SeverityModerate, SeveritySevere, SeverityCritical:
		return true
	}
	return false
}

// =============================================================================
// Bounding Box
// =============================================================================

// BoundingBox describes the pixel region of a detection within a frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewBoundingBox validates and constructs a BoundingBox.
// X and Y must be non-negative; Width and Height must be positive.
func NewBoundingBox(x, y, width, height float64) (BoundingBox, error) {
	if x < 0 || y < 0 {
		return BoundingBox{}, Invalid("domain.NewBoundingBox", "x and y must be non-negative")
	}
	if width <= 0 || height <= 0 {
		return BoundingBox{}, Invalid("domain.NewBoundingBox", "width and height must be positive")
	}
	return BoundingBox{X: x, Y: y, Width: width, Height: height}, nil
}

// Area returns the area of the box in square pixels.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// =============================================================================
// Damage Domain Type
// =============================================================================

// Damage represents a single detected region of vehicle damage.
//
// Damages are created during the detection phase and are immutable once
// constructed. They are owned by the DetectionResult that produced them; the
// copy carried on Video is a non-owning back-reference.
type Damage struct {
	ID          uuid.UUID      `json:"id"`
	Type        DamageType     `json:"damage_type"`
	Severity    DamageSeverity `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Box         BoundingBox    `json:"bounding_box"`
	FrameNumber int            `json:"frame_number"`
	Timestamp   float64        `json:"timestamp"` // Seconds from video start
	CreatedAt   time.Time      `json:"created_at"`
}

// NewDamage validates and constructs a Damage.
// Confidence must be within [0, 1] and the frame number non-negative.
func NewDamage(damageType DamageType, severity DamageSeverity, confidence float64, box BoundingBox, frameNumber int, timestamp float64) (Damage, error) {
	const op = "domain.NewDamage"

	if confidence < 0 || confidence > 1 {
		return Damage{}, Invalid(op, "confidence must be between 0.0 and 1.0")
	}
	if frameNumber < 0 {
		return Damage{}, Invalid(op, "frame number must be non-negative")
	}
	if !damageType.IsValid() {
		return Damage{}, Invalid(op, "unrecognized damage type: "+damageType.String())
	}
	if !severity.IsValid() {
		return Damage{}, Invalid(op, "unrecognized severity: "+severity.String())
	}

	return Damage{
		ID:          uuid.New(),
		Type:        damageType,
		Severity:    severity,
		Confidence:  confidence,
		Box:         box,
		FrameNumber: frameNumber,
		Timestamp:   timestamp,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HighConfidence returns true if the detection confidence meets the threshold.
func (d Damage) HighConfidence(threshold float64) bool {
	return d.Confidence >= threshold
}

// Severe returns true for severe or critical damages.
func (d Damage) Severe() bool {
	return d.Severity == SeveritySevere || d.Severity == SeverityCritical
}
