// Package domain contains core business types and interfaces.
//
// This file defines the Video domain type and its processing state machine.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Video Status
// =============================================================================

// VideoStatus represents the processing state of a video.
//
// A video is created in StatusProcessing by the orchestrator and transitions
// to exactly one terminal state: completed, failed, or cancelled.
type VideoStatus string

const (
	// StatusPending indicates a video registered but not yet picked up.
	StatusPending VideoStatus = "pending"

	// StatusProcessing indicates a detection run is in flight.
	StatusProcessing VideoStatus = "processing"

	// StatusCompleted indicates processing finished successfully.
	StatusCompleted VideoStatus = "completed"

	// StatusFailed indicates processing terminated with an error.
	StatusFailed VideoStatus = "failed"

	// StatusCancelled indicates processing was cancelled by a caller.
	StatusCancelled VideoStatus = "cancelled"
)

// String returns the string representation of the status.
func (s VideoStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s VideoStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal returns true for states no further transition leaves.
func (s VideoStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// Video Format
// =============================================================================

// VideoFormat identifies the container format of a video file.
type VideoFormat string

const (
	FormatMP4     VideoFormat = "mp4"
	FormatAVI     VideoFormat = "avi"
	FormatMOV     VideoFormat = "mov"
	FormatMKV     VideoFormat = "mkv"
	FormatWMV     VideoFormat = "wmv"
	FormatFLV     VideoFormat = "flv"
	FormatWebM    VideoFormat = "webm"
	FormatUnknown VideoFormat = "unknown"
)

// String returns the string representation of the format.
func (f VideoFormat) String() string {
	return string(f)
}

// FormatFromPath derives the video format from a file extension.
func FormatFromPath(path string) VideoFormat {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "mp4":
		return FormatMP4
	case "avi":
		return FormatAVI
	case "mov":
		return FormatMOV
	case "mkv":
		return FormatMKV
	case "wmv":
		return FormatWMV
	case "flv":
		return FormatFLV
	case "webm":
		return FormatWebM
	}
	return FormatUnknown
}

// SupportedFormat returns true if the file extension is a format the
// pipeline accepts.
func SupportedFormat(path string) bool {
	return FormatFromPath(path) != FormatUnknown
}

// =============================================================================
// Video Metadata
// =============================================================================

// VideoMetadata holds the technical properties probed from a video file.
type VideoMetadata struct {
	Duration   float64     `json:"duration"` // Seconds
	FPS        float64     `json:"fps"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FrameCount int         `json:"frame_count"`
	Format     VideoFormat `json:"format"`
	FileSize   int64       `json:"file_size"` // Bytes
	Codec      string      `json:"codec"`
	Bitrate    int64       `json:"bitrate"` // Bits per second
}

// Validate checks the metadata for impossible values.
func (m *VideoMetadata) Validate() error {
	const op = "domain.VideoMetadata.Validate"

	if m.Duration <= 0 {
		return Invalid(op, "duration must be positive")
	}
	if m.FPS <= 0 {
		return Invalid(op, "fps must be positive")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return Invalid(op, "dimensions must be positive")
	}
	if m.FrameCount <= 0 {
		return Invalid(op, "frame count must be positive")
	}
	if m.FileSize <= 0 {
		return Invalid(op, "file size must be positive")
	}
	return nil
}

// Resolution returns the video dimensions as a "WxH" string.
func (m *VideoMetadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// AspectRatio returns width divided by height.
func (m *VideoMetadata) AspectRatio() float64 {
	if m.Height == 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

// =============================================================================
// Video Domain Type
// =============================================================================

// Video represents a video file tracked through the detection pipeline.
//
// The file path is immutable after creation. Damages are populated only once
// the video reaches StatusCompleted; they mirror the damages owned by the
// DetectionResult of the run.
type Video struct {
	ID             uuid.UUID      `json:"id"`
	FilePath       string         `json:"file_path"`
	Name           string         `json:"name"`
	Status         VideoStatus    `json:"status"`
	Metadata       *VideoMetadata `json:"metadata,omitempty"`
	Damages        []Damage       `json:"damages,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	ProcessingTime float64        `json:"processing_time,omitempty"` // Seconds
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// NewVideo constructs a Video in StatusProcessing for a validated file path.
func NewVideo(path string, metadata *VideoMetadata) *Video {
	now := time.Now().UTC()
	return &Video{
		ID:        uuid.New(),
		FilePath:  path,
		Name:      filepath.Base(path),
		Status:    StatusProcessing,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkCompleted transitions the video to StatusCompleted and records the
// damages found and elapsed processing time.
func (v *Video) MarkCompleted(damages []Damage, processingTime float64) {
	now := time.Now().UTC()
	v.Status = StatusCompleted
	v.Damages = damages
	v.ProcessedAt = &now
	v.ProcessingTime = processingTime
	v.ErrorMessage = ""
	v.UpdatedAt = now
}

// MarkFailed transitions the video to StatusFailed with the captured error.
func (v *Video) MarkFailed(message string) {
	now := time.Now().UTC()
	v.Status = StatusFailed
	v.ProcessedAt = &now
	v.ErrorMessage = message
	v.UpdatedAt = now
}

// MarkCancelled transitions the video to StatusCancelled. Cancellation is
// advisory: it does not preempt a running frame loop.
func (v *Video) MarkCancelled() {
	v.Status = StatusCancelled
	v.UpdatedAt = time.Now().UTC()
}

// Processed returns true if the video completed successfully.
func (v *Video) Processed() bool {
	return v.Status == StatusCompleted
}

// HasDamages returns true if any damages were recorded.
func (v *Video) HasDamages() bool {
	return len(v.Damages) > 0
}

// DamageCount returns the number of recorded damages.
func (v *Video) DamageCount() int {
	return len(v.Damages)
}

// SevereDamages returns the subset of damages that are severe or critical.
func (v *Video) SevereDamages() []Damage {
	var out []Damage
	for _, d := range v.Damages {
		if d.Severe() {
			out = append(out, d)
		}
	}
	return out
}

// HighConfidenceDamages returns damages at or above the confidence threshold.
func (v *Video) HighConfidenceDamages(threshold float64) []Damage {
	var out []Damage
	for _, d := range v.Damages {
		if d.HighConfidence(threshold) {
			out = append(out, d)
		}
	}
	return out
}
