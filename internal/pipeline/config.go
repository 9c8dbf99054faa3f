package pipeline

import (
	"fmt"
	"time"
)

// Config holds the configuration for the detection pipeline.
type Config struct {
	// Capacity is the maximum number of videos processed concurrently.
	// Submissions beyond the capacity wait for a slot.
	// Default: 2
	Capacity int

	// MaxVideoSize is the largest accepted input file, in bytes.
	// Default: 500 MiB
	MaxVideoSize int64

	// DefaultThreshold is the confidence threshold used when a caller does
	// not supply one.
	// Default: 0.5
	DefaultThreshold float64

	// AnnotateByDefault controls whether annotated videos are rendered when
	// a caller does not say either way.
	// Default: true
	AnnotateByDefault bool

	// OutputDir is where annotated artifacts are written before publishing.
	OutputDir string

	// ReconcileInterval is how often orphaned PROCESSING records are swept.
	// Reconciliation also always runs once at startup. Zero disables the
	// periodic sweep.
	// Default: 10 minutes
	ReconcileInterval time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Capacity:          2,
		MaxVideoSize:      500 << 20,
		DefaultThreshold:  0.5,
		AnnotateByDefault: true,
		OutputDir:         "output",
		ReconcileInterval: 10 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.Capacity > 64 {
		return fmt.Errorf("capacity too high (max 64), got %d", c.Capacity)
	}
	if c.MaxVideoSize < 1 {
		return fmt.Errorf("max video size must be positive, got %d", c.MaxVideoSize)
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default threshold must be within [0, 1], got %v", c.DefaultThreshold)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval must be non-negative, got %v", c.ReconcileInterval)
	}
	return nil
}
