package detect

import (
	"time"

	"github.com/hmartell/damagescan/internal/domain"
)

// Aggregator accumulates per-frame damage observations into summary
// statistics. It is a streaming accumulator: the orchestrator feeds it
// damages in frame order and finalizes it once the frame source is
// exhausted.
//
// Aggregator is not safe for concurrent use; each detection run owns one.
type Aggregator struct {
	framesProcessed int
	totalConfidence float64
	byType          map[string]int
	bySeverity      map[string]int
	damageCount     int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byType:     make(map[string]int),
		bySeverity: make(map[string]int),
	}
}

// ObserveFrame records that one frame was processed, whether or not it
// produced damages.
func (a *Aggregator) ObserveFrame() {
	a.framesProcessed++
}

// ObserveDamage folds a detected damage into the running totals.
func (a *Aggregator) ObserveDamage(d domain.Damage) {
	a.damageCount++
	a.totalConfidence += d.Confidence
	a.byType[d.Type.String()]++
	a.bySeverity[d.Severity.String()]++
}

// FramesProcessed returns the number of frames observed so far.
func (a *Aggregator) FramesProcessed() int {
	return a.framesProcessed
}

// DamageCount returns the number of damages observed so far.
func (a *Aggregator) DamageCount() int {
	return a.damageCount
}

// Finalize produces the immutable statistics snapshot for the run.
//
// With zero observed damages the snapshot carries empty (non-nil) maps and a
// 0.0 average confidence. Frames per second is 0.0 when elapsed is zero.
func (a *Aggregator) Finalize(elapsed time.Duration) domain.DetectionStatistics {
	avg := 0.0
	if a.damageCount > 0 {
		avg = a.totalConfidence / float64(a.damageCount)
	}

	seconds := elapsed.Seconds()
	fps := 0.0
	if seconds > 0 {
		fps = float64(a.framesProcessed) / seconds
	}

	byType := make(map[string]int, len(a.byType))
	for k, v := range a.byType {
		byType[k] = v
	}
	bySeverity := make(map[string]int, len(a.bySeverity))
	for k, v := range a.bySeverity {
		bySeverity[k] = v
	}

	return domain.DetectionStatistics{
		FramesProcessed:   a.framesProcessed,
		TotalDamages:      a.damageCount,
		DamagesByType:     byType,
		DamagesBySeverity: bySeverity,
		AverageConfidence: avg,
		ProcessingTime:    seconds,
		FramesPerSecond:   fps,
	}
}
