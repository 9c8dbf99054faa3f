package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/metrics"
	"github.com/hmartell/damagescan/internal/repository"
)

// =============================================================================
// Gate
// =============================================================================

// Executor runs one video through the pipeline. Satisfied by *Orchestrator.
type Executor interface {
	Execute(ctx context.Context, path string, threshold float64, annotate bool) (*domain.DetectionResult, error)
}

// Gate is the admission controller in front of the Orchestrator. It enforces
// two invariants:
//
//   - a file path is processed by at most one run at a time
//   - at most Capacity runs execute concurrently; further admitted
//     submissions wait for a slot
//
// Admission is tracked by normalized absolute path, so "./a.mp4" and
// "a.mp4" cannot race each other.
type Gate struct {
	exec   Executor
	videos repository.VideoRepository
	logger *slog.Logger
	cfg    Config

	slots chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGate creates a Gate with the configured capacity.
func NewGate(cfg Config, exec Executor, videos repository.VideoRepository, logger *slog.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if videos == nil {
		return nil, fmt.Errorf("video repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		exec:     exec,
		videos:   videos,
		logger:   logger,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.Capacity),
		inflight: make(map[string]struct{}),
	}, nil
}

// =============================================================================
// Single Submission
// =============================================================================

// ProcessOne admits the path and runs it through the pipeline, waiting for a
// capacity slot if all are taken. A path that is already admitted, whether
// running or waiting, is rejected with ECONFLICT.
func (g *Gate) ProcessOne(ctx context.Context, path string, threshold float64, annotate bool) (*domain.DetectionResult, error) {
	const op = "pipeline.Gate.ProcessOne"

	norm, err := normalizePath(path)
	if err != nil {
		return nil, domain.Invalid(op, fmt.Sprintf("cannot resolve path %q: %v", path, err))
	}

	if err := g.admit(op, norm); err != nil {
		return nil, err
	}
	defer g.release(norm)

	return g.runAdmitted(ctx, path, threshold, annotate)
}

// runAdmitted waits for a capacity slot and executes. The caller holds the
// admission for the path and releases it afterwards.
func (g *Gate) runAdmitted(ctx context.Context, path string, threshold float64, annotate bool) (*domain.DetectionResult, error) {
	select {
	case g.slots <- struct{}{}:
		defer func() { <-g.slots }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for processing slot: %w", ctx.Err())
	}

	return g.exec.Execute(ctx, path, threshold, annotate)
}

// =============================================================================
// Batch Submission
// =============================================================================

// BatchItem is the per-path outcome of a batch run. Items are returned in
// submission order; exactly one of Result and Err is set.
type BatchItem struct {
	Path   string
	Result *domain.DetectionResult
	Err    error
}

// ProcessBatch validates and admits all paths atomically, then processes
// them concurrently under the shared capacity limit.
//
// The precheck is all-or-nothing: if any path is missing, unsupported,
// oversized, duplicated within the batch, or already admitted, the whole
// batch is rejected before any Video record is created. Failures during
// execution are per-item and do not abort the remaining paths.
func (g *Gate) ProcessBatch(ctx context.Context, paths []string, threshold float64, annotate bool) ([]BatchItem, error) {
	const op = "pipeline.Gate.ProcessBatch"

	if len(paths) == 0 {
		return nil, domain.Invalid(op, "batch contains no paths")
	}

	norms := make([]string, len(paths))
	for i, p := range paths {
		norm, err := normalizePath(p)
		if err != nil {
			metrics.BatchesSubmitted.WithLabelValues("rejected").Inc()
			return nil, domain.Invalid(op, fmt.Sprintf("cannot resolve path %q: %v", p, err))
		}
		if err := g.precheckFile(op, p); err != nil {
			metrics.BatchesSubmitted.WithLabelValues("rejected").Inc()
			return nil, err
		}
		norms[i] = norm
	}

	if err := g.admitAll(op, norms); err != nil {
		metrics.BatchesSubmitted.WithLabelValues("rejected").Inc()
		return nil, err
	}

	items := make([]BatchItem, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, path, norm string) {
			defer wg.Done()
			defer g.release(norm)

			result, err := g.runAdmitted(ctx, path, threshold, annotate)
			items[i] = BatchItem{Path: path, Result: result, Err: err}
		}(i, p, norms[i])
	}
	wg.Wait()

	metrics.BatchesSubmitted.WithLabelValues("accepted").Inc()
	return items, nil
}

// precheckFile mirrors the orchestrator's input validation so a batch can be
// rejected before any admission or record exists.
func (g *Gate) precheckFile(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NotFound(op, "video file", path)
		}
		return domain.Internal(err, op, fmt.Sprintf("stat %q", path))
	}
	if info.IsDir() {
		return domain.Invalid(op, fmt.Sprintf("%q is a directory", path))
	}
	if !domain.SupportedFormat(path) {
		return domain.Invalid(op, fmt.Sprintf("unsupported video format %q", filepath.Ext(path)))
	}
	if info.Size() > g.cfg.MaxVideoSize {
		return domain.TooLarge(op, fmt.Sprintf("video %q is %d bytes, limit is %d", path, info.Size(), g.cfg.MaxVideoSize))
	}
	return nil
}

// =============================================================================
// Admission Set
// =============================================================================

// admit reserves a single normalized path.
func (g *Gate) admit(op, norm string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inflight[norm]; ok {
		return domain.Conflict(op, fmt.Sprintf("video %q is already being processed", norm))
	}
	g.inflight[norm] = struct{}{}
	return nil
}

// admitAll reserves every path or none: a duplicate within the slice or a
// collision with an existing admission leaves the set untouched.
func (g *Gate) admitAll(op string, norms []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{}, len(norms))
	for _, norm := range norms {
		if _, ok := seen[norm]; ok {
			return domain.Conflict(op, fmt.Sprintf("video %q appears more than once in the batch", norm))
		}
		if _, ok := g.inflight[norm]; ok {
			return domain.Conflict(op, fmt.Sprintf("video %q is already being processed", norm))
		}
		seen[norm] = struct{}{}
	}
	for _, norm := range norms {
		g.inflight[norm] = struct{}{}
	}
	return nil
}

func (g *Gate) release(norm string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, norm)
}

// Processing reports whether the path is currently admitted.
func (g *Gate) Processing(path string) bool {
	norm, err := normalizePath(path)
	if err != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[norm]
	return ok
}

// QueueStatus is a point-in-time snapshot of the admission set.
type QueueStatus struct {
	Active   []string `json:"active"`
	InFlight int      `json:"in_flight"`
	Capacity int      `json:"capacity"`
}

// Queue returns the current admission snapshot.
func (g *Gate) Queue() QueueStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := make([]string, 0, len(g.inflight))
	for norm := range g.inflight {
		active = append(active, norm)
	}
	return QueueStatus{
		Active:   active,
		InFlight: len(g.inflight),
		Capacity: g.cfg.Capacity,
	}
}

// =============================================================================
// Orphan Reconciliation
// =============================================================================

// ReconcileOrphans marks stale PROCESSING records as FAILED. A record is an
// orphan when no current admission covers its path, which happens when the
// process died mid-run. Returns the number of records repaired.
//
// Individual update failures are logged and skipped so one bad row cannot
// block recovery of the rest.
func (g *Gate) ReconcileOrphans(ctx context.Context) (int, error) {
	const op = "pipeline.Gate.ReconcileOrphans"

	stale, err := g.videos.FindByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return 0, domain.Internal(err, op, "list processing videos")
	}

	repaired := 0
	for _, v := range stale {
		if g.Processing(v.FilePath) {
			continue
		}

		v.MarkFailed("processing interrupted: no active run owns this video")
		if err := g.videos.Update(ctx, v); err != nil {
			g.logger.Error("failed to repair orphaned video", "video_id", v.ID, "error", err)
			continue
		}

		g.logger.Warn("repaired orphaned video", "video_id", v.ID, "path", v.FilePath)
		metrics.OrphansReconciled.Inc()
		repaired++
	}

	if repaired > 0 {
		g.logger.Info("orphan reconciliation finished", "repaired", repaired)
	}
	return repaired, nil
}

// RunReconciler sweeps orphans once immediately and then on every interval
// tick until ctx is cancelled. With a zero interval only the initial sweep
// runs. Intended to be started as a goroutine from main.
func (g *Gate) RunReconciler(ctx context.Context) {
	if _, err := g.ReconcileOrphans(ctx); err != nil {
		g.logger.Error("orphan reconciliation failed", "error", err)
	}
	if g.cfg.ReconcileInterval <= 0 {
		return
	}

	ticker := time.NewTicker(g.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.ReconcileOrphans(ctx); err != nil {
				g.logger.Error("orphan reconciliation failed", "error", err)
			}
		}
	}
}

// normalizePath resolves a submission path to its cleaned absolute form,
// the identity used by the admission set.
func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
