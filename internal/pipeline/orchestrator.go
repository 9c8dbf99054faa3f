// Package pipeline drives the end-to-end video damage detection flow:
// validation, frame inference, statistics aggregation, optional annotation,
// and persistence, plus the admission control that keeps concurrent runs
// bounded and paths exclusive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hmartell/damagescan/internal/detect"
	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/metrics"
	"github.com/hmartell/damagescan/internal/repository"
	"github.com/hmartell/damagescan/internal/storage"
	"github.com/hmartell/damagescan/internal/video"
)

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs a single video through the detection pipeline.
//
// A run creates a Video record in PROCESSING, feeds every decoded frame to
// the detector in order, classifies and aggregates the damages found, and
// finishes by persisting exactly one terminal state. Any failure after the
// record exists produces a best-effort FAILED write that never masks the
// original error.
type Orchestrator struct {
	videos     repository.VideoRepository
	detections repository.DetectionRepository
	detector   detect.Detector
	classifier detect.SeverityClassifier
	frames     video.FrameSource
	prober     video.Prober
	renderer   video.Renderer  // optional
	artifacts  storage.Storage // optional
	logger     *slog.Logger
	io         *ioPool

	maxVideoSize int64
	outputDir    string
}

// OrchestratorDeps bundles the collaborators an Orchestrator needs.
// Renderer and Artifacts are optional; everything else is required.
type OrchestratorDeps struct {
	Videos     repository.VideoRepository
	Detections repository.DetectionRepository
	Detector   detect.Detector
	Classifier detect.SeverityClassifier
	Frames     video.FrameSource
	Prober     video.Prober
	Renderer   video.Renderer
	Artifacts  storage.Storage
	Logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator from validated configuration and
// dependencies.
func NewOrchestrator(cfg Config, deps OrchestratorDeps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Videos == nil || deps.Detections == nil {
		return nil, fmt.Errorf("video and detection repositories are required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = detect.NewThresholdClassifier()
	}
	if deps.Frames == nil || deps.Prober == nil {
		return nil, fmt.Errorf("frame source and prober are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Orchestrator{
		videos:       deps.Videos,
		detections:   deps.Detections,
		detector:     deps.Detector,
		classifier:   deps.Classifier,
		frames:       deps.Frames,
		prober:       deps.Prober,
		renderer:     deps.Renderer,
		artifacts:    deps.Artifacts,
		logger:       deps.Logger,
		io:           newIOPool(cfg.Capacity + 2),
		maxVideoSize: cfg.MaxVideoSize,
		outputDir:    cfg.OutputDir,
	}, nil
}

// Execute processes the video at path and returns the persisted result.
//
// Validation happens before any record is created, so rejected inputs leave
// no trace. Cancellation via ctx is honored between frames; a cancelled run
// is recorded as FAILED.
func (o *Orchestrator) Execute(ctx context.Context, path string, threshold float64, annotate bool) (*domain.DetectionResult, error) {
	const op = "pipeline.Orchestrator.Execute"
	start := time.Now()

	if threshold < 0 || threshold > 1 {
		return nil, domain.Invalid(op, "confidence threshold must be between 0.0 and 1.0")
	}
	if err := o.validateFile(op, path); err != nil {
		return nil, err
	}

	if !o.detector.Ready() {
		if err := o.detector.Prepare(ctx); err != nil {
			return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "detection model could not be loaded")
		}
	}

	meta, err := o.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	v := domain.NewVideo(path, meta)
	if err := o.io.Do(ctx, func() error { return o.videos.Save(ctx, v) }); err != nil {
		return nil, err
	}

	metrics.VideosInFlight.Inc()
	defer metrics.VideosInFlight.Dec()

	o.logger.Info("processing video",
		"video_id", v.ID,
		"path", path,
		"duration", meta.Duration,
		"frames", meta.FrameCount,
		"threshold", threshold,
	)

	damages, agg, err := o.detectDamages(ctx, path, meta, threshold)
	if err != nil {
		return nil, o.fail(ctx, v, err)
	}

	stats := agg.Finalize(time.Since(start))
	result, err := domain.NewDetectionResult(v.ID, damages, stats, o.detector.ModelVersion(), threshold)
	if err != nil {
		return nil, o.fail(ctx, v, err)
	}

	if annotate && result.HasDamages() && o.renderer != nil {
		o.renderAnnotated(ctx, v, result)
	}

	v.MarkCompleted(damages, stats.ProcessingTime)
	if err := o.io.Do(ctx, func() error { return o.videos.Update(ctx, v) }); err != nil {
		return nil, o.fail(ctx, v, err)
	}
	if err := o.io.Do(ctx, func() error { return o.detections.Save(ctx, result) }); err != nil {
		return nil, o.fail(ctx, v, err)
	}

	metrics.VideosProcessed.WithLabelValues(domain.StatusCompleted.String()).Inc()
	metrics.VideoProcessingDuration.Observe(stats.ProcessingTime)

	o.logger.Info("video processed",
		"video_id", v.ID,
		"damages", len(damages),
		"frames", stats.FramesProcessed,
		"processing_time", stats.ProcessingTime,
	)

	return result, nil
}

// Status returns the current processing state of a video.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (domain.VideoStatus, error) {
	v, err := o.videos.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return v.Status, nil
}

// Cancel marks a PROCESSING video as cancelled. Cancellation is advisory:
// a frame loop already in flight finishes its current frame and stops at the
// next context check; the record flips to CANCELLED immediately.
//
// Returns true if the video was cancelled, false if it was already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	v, err := o.videos.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if v.Status != domain.StatusProcessing {
		return false, nil
	}

	v.MarkCancelled()
	if err := o.videos.Update(ctx, v); err != nil {
		return false, err
	}

	o.logger.Info("video cancelled", "video_id", id)
	metrics.VideosProcessed.WithLabelValues(domain.StatusCancelled.String()).Inc()
	return true, nil
}

// =============================================================================
// Phases
// =============================================================================

// validateFile rejects missing, unreadable, unsupported, and oversized inputs
// before any state is created.
func (o *Orchestrator) validateFile(op, path string) error {
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
	if info.Size() > o.maxVideoSize {
		return domain.TooLarge(op, fmt.Sprintf("video is %d bytes, limit is %d", info.Size(), o.maxVideoSize))
	}
	return nil
}

// detectDamages runs the frame loop: decode in order, infer, classify, and
// fold into the aggregator. The context is checked between frames so
// cancellation never interrupts a frame mid-inference.
func (o *Orchestrator) detectDamages(ctx context.Context, path string, meta *domain.VideoMetadata, threshold float64) ([]domain.Damage, *detect.Aggregator, error) {
	const op = "pipeline.Orchestrator.detectDamages"

	stream, err := o.frames.Open(ctx, path)
	if err != nil {
		if errors.Is(err, video.ErrNotReadable) {
			return nil, nil, domain.Invalid(op, err.Error())
		}
		return nil, nil, domain.Internal(err, op, "open frame stream")
	}
	defer stream.Close()

	agg := detect.NewAggregator()
	var damages []domain.Damage

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("processing interrupted: %w", err)
		}

		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, video.ErrNoFrames) {
				return nil, nil, domain.Invalid(op, err.Error())
			}
			return nil, nil, domain.Internal(err, op, fmt.Sprintf("decode frame %d", agg.FramesProcessed()))
		}

		raws, err := o.detector.Infer(ctx, frame.Image)
		if err != nil {
			return nil, nil, domain.Internal(err, op, fmt.Sprintf("infer frame %d", frame.Index))
		}

		for _, raw := range raws {
			if raw.Confidence < threshold {
				continue
			}
			severity := o.classifier.Classify(raw.Box.Area(), raw.Confidence)
			timestamp := float64(frame.Index) / meta.FPS

			d, err := domain.NewDamage(detect.TypeForClass(raw.ClassID), severity, raw.Confidence, raw.Box, frame.Index, timestamp)
			if err != nil {
				return nil, nil, err
			}
			damages = append(damages, d)
			agg.ObserveDamage(d)
			metrics.DamagesDetected.WithLabelValues(d.Type.String(), d.Severity.String()).Inc()
		}

		agg.ObserveFrame()
		metrics.FramesProcessed.Inc()
	}

	return damages, agg, nil
}

// renderAnnotated produces the annotated artifact. Rendering is best-effort:
// a failure here is logged and the run still completes.
func (o *Orchestrator) renderAnnotated(ctx context.Context, v *domain.Video, result *domain.DetectionResult) {
	outPath := filepath.Join(o.outputDir, annotatedName(v.Name))

	written, err := o.renderer.RenderAnnotated(ctx, v.FilePath, result.DamagesByFrame(), outPath)
	if err != nil {
		o.logger.Warn("annotation failed, continuing without annotated video",
			"video_id", v.ID,
			"error", err,
		)
		metrics.AnnotationsRendered.WithLabelValues("failed").Inc()
		return
	}

	result.AnnotatedPath = written
	metrics.AnnotationsRendered.WithLabelValues("rendered").Inc()

	if o.artifacts != nil {
		o.publishArtifact(ctx, v, result, written)
	}
}

// publishArtifact uploads the annotated video to object storage. Best-effort:
// the local file remains authoritative if the upload fails.
func (o *Orchestrator) publishArtifact(ctx context.Context, v *domain.Video, result *domain.DetectionResult, path string) {
	file, err := os.Open(path)
	if err != nil {
		o.logger.Warn("cannot open annotated video for upload", "video_id", v.ID, "path", path, "error", err)
		return
	}
	defer file.Close()

	key := storage.AnnotatedVideoKey(v.ID, path)
	err = o.artifacts.Put(ctx, key, file, storage.PutOptions{
		ContentType: storage.DetectContentType("", path, nil),
		Overwrite:   true,
	})
	if err != nil {
		o.logger.Warn("annotated video upload failed", "video_id", v.ID, "key", key, "error", err)
		return
	}

	result.ArtifactKey = key
	o.logger.Info("annotated video published", "video_id", v.ID, "key", key)
}

// fail transitions the video to FAILED with the captured error message.
// The write is best-effort and runs even when ctx is already cancelled;
// a secondary persistence failure is logged, never returned, so the
// original error always reaches the caller.
func (o *Orchestrator) fail(ctx context.Context, v *domain.Video, err error) error {
	bg := context.WithoutCancel(ctx)

	v.MarkFailed(err.Error())
	if uerr := o.io.Do(bg, func() error { return o.videos.Update(bg, v) }); uerr != nil {
		o.logger.Error("failed to record failure state",
			"video_id", v.ID,
			"error", uerr,
			"original_error", err,
		)
	}

	metrics.VideosProcessed.WithLabelValues(domain.StatusFailed.String()).Inc()
	o.logger.Error("video processing failed", "video_id", v.ID, "error", err)
	return err
}

// annotatedName derives the artifact filename for a source video. Annotated
// output is always an mp4 regardless of the source container.
func annotatedName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return "annotated_" + base + ".mp4"
}
