package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/hmartell/damagescan/internal/domain"
)

// severityColors picks the box color drawn for each severity level.
var severityColors = map[domain.DamageSeverity]color.NRGBA{
	domain.SeverityMinor:    {G: 200, B: 80, A: 255},
	domain.SeverityModerate: {R: 255, G: 200, A: 255},
	domain.SeveritySevere:   {R: 255, G: 120, A: 255},
	domain.SeverityCritical: {R: 220, A: 255},
}

const boxBorderWidth = 3

// FFmpegRenderer implements Renderer. It re-decodes the source video,
// draws damage boxes onto the frames that have them, writes the frames to a
// scratch directory, and reassembles them with ffmpeg at the source frame
// rate.
type FFmpegRenderer struct {
	source *FFmpegSource
	prober *FFprobeProber

	// FFmpegPath overrides the ffmpeg binary; defaults to "ffmpeg" on PATH.
	FFmpegPath string

	logger *slog.Logger
}

// NewFFmpegRenderer creates an annotated-video renderer.
func NewFFmpegRenderer(source *FFmpegSource, prober *FFprobeProber, logger *slog.Logger) *FFmpegRenderer {
	return &FFmpegRenderer{
		source:     source,
		prober:     prober,
		FFmpegPath: "ffmpeg",
		logger:     logger,
	}
}

// RenderAnnotated writes an annotated copy of srcPath to outPath.
func (r *FFmpegRenderer) RenderAnnotated(ctx context.Context, srcPath string, damagesByFrame map[int][]domain.Damage, outPath string) (string, error) {
	meta, err := r.prober.Probe(ctx, srcPath)
	if err != nil {
		return "", fmt.Errorf("probe source: %w", err)
	}

	scratch, err := os.MkdirTemp("", "damagescan-annotate-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	stream, err := r.source.Open(ctx, srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer stream.Close()

	frames := 0
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read frame: %w", err)
		}

		img := frame.Image
		if damages := damagesByFrame[frame.Index]; len(damages) > 0 {
			img = drawDamages(img, damages)
		}

		framePath := filepath.Join(scratch, fmt.Sprintf("frame_%06d.jpg", frame.Index))
		if err := imaging.Save(img, framePath, imaging.JPEGQuality(90)); err != nil {
			return "", fmt.Errorf("write frame %d: %w", frame.Index, err)
		}
		frames++
	}
	if frames == 0 {
		return "", ErrNoFrames
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.FFmpegPath,
		"-framerate", fmt.Sprintf("%f", meta.FPS),
		"-i", filepath.Join(scratch, "frame_%06d.jpg"),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("assemble annotated video: %w: %s", err, out)
	}

	r.logger.Info("rendered annotated video",
		"source", srcPath,
		"output", outPath,
		"frames", frames,
		"annotated_frames", len(damagesByFrame),
	)

	return outPath, nil
}

// drawDamages burns bounding boxes into a copy of the frame.
func drawDamages(img image.Image, damages []domain.Damage) image.Image {
	canvas := imaging.Clone(img)
	for _, d := range damages {
		drawRect(canvas, d.Box, severityColors[d.Severity])
	}
	return canvas
}

// drawRect draws a hollow rectangle clipped to the canvas bounds.
func drawRect(canvas *image.NRGBA, box domain.BoundingBox, col color.NRGBA) {
	bounds := canvas.Bounds()
	x0 := clamp(int(box.X), bounds.Min.X, bounds.Max.X-1)
	y0 := clamp(int(box.Y), bounds.Min.Y, bounds.Max.Y-1)
	x1 := clamp(int(box.X+box.Width), bounds.Min.X, bounds.Max.X-1)
	y1 := clamp(int(box.Y+box.Height), bounds.Min.Y, bounds.Max.Y-1)

	for t := 0; t < boxBorderWidth; t++ {
		for x := x0; x <= x1; x++ {
			canvas.SetNRGBA(x, clamp(y0+t, y0, y1), col)
			canvas.SetNRGBA(x, clamp(y1-t, y0, y1), col)
		}
		for y := y0; y <= y1; y++ {
			canvas.SetNRGBA(clamp(x0+t, x0, x1), y, col)
			canvas.SetNRGBA(clamp(x1-t, x0, x1), y, col)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
