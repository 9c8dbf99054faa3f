package pipeline

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/video"
	"github.com/stretchr/testify/require"
)

// Shared fakes for orchestrator and gate tests. The detector comes from the
// detect/mock package; frame access and probing are faked here so no ffmpeg
// binary is needed.

// fakeStream yields a fixed number of tiny frames, optionally invoking a hook
// after each frame so tests can cancel contexts mid-run.
type fakeStream struct {
	total     int
	pos       int
	afterNext func(index int)
}

func (s *fakeStream) Next() (video.Frame, error) {
	if s.pos >= s.total {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{
		Index: s.pos,
		Image: image.NewRGBA(image.Rect(0, 0, 64, 64)),
	}
	s.pos++
	if s.afterNext != nil {
		s.afterNext(f.Index)
	}
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeSource struct {
	frames    int
	openErr   error
	afterNext func(index int)
}

func (s *fakeSource) Open(ctx context.Context, path string) (video.FrameStream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeStream{total: s.frames, afterNext: s.afterNext}, nil
}

type fakeProber struct {
	meta *domain.VideoMetadata
	err  error
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*domain.VideoMetadata, error) {
	if p.err != nil {
		return nil, p.err
	}
	meta := *p.meta
	return &meta, nil
}

type fakeRenderer struct {
	err   error
	calls int
	last  string
}

func (r *fakeRenderer) RenderAnnotated(ctx context.Context, srcPath string, damagesByFrame map[int][]domain.Damage, outPath string) (string, error) {
	r.calls++
	r.last = outPath
	if r.err != nil {
		return "", r.err
	}
	return outPath, nil
}

// writeVideoFile creates a small file with a supported extension so the
// pre-persistence validation passes.
func writeVideoFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func testMetadata() *domain.VideoMetadata {
	return &domain.VideoMetadata{
		Duration:   1.0,
		FPS:        30,
		Width:      64,
		Height:     64,
		FrameCount: 5,
		Format:     domain.FormatMP4,
		FileSize:   18,
		Codec:      "h264",
	}
}
