package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor stands in for the orchestrator so gate tests exercise
// admission and capacity without a real pipeline.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	active  int
	peak    int
	errFor  map[string]error
	started chan string   // receives each path when its run begins, if set
	gate    chan struct{} // runs block here until closed, if set
}

func (e *fakeExecutor) Execute(ctx context.Context, path string, threshold float64, annotate bool) (*domain.DetectionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, path)
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.started != nil {
		e.started <- path
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := e.errFor[path]; err != nil {
		return nil, err
	}

	stats := domain.DetectionStatistics{
		FramesProcessed:   1,
		DamagesByType:     map[string]int{},
		DamagesBySeverity: map[string]int{},
	}
	v := domain.NewVideo(path, testMetadata())
	return domain.NewDetectionResult(v.ID, nil, stats, "fake-model", threshold)
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestGate(t *testing.T, exec Executor, capacity int) (*Gate, *repository.MemoryVideoRepository) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	cfg.OutputDir = t.TempDir()

	videos := repository.NewMemoryVideoRepository()
	g, err := NewGate(cfg, exec, videos, slog.Default())
	require.NoError(t, err)
	return g, videos
}

// =============================================================================
// Single Submission
// =============================================================================

func TestGate_ProcessOne(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	g, _ := newTestGate(t, exec, 2)
	path := writeVideoFile(t, "a.mp4")

	result, err := g.ProcessOne(ctx, path, 0.5, false)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 1, exec.callCount())

	// Admission is released after completion.
	assert.False(t, g.Processing(path))
}

func TestGate_ProcessOne_DuplicatePathRejected(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{
		started: make(chan string, 1),
		gate:    make(chan struct{}),
	}
	g, _ := newTestGate(t, exec, 2)
	path := writeVideoFile(t, "a.mp4")

	done := make(chan error, 1)
	go func() {
		_, err := g.ProcessOne(ctx, path, 0.5, false)
		done <- err
	}()
	<-exec.started

	// Same file through a relative-looking alias is still a conflict.
	assert.True(t, g.Processing(path))
	_, err := g.ProcessOne(ctx, path, 0.5, false)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	close(exec.gate)
	require.NoError(t, <-done)

	// Re-admittable once the first run finished.
	_, err = g.ProcessOne(ctx, path, 0.5, false)
	require.NoError(t, err)
}

func TestGate_ProcessOne_CapacityBoundsParallelism(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{gate: make(chan struct{})}
	g, _ := newTestGate(t, exec, 2)

	paths := []string{
		writeVideoFile(t, "a.mp4"),
		writeVideoFile(t, "b.mp4"),
		writeVideoFile(t, "c.mp4"),
		writeVideoFile(t, "d.mp4"),
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := g.ProcessOne(ctx, p, 0.5, false)
			assert.NoError(t, err)
		}(p)
	}

	// Give the first two runs time to occupy both slots.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.active == 2
	}, time.Second, 5*time.Millisecond)

	close(exec.gate)
	wg.Wait()

	assert.Equal(t, 4, exec.callCount())
	assert.LessOrEqual(t, exec.peak, 2)
}

func TestGate_ProcessOne_ContextCancelledWhileWaiting(t *testing.T) {
	exec := &fakeExecutor{
		started: make(chan string, 1),
		gate:    make(chan struct{}),
	}
	g, _ := newTestGate(t, exec, 1)
	first := writeVideoFile(t, "a.mp4")
	second := writeVideoFile(t, "b.mp4")

	done := make(chan struct{})
	go func() {
		g.ProcessOne(context.Background(), first, 0.5, false)
		close(done)
	}()
	<-exec.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.ProcessOne(ctx, second, 0.5, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// The aborted wait released its admission.
	assert.False(t, g.Processing(second))

	close(exec.gate)
	<-done
}

// =============================================================================
// Batch Submission
// =============================================================================

func TestGate_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{}
	g, _ := newTestGate(t, exec, 2)

	paths := []string{
		writeVideoFile(t, "a.mp4"),
		writeVideoFile(t, "b.mp4"),
		writeVideoFile(t, "c.mp4"),
	}

	items, err := g.ProcessBatch(ctx, paths, 0.5, false)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Items come back aligned with submission order.
	for i, item := range items {
		assert.Equal(t, paths[i], item.Path)
		assert.NoError(t, item.Err)
		assert.NotNil(t, item.Result)
	}
}

func TestGate_ProcessBatch_EmptyRejected(t *testing.T) {
	exec := &fakeExecutor{}
	g, _ := newTestGate(t, exec, 2)

	_, err := g.ProcessBatch(context.Background(), nil, 0.5, false)
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestGate_ProcessBatch_AtomicPrecheck(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file rejects whole batch", func(t *testing.T) {
		exec := &fakeExecutor{}
		g, _ := newTestGate(t, exec, 2)
		good := writeVideoFile(t, "a.mp4")

		_, err := g.ProcessBatch(ctx, []string{good, "/nonexistent/b.mp4"}, 0.5, false)
		require.Error(t, err)
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

		// Nothing ran and nothing stayed admitted.
		assert.Zero(t, exec.callCount())
		assert.False(t, g.Processing(good))
	})

	t.Run("unsupported format rejects whole batch", func(t *testing.T) {
		exec := &fakeExecutor{}
		g, _ := newTestGate(t, exec, 2)
		good := writeVideoFile(t, "a.mp4")
		bad := writeVideoFile(t, "b.txt")

		_, err := g.ProcessBatch(ctx, []string{good, bad}, 0.5, false)
		require.Error(t, err)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Zero(t, exec.callCount())
	})

	t.Run("duplicate within batch rejects whole batch", func(t *testing.T) {
		exec := &fakeExecutor{}
		g, _ := newTestGate(t, exec, 2)
		path := writeVideoFile(t, "a.mp4")

		_, err := g.ProcessBatch(ctx, []string{path, path}, 0.5, false)
		require.Error(t, err)
		assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
		assert.Zero(t, exec.callCount())
		assert.False(t, g.Processing(path))
	})

	t.Run("collision with in-flight run rejects whole batch", func(t *testing.T) {
		exec := &fakeExecutor{
			started: make(chan string, 1),
			gate:    make(chan struct{}),
		}
		g, _ := newTestGate(t, exec, 2)
		inflight := writeVideoFile(t, "a.mp4")
		other := writeVideoFile(t, "b.mp4")

		done := make(chan struct{})
		go func() {
			g.ProcessOne(ctx, inflight, 0.5, false)
			close(done)
		}()
		<-exec.started

		_, err := g.ProcessBatch(ctx, []string{other, inflight}, 0.5, false)
		require.Error(t, err)
		assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
		assert.False(t, g.Processing(other))

		close(exec.gate)
		<-done
	})
}

func TestGate_ProcessBatch_PartialFailuresStayOrderAligned(t *testing.T) {
	ctx := context.Background()
	a := writeVideoFile(t, "a.mp4")
	b := writeVideoFile(t, "b.mp4")
	c := writeVideoFile(t, "c.mp4")

	exec := &fakeExecutor{errFor: map[string]error{b: errors.New("inference blew up")}}
	g, _ := newTestGate(t, exec, 3)

	items, err := g.ProcessBatch(ctx, []string{a, b, c}, 0.5, false)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	require.Error(t, items[1].Err)
	assert.Contains(t, items[1].Err.Error(), "inference blew up")
	assert.Nil(t, items[1].Result)
	assert.NoError(t, items[2].Err)

	// One bad item never aborts its siblings.
	assert.Equal(t, 3, exec.callCount())
}

// =============================================================================
// Orphan Reconciliation
// =============================================================================

func TestGate_ReconcileOrphans(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{
		started: make(chan string, 1),
		gate:    make(chan struct{}),
	}
	g, videos := newTestGate(t, exec, 2)

	// Two stale PROCESSING rows from a dead process.
	stale1 := domain.NewVideo("/videos/stale1.mp4", testMetadata())
	stale2 := domain.NewVideo("/videos/stale2.mp4", testMetadata())
	require.NoError(t, videos.Save(ctx, stale1))
	require.NoError(t, videos.Save(ctx, stale2))

	// One live run whose record must not be touched.
	live := writeVideoFile(t, "live.mp4")
	done := make(chan struct{})
	go func() {
		g.ProcessOne(ctx, live, 0.5, false)
		close(done)
	}()
	<-exec.started
	liveVideo := domain.NewVideo(live, testMetadata())
	require.NoError(t, videos.Save(ctx, liveVideo))

	repaired, err := g.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	for _, id := range []struct {
		v    *domain.Video
		want domain.VideoStatus
	}{
		{stale1, domain.StatusFailed},
		{stale2, domain.StatusFailed},
		{liveVideo, domain.StatusProcessing},
	} {
		got, err := videos.FindByID(ctx, id.v.ID)
		require.NoError(t, err)
		assert.Equal(t, id.want, got.Status)
	}

	close(exec.gate)
	<-done

	// Second sweep finds the live record now orphaned only if the run died;
	// here it completed, so only the untouched PROCESSING row remains.
	repaired, err = g.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
}

func TestGate_ReconcileOrphans_Empty(t *testing.T) {
	exec := &fakeExecutor{}
	g, _ := newTestGate(t, exec, 2)

	repaired, err := g.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestGate_Queue(t *testing.T) {
	exec := &fakeExecutor{
		started: make(chan string, 1),
		gate:    make(chan struct{}),
	}
	g, _ := newTestGate(t, exec, 3)
	path := writeVideoFile(t, "a.mp4")

	snapshot := g.Queue()
	assert.Zero(t, snapshot.InFlight)
	assert.Equal(t, 3, snapshot.Capacity)

	done := make(chan struct{})
	go func() {
		g.ProcessOne(context.Background(), path, 0.5, false)
		close(done)
	}()
	<-exec.started

	snapshot = g.Queue()
	assert.Equal(t, 1, snapshot.InFlight)
	require.Len(t, snapshot.Active, 1)

	close(exec.gate)
	<-done
}
