package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmartell/damagescan/internal/detect/mock"
	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/pipeline"
	"github.com/hmartell/damagescan/internal/repository"
	"github.com/hmartell/damagescan/internal/storage"
	"github.com/hmartell/damagescan/internal/video"
)

// =============================================================================
// Fixture
// =============================================================================

type fakeStream struct {
	total int
	pos   int
}

func (s *fakeStream) Next() (video.Frame, error) {
	if s.pos >= s.total {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{
		Index: s.pos,
		Image: image.NewRGBA(image.Rect(0, 0, 640, 480)),
	}
	s.pos++
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeSource struct {
	frames int
}

func (f *fakeSource) Open(ctx context.Context, path string) (video.FrameStream, error) {
	return &fakeStream{total: f.frames}, nil
}

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (*domain.VideoMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &domain.VideoMetadata{
		Duration:   2.0,
		FPS:        30.0,
		Width:      640,
		Height:     480,
		FrameCount: 3,
		Format:     domain.FormatMP4,
		FileSize:   info.Size(),
		Codec:      "h264",
		Bitrate:    1_000_000,
	}, nil
}

type fixture struct {
	videos     *repository.MemoryVideoRepository
	detections *repository.MemoryDetectionRepository
	detector   *mock.Detector
	mux        *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = t.TempDir()

	videos := repository.NewMemoryVideoRepository()
	detections := repository.NewMemoryDetectionRepository()
	detector := mock.New(logger)

	orchestrator, err := pipeline.NewOrchestrator(cfg, pipeline.OrchestratorDeps{
		Videos:     videos,
		Detections: detections,
		Detector:   detector,
		Frames:     &fakeSource{frames: 3},
		Prober:     fakeProber{},
		Logger:     logger,
	})
	require.NoError(t, err)

	gate, err := pipeline.NewGate(cfg, orchestrator, videos, logger)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewVideoHandler(gate, orchestrator, videos, cfg, logger).RegisterRoutes(mux)
	NewDetectionHandler(detections, nil, logger).RegisterRoutes(mux)
	NewHealthHandler(nil, logger).RegisterRoutes(mux)

	return &fixture{
		videos:     videos,
		detections: detections,
		detector:   detector,
		mux:        mux,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func writeVideoFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// Video Endpoints
// =============================================================================

func TestProcessEndpoint_Success(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")

	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[domain.DetectionResult](t, rec)

	// Default mock reports a dent and a scratch per frame, both above the
	// default 0.5 threshold.
	assert.Len(t, result.Damages, 6)
	assert.Equal(t, 3, result.Statistics.FramesProcessed)
	assert.Equal(t, 6, result.Statistics.TotalDamages)
	assert.Equal(t, "mock-detector-v1", result.ModelVersion)
}

func TestProcessEndpoint_ThresholdFilters(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")

	threshold := 0.7
	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{
		"path":                 path,
		"confidence_threshold": threshold,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[domain.DetectionResult](t, rec)

	// Only the 0.87 dent survives a 0.7 threshold.
	assert.Len(t, result.Damages, 3)
	assert.Equal(t, threshold, result.ConfidenceThreshold)
}

func TestProcessEndpoint_MissingPath(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, domain.EINVALID, body.Error.Code)
}

func TestProcessEndpoint_UnknownFile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{
		"path": "/nonexistent/clip.mp4",
	})

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, domain.ENOTFOUND, body.Error.Code)
}

func TestProcessEndpoint_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/api/v1/videos/process", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoint_OrderAligned(t *testing.T) {
	f := newFixture(t)
	first := writeVideoFile(t, "first.mp4")
	second := writeVideoFile(t, "second.mp4")

	rec := f.do(t, "POST", "/api/v1/videos/batch", map[string]any{
		"paths": []string{first, second},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Items []batchItemResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, first, body.Items[0].Path)
	assert.Equal(t, second, body.Items[1].Path)
	assert.NotNil(t, body.Items[0].Result)
	assert.NotNil(t, body.Items[1].Result)
	assert.Empty(t, body.Items[0].Error)
}

func TestBatchEndpoint_Empty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/v1/videos/batch", map[string]any{"paths": []string{}})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoint_DuplicatePath(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")

	rec := f.do(t, "POST", "/api/v1/videos/batch", map[string]any{
		"paths": []string{path, path},
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, domain.ECONFLICT, body.Error.Code)
}

func TestListEndpoint(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path}).Code)

	rec := f.do(t, "GET", "/api/v1/videos", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Videos []domain.Video `json:"videos"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, domain.StatusCompleted, body.Videos[0].Status)

	rec = f.do(t, "GET", "/api/v1/videos?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/api/v1/videos?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)

	rec = f.do(t, "GET", "/api/v1/videos?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetVideoEndpoint(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path}).Code)

	stored, err := f.videos.FindByPath(context.Background(), path)
	require.NoError(t, err)

	rec := f.do(t, "GET", "/api/v1/videos/"+stored.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[domain.Video](t, rec)
	assert.Equal(t, stored.ID, got.ID)

	rec = f.do(t, "GET", "/api/v1/videos/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/api/v1/videos/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path}).Code)

	stored, err := f.videos.FindByPath(context.Background(), path)
	require.NoError(t, err)

	rec := f.do(t, "GET", "/api/v1/videos/"+stored.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, stored.ID.String(), body["id"])
}

func TestCancelEndpoint_TerminalVideo(t *testing.T) {
	f := newFixture(t)
	path := writeVideoFile(t, "clip.mp4")
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path}).Code)

	stored, err := f.videos.FindByPath(context.Background(), path)
	require.NoError(t, err)

	rec := f.do(t, "POST", "/api/v1/videos/"+stored.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cancelled bool `json:"cancelled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Cancelled)
}

func TestQueueEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/v1/videos/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeBody[pipeline.QueueStatus](t, rec)
	assert.Equal(t, 0, status.InFlight)
	assert.Equal(t, pipeline.DefaultConfig().Capacity, status.Capacity)
}

// =============================================================================
// Detection Endpoints
// =============================================================================

func processOne(t *testing.T, f *fixture) *domain.DetectionResult {
	t.Helper()
	path := writeVideoFile(t, "clip.mp4")
	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[domain.DetectionResult](t, rec)
	return &result
}

func TestGetDetectionEndpoint(t *testing.T) {
	f := newFixture(t)
	result := processOne(t, f)

	rec := f.do(t, "GET", "/api/v1/detections/"+result.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[domain.DetectionResult](t, rec)
	assert.Equal(t, result.ID, got.ID)
	assert.Len(t, got.Damages, len(result.Damages))

	rec = f.do(t, "GET", "/api/v1/detections/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDetectionByVideoEndpoint(t *testing.T) {
	f := newFixture(t)
	result := processOne(t, f)

	rec := f.do(t, "GET", "/api/v1/detections/video/"+result.VideoID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[domain.DetectionResult](t, rec)
	assert.Equal(t, result.ID, got.ID)
}

func TestDetectionSummaryEndpoint(t *testing.T) {
	f := newFixture(t)
	result := processOne(t, f)

	rec := f.do(t, "GET", "/api/v1/detections/"+result.ID.String()+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decodeBody[domain.Summary](t, rec)
	assert.Equal(t, result.VideoID, summary.VideoID)
	assert.Equal(t, len(result.Damages), summary.TotalDamages)
	assert.ElementsMatch(t, []string{"dent", "scratch"}, summary.UniqueDamageTypes)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	first := processOne(t, f)

	path := writeVideoFile(t, "other.mp4")
	rec := f.do(t, "POST", "/api/v1/videos/process", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[domain.DetectionResult](t, rec)

	rec = f.do(t, "GET", "/api/v1/detections/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[fleetStats](t, rec)
	assert.Equal(t, 2, stats.TotalVideos)
	assert.Equal(t, len(first.Damages)+len(second.Damages), stats.TotalDamages)
	assert.Equal(t, 6, stats.TotalFramesProcessed)
	assert.Equal(t, 6, stats.DamagesByType["dent"])
	assert.Equal(t, 6, stats.DamagesByType["scratch"])
	assert.InDelta(t, (0.87+0.64)/2, stats.AverageConfidence, 1e-9)
}

func TestStatsEndpoint_Empty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/v1/detections/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[fleetStats](t, rec)
	assert.Equal(t, 0, stats.TotalVideos)
	assert.Equal(t, 0.0, stats.AverageConfidence)
}

func TestArtifactEndpoint_NoArtifact(t *testing.T) {
	f := newFixture(t)
	result := processOne(t, f)

	rec := f.do(t, "GET", "/api/v1/detections/"+result.ID.String()+"/artifact", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactEndpoint_Redirect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detections := repository.NewMemoryDetectionRepository()

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/artifacts",
	}, logger)
	require.NoError(t, err)

	videoID := uuid.New()
	result, err := domain.NewDetectionResult(videoID, nil, domain.DetectionStatistics{}, "mock-detector-v1", 0.5)
	require.NoError(t, err)
	result.ArtifactKey = storage.AnnotatedVideoKey(videoID, "annotated_clip.mp4")
	require.NoError(t, detections.Save(context.Background(), result))

	mux := http.NewServeMux()
	NewDetectionHandler(detections, store, logger).RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/api/v1/detections/"+result.ID.String()+"/artifact", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "http://localhost:8080/artifacts/"+result.ArtifactKey, rec.Header().Get("Location"))
}

// =============================================================================
// Health Endpoint
// =============================================================================

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestHealthEndpoint_NoDatabase(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "not configured", body["database"])
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewHealthHandler(fakePinger{err: errors.New("connection refused")}, logger).RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["database"])
}

func TestHealthEndpoint_DatabaseUp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewHealthHandler(fakePinger{}, logger).RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["database"])
}
