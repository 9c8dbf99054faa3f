package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hmartell/damagescan/internal/domain"
)

// =============================================================================
// In-Memory Video Repository
// =============================================================================

// MemoryVideoRepository is a map-backed VideoRepository used by tests and
// database-free local runs. Records are deep-copied through JSON on the way
// in and out so callers never share memory with the store.
type MemoryVideoRepository struct {
	mu     sync.RWMutex
	videos map[uuid.UUID][]byte

	// SaveErr and UpdateErr, when set, force the next call to fail.
	// Used by pipeline tests to simulate persistence failures.
	SaveErr   error
	UpdateErr error
}

// NewMemoryVideoRepository creates an empty in-memory video repository.
func NewMemoryVideoRepository() *MemoryVideoRepository {
	return &MemoryVideoRepository{videos: make(map[uuid.UUID][]byte)}
}

// Save stores a copy of the video.
func (r *MemoryVideoRepository) Save(ctx context.Context, v *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SaveErr != nil {
		return r.SaveErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.Internal(err, "repository.MemoryVideo.Save", "encode video")
	}
	r.videos[v.ID] = raw
	return nil
}

// Update overwrites an existing video.
func (r *MemoryVideoRepository) Update(ctx context.Context, v *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	if _, ok := r.videos[v.ID]; !ok {
		return domain.NotFound("repository.MemoryVideo.Update", "video", v.ID.String())
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.Internal(err, "repository.MemoryVideo.Update", "encode video")
	}
	r.videos[v.ID] = raw
	return nil
}

// FindByID returns a copy of the video with the given id.
func (r *MemoryVideoRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, ok := r.videos[id]
	if !ok {
		return nil, domain.NotFound("repository.MemoryVideo.FindByID", "video", id.String())
	}
	return decodeVideo(raw)
}

// FindByPath returns the most recently created video with the given path.
func (r *MemoryVideoRepository) FindByPath(ctx context.Context, path string) (*domain.Video, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range all {
		if v.FilePath == path {
			return v, nil
		}
	}
	return nil, domain.NotFound("repository.MemoryVideo.FindByPath", "video", path)
}

// FindByStatus returns all videos in the given status, oldest first.
func (r *MemoryVideoRepository) FindByStatus(ctx context.Context, status domain.VideoStatus) ([]*domain.Video, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Video
	for _, v := range all {
		if v.Status == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindAll returns every video, newest first.
func (r *MemoryVideoRepository) FindAll(ctx context.Context) ([]*domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Video, 0, len(r.videos))
	for _, raw := range r.videos {
		v, err := decodeVideo(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func decodeVideo(raw []byte) (*domain.Video, error) {
	var v domain.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, domain.Internal(err, "repository.MemoryVideo", "decode video")
	}
	return &v, nil
}

// =============================================================================
// In-Memory Detection Repository
// =============================================================================

// MemoryDetectionRepository is a map-backed DetectionRepository.
type MemoryDetectionRepository struct {
	mu      sync.RWMutex
	results map[uuid.UUID][]byte

	// SaveErr, when set, forces the next Save to fail.
	SaveErr error
}

// NewMemoryDetectionRepository creates an empty in-memory detection
// repository.
func NewMemoryDetectionRepository() *MemoryDetectionRepository {
	return &MemoryDetectionRepository{results: make(map[uuid.UUID][]byte)}
}

// Save stores a copy of the detection result.
func (r *MemoryDetectionRepository) Save(ctx context.Context, result *domain.DetectionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SaveErr != nil {
		return r.SaveErr
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.Internal(err, "repository.MemoryDetection.Save", "encode result")
	}
	r.results[result.ID] = raw
	return nil
}

// FindByID returns a copy of the result with the given id.
func (r *MemoryDetectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.DetectionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, ok := r.results[id]
	if !ok {
		return nil, domain.NotFound("repository.MemoryDetection.FindByID", "detection result", id.String())
	}
	return decodeDetection(raw)
}

// FindByVideoID returns the most recent result for a video.
func (r *MemoryDetectionRepository) FindByVideoID(ctx context.Context, videoID uuid.UUID) (*domain.DetectionResult, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, result := range all {
		if result.VideoID == videoID {
			return result, nil
		}
	}
	return nil, domain.NotFound("repository.MemoryDetection.FindByVideoID", "detection result for video", videoID.String())
}

// FindAll returns every result, newest first.
func (r *MemoryDetectionRepository) FindAll(ctx context.Context) ([]*domain.DetectionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.DetectionResult, 0, len(r.results))
	for _, raw := range r.results {
		result, err := decodeDetection(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func decodeDetection(raw []byte) (*domain.DetectionResult, error) {
	var result domain.DetectionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.Internal(err, "repository.MemoryDetection", "decode result")
	}
	return &result, nil
}
