package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/repository"
	"github.com/hmartell/damagescan/internal/storage"
)

// artifactURLExpiry is how long presigned artifact URLs stay valid.
const artifactURLExpiry = 15 * time.Minute

// DetectionHandler serves detection result endpoints.
type DetectionHandler struct {
	detections repository.DetectionRepository
	store      storage.Storage
	logger     *slog.Logger
}

// NewDetectionHandler creates a detection handler. store may be nil when no
// artifact storage is configured.
func NewDetectionHandler(detections repository.DetectionRepository, store storage.Storage, logger *slog.Logger) *DetectionHandler {
	return &DetectionHandler{
		detections: detections,
		store:      store,
		logger:     logger,
	}
}

// RegisterRoutes registers the detection endpoints on the mux.
func (h *DetectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/detections/stats/summary", h.Stats)
	mux.HandleFunc("GET /api/v1/detections/video/{videoID}", h.GetByVideo)
	mux.HandleFunc("GET /api/v1/detections/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/detections/{id}/summary", h.Summary)
	mux.HandleFunc("GET /api/v1/detections/{id}/artifact", h.Artifact)
}

// Get handles GET /api/v1/detections/{id}.
func (h *DetectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.detections.FindByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetByVideo handles GET /api/v1/detections/video/{videoID}.
func (h *DetectionHandler) GetByVideo(w http.ResponseWriter, r *http.Request) {
	videoID, err := pathID(r, "videoID")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.detections.FindByVideoID(r.Context(), videoID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Summary handles GET /api/v1/detections/{id}/summary.
func (h *DetectionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.detections.FindByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result.Summarize())
}

// Artifact handles GET /api/v1/detections/{id}/artifact. It redirects to the
// stored annotated video when one was published for the run.
func (h *DetectionHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	const op = "handler.Detection.Artifact"

	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.detections.FindByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if result.ArtifactKey == "" || h.store == nil {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "annotated video for detection", id.String()))
		return
	}

	url, err := h.store.URL(r.Context(), result.ArtifactKey, artifactURLExpiry)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "resolve artifact URL"))
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// fleetStats is the aggregate view over every stored detection run.
type fleetStats struct {
	TotalVideos           int            `json:"total_videos"`
	TotalDamages          int            `json:"total_damages"`
	TotalFramesProcessed  int            `json:"total_frames_processed"`
	DamagesByType         map[string]int `json:"damages_by_type"`
	DamagesBySeverity     map[string]int `json:"damages_by_severity"`
	AverageConfidence     float64        `json:"average_confidence"`
	AverageProcessingTime float64        `json:"average_processing_time"`
}

// Stats handles GET /api/v1/detections/stats/summary, aggregating statistics
// across all stored detection results.
func (h *DetectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	results, err := h.detections.FindAll(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	stats := fleetStats{
		DamagesByType:     make(map[string]int),
		DamagesBySeverity: make(map[string]int),
	}

	var confidenceSum, timeSum float64
	for _, result := range results {
		s := result.Statistics
		stats.TotalVideos++
		stats.TotalDamages += s.TotalDamages
		stats.TotalFramesProcessed += s.FramesProcessed
		for k, v := range s.DamagesByType {
			stats.DamagesByType[k] += v
		}
		for k, v := range s.DamagesBySeverity {
			stats.DamagesBySeverity[k] += v
		}
		// Weight per-run averages by damage count so the fleet average is
		// the true mean over individual detections.
		confidenceSum += s.AverageConfidence * float64(s.TotalDamages)
		timeSum += s.ProcessingTime
	}

	if stats.TotalDamages > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalDamages)
	}
	if stats.TotalVideos > 0 {
		stats.AverageProcessingTime = timeSum / float64(stats.TotalVideos)
	}

	respondJSON(w, http.StatusOK, stats)
}
