package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hmartell/damagescan/internal/domain"
	"github.com/hmartell/damagescan/internal/pipeline"
	"github.com/hmartell/damagescan/internal/repository"
)

// VideoHandler serves video submission and lifecycle endpoints. Processing is
// synchronous: the response carries the finished detection result.
type VideoHandler struct {
	gate         *pipeline.Gate
	orchestrator *pipeline.Orchestrator
	videos       repository.VideoRepository
	logger       *slog.Logger

	defaultThreshold  float64
	annotateByDefault bool
}

// NewVideoHandler creates a video handler.
func NewVideoHandler(gate *pipeline.Gate, orchestrator *pipeline.Orchestrator, videos repository.VideoRepository, cfg pipeline.Config, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{
		gate:              gate,
		orchestrator:      orchestrator,
		videos:            videos,
		logger:            logger,
		defaultThreshold:  cfg.DefaultThreshold,
		annotateByDefault: cfg.AnnotateByDefault,
	}
}

// RegisterRoutes registers the video endpoints on the mux. The literal
// "queue" segment takes precedence over the "{id}" wildcard.
func (h *VideoHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/videos/process", h.Process)
	mux.HandleFunc("POST /api/v1/videos/batch", h.ProcessBatch)
	mux.HandleFunc("GET /api/v1/videos", h.List)
	mux.HandleFunc("GET /api/v1/videos/queue", h.Queue)
	mux.HandleFunc("GET /api/v1/videos/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/videos/{id}/status", h.Status)
	mux.HandleFunc("POST /api/v1/videos/{id}/cancel", h.Cancel)
}

type processRequest struct {
	Path                string   `json:"path"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	Annotate            *bool    `json:"annotate"`
}

// Process handles POST /api/v1/videos/process.
func (h *VideoHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Path == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.Video.Process", "path is required"))
		return
	}

	threshold := h.defaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}
	annotate := h.annotateByDefault
	if req.Annotate != nil {
		annotate = *req.Annotate
	}

	result, err := h.gate.ProcessOne(r.Context(), req.Path, threshold, annotate)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Paths               []string `json:"paths"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	Annotate            *bool    `json:"annotate"`
}

type batchItemResponse struct {
	Path   string                  `json:"path"`
	Result *domain.DetectionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// ProcessBatch handles POST /api/v1/videos/batch.
func (h *VideoHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	threshold := h.defaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}
	annotate := h.annotateByDefault
	if req.Annotate != nil {
		annotate = *req.Annotate
	}

	items, err := h.gate.ProcessBatch(r.Context(), req.Paths, threshold, annotate)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]batchItemResponse, len(items))
	for i, item := range items {
		out[i] = batchItemResponse{Path: item.Path, Result: item.Result}
		if item.Err != nil {
			out[i].Error = domain.ErrorMessage(item.Err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"items": out})
}

// List handles GET /api/v1/videos with an optional ?status= filter.
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		videos []*domain.Video
		err    error
	)

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.VideoStatus(raw)
		if !status.IsValid() {
			ErrorResponse(w, r, h.logger, domain.Invalid("handler.Video.List", "unrecognized status: "+raw))
			return
		}
		videos, err = h.videos.FindByStatus(r.Context(), status)
	} else {
		videos, err = h.videos.FindAll(r.Context())
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"videos": videos, "count": len(videos)})
}

// Get handles GET /api/v1/videos/{id}.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	v, err := h.videos.FindByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, v)
}

// Status handles GET /api/v1/videos/{id}/status.
func (h *VideoHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	status, err := h.orchestrator.Status(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": status.String(),
	})
}

// Cancel handles POST /api/v1/videos/{id}/cancel.
func (h *VideoHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	cancelled, err := h.orchestrator.Cancel(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":        id.String(),
		"cancelled": cancelled,
	})
}

// Queue handles GET /api/v1/videos/queue.
func (h *VideoHandler) Queue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gate.Queue())
}

// pathID parses a UUID path parameter.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Invalid("handler.pathID", "invalid id: "+raw)
	}
	return id, nil
}
