// Package repository provides persistence for videos and detection results.
//
// Two implementations exist: Postgres (pgx) for production and an in-memory
// variant used by tests and local development without a database.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hmartell/damagescan/internal/domain"
)

// VideoRepository persists Video records. Each Video id has exactly one
// concurrent writer (its own pipeline run), so updates are last-writer-wins.
type VideoRepository interface {
	Save(ctx context.Context, v *domain.Video) error
	Update(ctx context.Context, v *domain.Video) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Video, error)
	FindByPath(ctx context.Context, path string) (*domain.Video, error)
	FindByStatus(ctx context.Context, status domain.VideoStatus) ([]*domain.Video, error)
	FindAll(ctx context.Context) ([]*domain.Video, error)
}

// DetectionRepository persists DetectionResult records.
type DetectionRepository interface {
	Save(ctx context.Context, r *domain.DetectionResult) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.DetectionResult, error)
	FindByVideoID(ctx context.Context, videoID uuid.UUID) (*domain.DetectionResult, error)
	FindAll(ctx context.Context) ([]*domain.DetectionResult, error)
}
