package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hmartell/damagescan/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// Video Repository
// =============================================================================

// PostgresVideoRepository implements VideoRepository on a pgx pool.
// Metadata and damages are stored as JSONB documents on the video row; enum
// values are stored as their string tokens.
type PostgresVideoRepository struct {
	db *pgxpool.Pool
}

// NewPostgresVideoRepository creates a video repository backed by Postgres.
func NewPostgresVideoRepository(db *pgxpool.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{db: db}
}

const videoColumns = `id, file_path, name, status, metadata, damages, created_at, updated_at, processed_at, processing_time, error_message`

// Save inserts a new video record.
func (r *PostgresVideoRepository) Save(ctx context.Context, v *domain.Video) error {
	const op = "repository.Video.Save"

	metadata, damages, err := marshalVideoDocs(v)
	if err != nil {
		return domain.Internal(err, op, "encode video documents")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO videos (id, file_path, name, status, metadata, damages, created_at, updated_at, processed_at, processing_time, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.FilePath, v.Name, v.Status.String(), metadata, damages,
		v.CreatedAt, v.UpdatedAt, v.ProcessedAt, v.ProcessingTime, nullIfEmpty(v.ErrorMessage),
	)
	if err != nil {
		return domain.Internal(err, op, fmt.Sprintf("insert video %s", v.ID))
	}
	return nil
}

// Update overwrites the mutable fields of an existing video record.
func (r *PostgresVideoRepository) Update(ctx context.Context, v *domain.Video) error {
	const op = "repository.Video.Update"

	metadata, damages, err := marshalVideoDocs(v)
	if err != nil {
		return domain.Internal(err, op, "encode video documents")
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE videos
		SET status = $2, metadata = $3, damages = $4, updated_at = $5,
		    processed_at = $6, processing_time = $7, error_message = $8
		WHERE id = $1`,
		v.ID, v.Status.String(), metadata, damages,
		v.UpdatedAt, v.ProcessedAt, v.ProcessingTime, nullIfEmpty(v.ErrorMessage),
	)
	if err != nil {
		return domain.Internal(err, op, fmt.Sprintf("update video %s", v.ID))
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(op, "video", v.ID.String())
	}
	return nil
}

// FindByID returns the video with the given id.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	const op = "repository.Video.FindByID"

	row := r.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "video", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, fmt.Sprintf("query video %s", id))
	}
	return v, nil
}

// FindByPath returns the most recently created video for a file path.
func (r *PostgresVideoRepository) FindByPath(ctx context.Context, path string) (*domain.Video, error) {
	const op = "repository.Video.FindByPath"

	row := r.db.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE file_path = $1 ORDER BY created_at DESC LIMIT 1`, path)
	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "video", path)
	}
	if err != nil {
		return nil, domain.Internal(err, op, fmt.Sprintf("query video by path %q", path))
	}
	return v, nil
}

// FindByStatus returns all videos in the given status, oldest first.
func (r *PostgresVideoRepository) FindByStatus(ctx context.Context, status domain.VideoStatus) ([]*domain.Video, error) {
	const op = "repository.Video.FindByStatus"

	rows, err := r.db.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE status = $1 ORDER BY created_at ASC`, status.String())
	if err != nil {
		return nil, domain.Internal(err, op, fmt.Sprintf("query videos by status %s", status))
	}
	defer rows.Close()
	return collectVideos(rows, op)
}

// FindAll returns every video, newest first.
func (r *PostgresVideoRepository) FindAll(ctx context.Context) ([]*domain.Video, error) {
	const op = "repository.Video.FindAll"

	rows, err := r.db.Query(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.Internal(err, op, "query videos")
	}
	defer rows.Close()
	return collectVideos(rows, op)
}

func collectVideos(rows pgx.Rows, op string) ([]*domain.Video, error) {
	var out []*domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "scan video row")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "iterate video rows")
	}
	return out, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*domain.Video, error) {
	var (
		v            domain.Video
		status       string
		metadata     []byte
		damages      []byte
		errorMessage *string
	)
	err := row.Scan(&v.ID, &v.FilePath, &v.Name, &status, &metadata, &damages,
		&v.CreatedAt, &v.UpdatedAt, &v.ProcessedAt, &v.ProcessingTime, &errorMessage)
	if err != nil {
		return nil, err
	}

	v.Status = domain.VideoStatus(status)
	if errorMessage != nil {
		v.ErrorMessage = *errorMessage
	}
	if len(metadata) > 0 {
		v.Metadata = &domain.VideoMetadata{}
		if err := json.Unmarshal(metadata, v.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(damages) > 0 {
		if err := json.Unmarshal(damages, &v.Damages); err != nil {
			return nil, fmt.Errorf("decode damages: %w", err)
		}
	}
	return &v, nil
}

func marshalVideoDocs(v *domain.Video) (metadata, damages []byte, err error) {
	if v.Metadata != nil {
		metadata, err = json.Marshal(v.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if v.Damages != nil {
		damages, err = json.Marshal(v.Damages)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal damages: %w", err)
		}
	}
	return metadata, damages, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// =============================================================================
// Detection Repository
// =============================================================================

// PostgresDetectionRepository implements DetectionRepository on a pgx pool.
type PostgresDetectionRepository struct {
	db *pgxpool.Pool
}

// NewPostgresDetectionRepository creates a detection-result repository backed
// by Postgres.
func NewPostgresDetectionRepository(db *pgxpool.Pool) *PostgresDetectionRepository {
	return &PostgresDetectionRepository{db: db}
}

const detectionColumns = `id, video_id, damages, statistics, created_at, model_version, confidence_threshold, annotated_path, artifact_key`

// Save inserts a detection result. Results are written exactly once per
// successful run and never updated.
func (r *PostgresDetectionRepository) Save(ctx context.Context, result *domain.DetectionResult) error {
	const op = "repository.Detection.Save"

	damages, err := json.Marshal(result.Damages)
	if err != nil {
		return domain.Internal(err, op, "encode damages")
	}
	stats, err := json.Marshal(result.Statistics)
	if err != nil {
		return domain.Internal(err, op, "encode statistics")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO detection_results (id, video_id, damages, statistics, created_at, model_version, confidence_threshold, annotated_path, artifact_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.ID, result.VideoID, damages, stats, result.CreatedAt,
		result.ModelVersion, result.ConfidenceThreshold, nullIfEmpty(result.AnnotatedPath),
		nullIfEmpty(result.ArtifactKey),
	)
	if err != nil {
		return domain.Internal(err, op, fmt.Sprintf("insert detection result %s", result.ID))
	}
	return nil
}

// FindByID returns the detection result with the given id.
func (r *PostgresDetectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.DetectionResult, error) {
	const op = "repository.Detection.FindByID"

	row := r.db.QueryRow(ctx, `SELECT `+detectionColumns+` FROM detection_results WHERE id = $1`, id)
	result, err := scanDetection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "detection result", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, fmt.Sprintf("query detection result %s", id))
	}
	return result, nil
}

// FindByVideoID returns the most recent detection result for a video.
func (r *PostgresDetectionRepository) FindByVideoID(ctx context.Context, videoID uuid.UUID) (*domain.DetectionResult, error) {
	const op = "repository.Detection.FindByVideoID"

	row := r.db.QueryRow(ctx,
		`SELECT `+detectionColumns+` FROM detection_results WHERE video_id = $1 ORDER BY created_at DESC LIMIT 1`, videoID)
	result, err := scanDetection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "detection result for video", videoID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, fmt.Sprintf("query detection result for video %s", videoID))
	}
	return result, nil
}

// FindAll returns every detection result, newest first.
func (r *PostgresDetectionRepository) FindAll(ctx context.Context) ([]*domain.DetectionResult, error) {
	const op = "repository.Detection.FindAll"

	rows, err := r.db.Query(ctx, `SELECT `+detectionColumns+` FROM detection_results ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.Internal(err, op, "query detection results")
	}
	defer rows.Close()

	var out []*domain.DetectionResult
	for rows.Next() {
		result, err := scanDetection(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "scan detection row")
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "iterate detection rows")
	}
	return out, nil
}

func scanDetection(row rowScanner) (*domain.DetectionResult, error) {
	var (
		result        domain.DetectionResult
		damages       []byte
		stats         []byte
		annotatedPath *string
		artifactKey   *string
	)
	err := row.Scan(&result.ID, &result.VideoID, &damages, &stats,
		&result.CreatedAt, &result.ModelVersion, &result.ConfidenceThreshold, &annotatedPath, &artifactKey)
	if err != nil {
		return nil, err
	}

	if annotatedPath != nil {
		result.AnnotatedPath = *annotatedPath
	}
	if artifactKey != nil {
		result.ArtifactKey = *artifactKey
	}
	if len(damages) > 0 {
		if err := json.Unmarshal(damages, &result.Damages); err != nil {
			return nil, fmt.Errorf("decode damages: %w", err)
		}
	}
	if err := json.Unmarshal(stats, &result.Statistics); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}
	return &result, nil
}
