// Package storage provides file storage abstraction for annotated video
// artifacts.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage for development
// - S3Storage: S3-compatible object storage (AWS S3, Cloudflare R2, MinIO)
//
// The pipeline publishes annotated videos here after rendering so callers can
// fetch them without access to the worker's filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for artifact storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key with the given options.
	// Returns ErrKeyExists if the key exists and overwrite is disabled.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key.
	// The caller must close the returned reader. Returns ErrNotFound if the
	// key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Idempotent.
	Delete(ctx context.Context, key string) error

	// URL returns a URL for accessing the object at the specified key.
	// For private objects this is a presigned URL valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// If empty, it will be auto-detected from the file extension or content.
	ContentType string

	// MaxSize specifies the maximum allowed size in bytes.
	// If the data exceeds this size, ErrTooLarge is returned.
	// A value of 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	// If false and the key exists, ErrKeyExists is returned.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where artifacts are stored.
	// Example: "./storage" or "/var/lib/damagescan/artifacts"
	BasePath string

	// BaseURL is the public URL prefix for accessing artifacts.
	// Example: "http://localhost:8080/artifacts"
	BaseURL string
}

// S3Config holds configuration for S3-compatible object storage.
type S3Config struct {
	// Endpoint overrides the S3 endpoint URL. Leave empty for AWS S3; set it
	// for R2 or MinIO, e.g. "https://{account}.r2.cloudflarestorage.com".
	Endpoint string

	// AccessKeyID and SecretAccessKey are the API credentials.
	AccessKeyID     string
	SecretAccessKey string

	// BucketName is the bucket artifacts are written to.
	BucketName string

	// PublicURL is the public URL for the bucket (custom domain).
	// If empty, presigned URLs are used for all access.
	PublicURL string

	// Region is the region to use. Default: "auto".
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderS3 identifies the S3-compatible storage provider.
	ProviderS3 = "s3"
)

// =============================================================================
// Key Generation Helpers
// =============================================================================

// AnnotatedVideoKey generates a storage key for an annotated video artifact.
// Format: videos/{videoID}/annotated/{uuid}.{ext}
//
// Example: "videos/123e4567-e89b-12d3-a456-426614174000/annotated/987fcdeb-51a2-43f1-b9c4-12345678abcd.mp4"
func AnnotatedVideoKey(videoID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	artifactID := uuid.New()
	return fmt.Sprintf("videos/%s/annotated/%s%s", videoID, artifactID, ext)
}

// FrameKey generates a storage key for an extracted frame image.
// Format: videos/{videoID}/frames/{frame}.jpg
func FrameKey(videoID uuid.UUID, frame int) string {
	return fmt.Sprintf("videos/%s/frames/%06d.jpg", videoID, frame)
}
