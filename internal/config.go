package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Detector Configuration
	DetectorProvider string // "mock" (in-repo) or "onnx" (external model)
	ModelPath        string // Weights file for the onnx provider
	FFmpegPath       string
	FFprobePath      string

	// Pipeline Configuration
	PipelineCapacity  int
	MaxVideoSizeMB    int
	DefaultThreshold  float64
	AnnotateByDefault bool
	OutputDir         string
	ReconcileInterval time.Duration

	// Storage Configuration
	StorageProvider string // "local" or "s3"

	// Local Storage (development)
	LocalStoragePath string // Base directory for artifact storage
	LocalStorageURL  string // Base URL for accessing artifacts

	// S3 Storage (production; also covers R2/MinIO via endpoint override)
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3PublicURL       string // Optional custom domain URL
	S3Region          string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Detector defaults to the mock so the service runs without weights
		DetectorProvider: getEnv("DETECTOR_PROVIDER", "mock"),
		ModelPath:        getEnv("MODEL_PATH", ""),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),

		// Pipeline defaults
		PipelineCapacity:  getEnvInt("PIPELINE_CAPACITY", 2),
		MaxVideoSizeMB:    getEnvInt("MAX_VIDEO_SIZE_MB", 500),
		DefaultThreshold:  getEnvFloat("DEFAULT_CONFIDENCE_THRESHOLD", 0.5),
		AnnotateByDefault: getEnvBool("ANNOTATE_BY_DEFAULT", true),
		OutputDir:         getEnv("OUTPUT_DIR", "./output"),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/artifacts"),

		// S3 configuration (production only)
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3BucketName:      getEnv("S3_BUCKET_NAME", ""),
		S3PublicURL:       getEnv("S3_PUBLIC_URL", ""),
		S3Region:          getEnv("S3_REGION", "auto"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Validate detector configuration
	if cfg.DetectorProvider == "onnx" {
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("MODEL_PATH is required when DETECTOR_PROVIDER is 'onnx'")
		}
	} else if cfg.DetectorProvider != "mock" {
		return nil, fmt.Errorf("DETECTOR_PROVIDER must be either 'onnx' or 'mock', got: %s", cfg.DetectorProvider)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "s3" {
		if cfg.S3AccessKeyID == "" {
			return nil, fmt.Errorf("S3_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3SecretAccessKey == "" {
			return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_PROVIDER is 's3'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 's3', got: %s", cfg.StorageProvider)
	}

	// Validate pipeline configuration
	if cfg.PipelineCapacity < 1 {
		return nil, fmt.Errorf("PIPELINE_CAPACITY must be at least 1, got: %d", cfg.PipelineCapacity)
	}
	if cfg.MaxVideoSizeMB < 1 {
		return nil, fmt.Errorf("MAX_VIDEO_SIZE_MB must be at least 1, got: %d", cfg.MaxVideoSizeMB)
	}
	if cfg.DefaultThreshold < 0 || cfg.DefaultThreshold > 1 {
		return nil, fmt.Errorf("DEFAULT_CONFIDENCE_THRESHOLD must be within [0, 1], got: %v", cfg.DefaultThreshold)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
