package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hmartell/damagescan/internal"
	"github.com/hmartell/damagescan/internal/detect"
	"github.com/hmartell/damagescan/internal/detect/mock"
	"github.com/hmartell/damagescan/internal/handler"
	"github.com/hmartell/damagescan/internal/metrics"
	"github.com/hmartell/damagescan/internal/middleware"
	"github.com/hmartell/damagescan/internal/pipeline"
	"github.com/hmartell/damagescan/internal/repository"
	"github.com/hmartell/damagescan/internal/storage"
	"github.com/hmartell/damagescan/internal/video"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over a short-lived database/sql connection; the
	// application itself talks to Postgres through pgxpool.
	migrateDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := internal.RunMigrations(migrateDB); err != nil {
		migrateDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	migrateDB.Close()

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database pool failed: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repositories
	videos := repository.NewPostgresVideoRepository(pool)
	detections := repository.NewPostgresDetectionRepository(pool)

	// Initialize detector
	var detector detect.Detector
	switch cfg.DetectorProvider {
	case "mock":
		detector = mock.New(logger)
	case "onnx":
		return fmt.Errorf("detector provider %q is not available in this build", cfg.DetectorProvider)
	default:
		return fmt.Errorf("unknown detector provider %q", cfg.DetectorProvider)
	}
	logger.Info("Detector initialized", "provider", cfg.DetectorProvider)

	// Initialize video tooling
	frames := video.NewFFmpegSource(logger)
	frames.FFmpegPath = cfg.FFmpegPath
	prober := video.NewFFprobeProber(logger)
	prober.FFprobePath = cfg.FFprobePath
	renderer := video.NewFFmpegRenderer(frames, prober, logger)

	// Initialize artifact storage
	var store storage.Storage
	switch cfg.StorageProvider {
	case storage.ProviderLocal:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	case storage.ProviderS3:
		store, err = storage.NewS3Storage(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BucketName:      cfg.S3BucketName,
			PublicURL:       cfg.S3PublicURL,
			Region:          cfg.S3Region,
		}, logger)
	default:
		err = fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Storage initialized", "provider", cfg.StorageProvider)

	// Initialize pipeline
	pipeCfg := pipeline.Config{
		Capacity:          cfg.PipelineCapacity,
		MaxVideoSize:      int64(cfg.MaxVideoSizeMB) << 20,
		DefaultThreshold:  cfg.DefaultThreshold,
		AnnotateByDefault: cfg.AnnotateByDefault,
		OutputDir:         cfg.OutputDir,
		ReconcileInterval: cfg.ReconcileInterval,
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeCfg, pipeline.OrchestratorDeps{
		Videos:     videos,
		Detections: detections,
		Detector:   detector,
		Frames:     frames,
		Prober:     prober,
		Renderer:   renderer,
		Artifacts:  store,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator initialization failed: %w", err)
	}

	gate, err := pipeline.NewGate(pipeCfg, orchestrator, videos, logger)
	if err != nil {
		return fmt.Errorf("gate initialization failed: %w", err)
	}

	// Repair records orphaned by a previous crash, then keep sweeping
	go gate.RunReconciler(ctx)

	// Initialize middleware
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewVideoHandler(gate, orchestrator, videos, pipeCfg, logger).RegisterRoutes(mux)
	handler.NewDetectionHandler(detections, store, logger).RegisterRoutes(mux)
	handler.NewHealthHandler(pool, logger).RegisterRoutes(mux)

	// Prometheus metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Annotated artifacts are served straight off disk for local storage;
	// with S3 the artifact endpoint redirects to the bucket instead.
	if cfg.StorageProvider == storage.ProviderLocal {
		artifactFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", artifactFS))
	}

	// JSON 404 for anything no pattern matched
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := loggingMw.Handler(metrics.Middleware(mux))

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
