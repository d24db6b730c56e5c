package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"findit/internal/server/api"
	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/service"
	"findit/internal/server/session"
	"findit/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"share_view_counting", cfg.ShareViewCounting,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Wire services
	sessions := session.NewStore(cfg.SessionTTL)
	repo := service.FromDatabase(database.NewRepository(db.SQL))
	docs := service.NewDocumentService(repo, store, cfg)
	svc := api.Services{
		Accounts:  service.NewAccountService(repo, cfg),
		Documents: docs,
		Shares:    service.NewShareService(repo, store, cfg),
		Items:     service.NewItemService(repo, store),
		Claims:    service.NewClaimService(repo),
		Geocoder:  service.NewGeocoder(cfg.GeocoderURL),
		Locations: service.NewLocationSigner(cfg.SessionSecret),
	}

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(docs, sessions, cfg.CleanupInterval, cfg.TrashRetention)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, sessions, db, cfg)
	e, err := api.SetupRouter(handler, cfg, sessions)
	if err != nil {
		slog.Error("failed to set up router", "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.StorageBackend {
	case "s3":
		s3store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3store
		slog.Info("s3 storage initialized", "bucket", cfg.S3Bucket)
	default:
		store = storage.NewFileSystemStore(cfg.StoragePath)
		slog.Info("file storage initialized", "path", cfg.StoragePath)
	}

	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
