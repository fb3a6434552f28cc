package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/rostersync/internal/api"
	"github.com/timmy/rostersync/internal/config"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/repository"
	"github.com/timmy/rostersync/internal/service"
	"github.com/timmy/rostersync/internal/source/provider"
	"github.com/timmy/rostersync/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to access database handle")
	}
	defer sqlDB.Close()

	client, err := provider.NewClientFromConfig(&cfg.Provider)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize provider client")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := api.RouterDeps{DB: sqlDB, Logger: appLogger}
	if cfg.Bulk.Archive {
		objectStorage, err := storage.NewS3Store(ctx, &cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		deps.Archive = storage.NewArchive(objectStorage, cfg.Bulk.ArchivePrefix)
		appLogger.WithField("bucket", cfg.Storage.Bucket).Info("Bulk upload archiving enabled")
	}

	syncService := service.NewSyncService(
		client,
		service.NewReconciler(repository.NewCanonicalRepository(db)),
		repository.NewSyncRunRepository(db, cfg.Sync.HistoryLimit),
		repository.NewCheckpointRepository(db),
		appLogger,
		&service.SyncConfig{
			PrefetchPages: cfg.Sync.PrefetchPages,
			MaxRunErrors:  cfg.Sync.MaxRunErrors,
		},
	)
	deps.Sync = syncService

	if cfg.Sync.Interval > 0 {
		appLogger.WithField("interval", cfg.Sync.Interval.String()).Info("Scheduled incremental sync enabled")
		go syncService.Schedule(ctx, cfg.Sync.Interval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.SetupRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stop()

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// cancels any background run and waits for it to be recorded
	syncService.Close()

	appLogger.Info("Server exited")
}
