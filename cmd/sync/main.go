package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/rostersync/internal/config"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/repository"
	"github.com/timmy/rostersync/internal/service"
	"github.com/timmy/rostersync/internal/source"
	"github.com/timmy/rostersync/internal/source/bulk"
	"github.com/timmy/rostersync/internal/source/provider"
	"github.com/timmy/rostersync/internal/storage"
	"gorm.io/gorm"
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	appLogger := logger.New(logger.ConfigFromEnv("rostersync-cli"))
	logger.SetDefaultLogger(appLogger)

	var files, objects listFlag
	mode := flag.String("mode", "incremental", "Run mode: full, incremental or bulk")
	kind := flag.String("kind", "", "Entity kind of bulk files (people, courses, enrollments, content_completions)")
	flag.Var(&files, "file", "Bulk file to load; repeatable")
	flag.Var(&objects, "object", "Archived bulk object key to replay; repeatable")
	format := flag.String("format", "", "Bulk format (csv or jsonl); inferred from the file name when empty")
	asOf := flag.String("as-of", "", "Observation time for bulk rows without updated_at (RFC3339)")
	archive := flag.Bool("archive", false, "Archive bulk files to object storage before loading")
	check := flag.Bool("check", false, "Only test the provider connection")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, cancelling run...")
		cancel()
	}()

	client, err := provider.NewClientFromConfig(&cfg.Provider)
	if err != nil && (*check || domain.RunMode(*mode) != domain.RunModeBulk) {
		appLogger.WithError(err).Fatal("Failed to initialize provider client")
	}

	if *check {
		if err := client.Ping(ctx); err != nil {
			appLogger.WithError(err).Fatal("Provider connection failed")
		}
		appLogger.Info("Provider connection ok")
		return
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	var src source.PageSource = client
	if client == nil {
		src = offlineSource{}
	}
	svc := service.NewSyncService(
		src,
		service.NewReconciler(repository.NewCanonicalRepository(db)),
		repository.NewSyncRunRepository(db, cfg.Sync.HistoryLimit),
		repository.NewCheckpointRepository(db),
		appLogger,
		&service.SyncConfig{
			PrefetchPages: cfg.Sync.PrefetchPages,
			MaxRunErrors:  cfg.Sync.MaxRunErrors,
		},
	)

	var runs []*domain.SyncRun
	switch domain.RunMode(*mode) {
	case domain.RunModeFull, domain.RunModeIncremental:
		run, err := svc.Run(ctx, domain.RunMode(*mode), domain.TriggerCLI)
		if err != nil {
			appLogger.WithError(err).Fatal("Sync run failed to start")
		}
		runs = append(runs, run)
	case domain.RunModeBulk:
		batches, err := loadBatches(ctx, cfg, *kind, files, objects, *format, *asOf, *archive)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load bulk files")
		}
		for _, batch := range batches {
			run, err := svc.RunBulk(ctx, batch, domain.TriggerCLI)
			if err != nil {
				appLogger.WithError(err).Fatal("Bulk run failed to start")
			}
			runs = append(runs, run)
			if ctx.Err() != nil {
				break
			}
		}
	default:
		appLogger.WithField("mode", *mode).Fatal("Unknown run mode")
	}

	exitCode := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, run := range runs {
		_ = enc.Encode(run)
		if run.Status == domain.RunStatusFailed {
			exitCode = 1
		}
	}
	closeDB(db)
	logger.Sync()
	os.Exit(exitCode)
}

func loadBatches(ctx context.Context, cfg *config.Config, kindName string, files, objects []string, format, asOf string, archive bool) ([]source.Batch, error) {
	kind, err := domain.ParseEntityKind(kindName)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 && len(objects) == 0 {
		return nil, fmt.Errorf("bulk mode needs at least one -file or -object")
	}

	opts := bulk.Options{}
	if format != "" {
		if opts.Format, err = bulk.ParseFormat(format); err != nil {
			return nil, err
		}
	}
	if asOf != "" {
		if opts.AsOf, err = domain.ParseTimestamp(asOf); err != nil {
			return nil, fmt.Errorf("-as-of: %w", err)
		}
	} else {
		opts.AsOf = time.Now().UTC()
	}

	var arc *storage.Archive
	if archive || len(objects) > 0 {
		store, err := storage.NewS3Store(ctx, &cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		arc = storage.NewArchive(store, cfg.Bulk.ArchivePrefix)
	}

	batches, err := bulk.ParseFiles(ctx, kind, files, opts)
	if err != nil {
		return nil, err
	}
	if archive {
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			key, err := arc.Put(ctx, string(kind), path.Base(f), data)
			if err != nil {
				return nil, fmt.Errorf("archive %s: %w", f, err)
			}
			logger.CtxInfo(ctx, "Archived bulk file: file=%s, key=%s", f, key)
		}
	}

	for _, key := range objects {
		rc, err := arc.Open(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", key, err)
		}
		batches = append(batches, bulk.ParseBatch(rc, path.Base(key), kind, opts))
		rc.Close()
	}
	return batches, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// offlineSource stands in for the provider when only bulk files are loaded.
type offlineSource struct{}

func (offlineSource) GetSourceID() string { return "offline" }

func (offlineSource) FetchPage(context.Context, domain.EntityKind, string, source.FetchOptions) (source.Page, error) {
	return source.Page{}, fmt.Errorf("provider is not configured")
}

func (offlineSource) Ping(context.Context) error {
	return fmt.Errorf("provider is not configured")
}
