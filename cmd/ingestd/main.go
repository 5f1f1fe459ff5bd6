// Package main implements the retail batch-ingestion daemon. It wires the
// schema registry, drift detection, sinks and warehouse together, then hands
// control to the scheduler.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/retailpulse/ingest-core/internal/config"
	"github.com/retailpulse/ingest-core/internal/ingest"
	"github.com/retailpulse/ingest-core/internal/objectstore"
	"github.com/retailpulse/ingest-core/internal/scheduler"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/sink"
	"github.com/retailpulse/ingest-core/internal/source"
	"github.com/retailpulse/ingest-core/internal/warehouse"
)

// defaultTables maps logical tables to the CSV files expected in the raw
// directory each cycle.
var defaultTables = []ingest.TableSpec{
	{Name: "transactions", File: "transactions.csv"},
	{Name: "customers", File: "customers.csv"},
	{Name: "products", File: "products.csv"},
	{Name: "stores", File: "stores.csv"},
	{Name: "inventory", File: "inventory.csv"},
	{Name: "shipments", File: "shipments.csv"},
	{Name: "web_clickstream", File: "web_clickstream.csv"},
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildWarehouse(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("warehouse setup failed", zap.Error(err))
	}
	defer cleanup()

	objects, err := buildObjectStore(cfg, logger)
	if err != nil {
		logger.Fatal("object store setup failed", zap.Error(err))
	}
	if err := objects.Ping(ctx); err != nil {
		logger.Fatal("object store unreachable", zap.Error(err))
	}

	registry := schema.NewRegistry(schema.DefaultRetailSchemas()...)
	pipeline := ingest.New(
		ingest.Config{
			PipelineName:        cfg.PipelineName,
			MaxRetries:          cfg.MaxRetries,
			BaseBackoff:         cfg.BaseBackoff,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
		registry,
		source.NewCSVSource(cfg.RawDir),
		sink.NewParquetSink(objects, cfg.Bucket, cfg.ValidPrefix),
		sink.NewCSVQuarantineSink(objects, cfg.Bucket, cfg.QuarantinePrefix),
		store,
		logger,
	)

	tables := tableSpecs(cfg.RawDir)
	sched := scheduler.New(cfg.CronSpec, func(runCtx context.Context) {
		result := pipeline.RunAll(runCtx, tables)
		if result.Status != warehouse.RunStatusSuccess {
			logger.Warn("pipeline run degraded",
				zap.Int64("runId", result.RunID),
				zap.String("status", result.Status))
		}
		pruneHistory(runCtx, store, cfg, logger)
	}, logger)

	logger.Info("ingestion daemon starting",
		zap.String("pipeline", cfg.PipelineName),
		zap.String("rawDir", cfg.RawDir),
		zap.String("cron", cfg.CronSpec))
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler exited", zap.Error(err))
	}
	logger.Info("ingestion daemon stopped")
}

// buildWarehouse connects to Postgres when a URL is configured and falls back
// to the in-memory store otherwise, which keeps local development dependency
// free.
func buildWarehouse(ctx context.Context, cfg *config.Config, logger *zap.Logger) (warehouse.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database URL configured; using in-memory warehouse")
		return warehouse.NewMemoryStore(), func() {}, nil
	}
	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := warehouse.NewPostgresStore(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to warehouse")
	return pg, db.Close, nil
}

// buildObjectStore selects S3 when a MinIO endpoint is configured, otherwise
// a local disk mirror rooted at DataRoot.
func buildObjectStore(cfg *config.Config, logger *zap.Logger) (objectstore.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		logger.Warn("no object store endpoint configured; using local disk store",
			zap.String("root", cfg.DataRoot))
		return objectstore.NewLocalStore(cfg.DataRoot), nil
	}
	return objectstore.NewS3Client(objectstore.S3Config{
		EndpointURL:     cfg.MinioEndpoint,
		UseSSL:          cfg.MinioUseSSL,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
	})
}

// tableSpecs returns the table set for a run, honoring an optional
// INGEST_TABLES override of comma-separated table names.
func tableSpecs(rawDir string) []ingest.TableSpec {
	override := os.Getenv("INGEST_TABLES")
	if override == "" {
		return defaultTables
	}
	var specs []ingest.TableSpec
	for _, name := range strings.Split(override, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		specs = append(specs, ingest.TableSpec{Name: name, File: name + ".csv"})
	}
	return specs
}

func pruneHistory(ctx context.Context, store warehouse.Store, cfg *config.Config, logger *zap.Logger) {
	if cfg.RunRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RunRetentionDays)
	removed, err := store.RunTracker().PruneBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("run history prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("pruned run history", zap.Int64("removed", removed))
	}
}
