package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akozadaev/go_crime_analytical_system/internal/app"
	"github.com/akozadaev/go_crime_analytical_system/internal/config"
	"github.com/akozadaev/go_crime_analytical_system/internal/logging"
	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/storage"
)

// Индексатор копирует происшествия из PostgreSQL в индекс Elasticsearch.
func main() {
	cfg := config.Load()
	batch := flag.Int("batch", cfg.IndexBatch, "rows per bulk request")
	flag.Parse()

	logger := logging.New(cfg.LogLevel).With(slog.String("component", "indexer"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgStorage, err := storage.NewPostgresStorage(cfg.DSN())
	if err != nil {
		log.Fatalf("Error creating PostgreSQL client: %v", err)
	}
	defer pgStorage.Close()

	esStorage, err := app.NewElasticsearch(cfg)
	if err != nil {
		log.Fatalf("Error creating Elasticsearch client: %v", err)
	}
	if err := app.EnsureIndex(ctx, esStorage); err != nil {
		log.Fatalf("Error creating index %s: %v", cfg.IncidentIndex, err)
	}

	start := time.Now()
	logger.Info("indexing incidents", slog.String("index", cfg.IncidentIndex), slog.Int("batch", *batch))

	total, err := pgStorage.StreamIncidentDocs(ctx, *batch, func(docs []models.IncidentDoc) error {
		if err := esStorage.BulkIndexIncidents(ctx, docs); err != nil {
			return err
		}
		logger.Debug("batch indexed", slog.Int("size", len(docs)), slog.Int64("last_id", docs[len(docs)-1].IncidentID))
		return nil
	})
	if err != nil {
		log.Fatalf("Error indexing incidents after %d documents: %v", total, err)
	}

	logger.Info("indexing completed", slog.Int("documents", total), slog.Duration("elapsed", time.Since(start)))
}
