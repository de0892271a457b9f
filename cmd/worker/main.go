// Воркер читает задания из Kafka, выполняет их и записывает результат
// в общее хранилище заданий PostgreSQL.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/akozadaev/go_crime_analytical_system/internal/app"
	"github.com/akozadaev/go_crime_analytical_system/internal/config"
	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/kafkabus"
	"github.com/akozadaev/go_crime_analytical_system/internal/logging"
	"github.com/akozadaev/go_crime_analytical_system/internal/metrics"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/akozadaev/go_crime_analytical_system/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.JobStore != config.BackendPostgres {
		log.Fatalf("worker requires JOB_STORE=postgres, got %q", cfg.JobStore)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgStorage, err := storage.NewPostgresStorage(cfg.DSN())
	if err != nil {
		log.Fatalf("Error creating PostgreSQL client: %v", err)
	}
	defer pgStorage.Close()

	store, err := app.JobStore(ctx, cfg, pgStorage)
	if err != nil {
		log.Fatalf("Error creating job store: %v", err)
	}
	source, err := app.DataSource(ctx, cfg, pgStorage, logger)
	if err != nil {
		log.Fatalf("Error creating data source: %v", err)
	}

	m := metrics.New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := http.ListenAndServe(":"+cfg.AppPort, mux); err != nil {
			logger.Error("metrics endpoint stopped", slog.Any("err", err))
		}
	}()

	// Воркер не принимает задания, очередь ему не нужна
	broker := jobs.NewBroker(store, nil, pipeline.NewExecutor(source, logger), logger, app.BrokerOptions(cfg, m))

	bus := kafkabus.New(kafkabus.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaJobTopic,
		GroupID: cfg.KafkaGroupID,
	}, logger)

	logger.Info("worker started",
		slog.String("topic", cfg.KafkaJobTopic),
		slog.String("group", cfg.KafkaGroupID),
		slog.String("data_backend", cfg.DataBackend))
	kafkabus.NewConsumer(bus.Reader(), broker.Run, logger).Run(ctx)
	logger.Info("worker exited")
}
