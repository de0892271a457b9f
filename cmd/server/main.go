// @title           Crime Analytical System API
// @version         1.0
// @description     REST API статистики происшествий по городам. Агрегации и выгрузки выполняются асинхронными заданиями.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.email  akozadaev@inbox.ru
// @contact.url    https://github.com/akozadaev/go_crime_analytical_system

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @schemes   http https
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/akozadaev/go_crime_analytical_system/docs" // swagger docs
	"github.com/akozadaev/go_crime_analytical_system/internal/app"
	"github.com/akozadaev/go_crime_analytical_system/internal/config"
	"github.com/akozadaev/go_crime_analytical_system/internal/handlers"
	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/kafkabus"
	"github.com/akozadaev/go_crime_analytical_system/internal/logging"
	"github.com/akozadaev/go_crime_analytical_system/internal/metrics"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/akozadaev/go_crime_analytical_system/internal/storage"
	gorillahandlers "github.com/gorilla/handlers"
	httpSwagger "github.com/swaggo/http-swagger"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Справочник городов и таблицы происшествий лежат в PostgreSQL
	pgStorage, err := storage.NewPostgresStorage(cfg.DSN())
	if err != nil {
		log.Fatalf("Error creating PostgreSQL client: %v", err)
	}
	defer pgStorage.Close()
	logger.Info("connected to PostgreSQL")

	store, err := app.JobStore(ctx, cfg, pgStorage)
	if err != nil {
		log.Fatalf("Error creating job store: %v", err)
	}

	m := metrics.New()
	opts := app.BrokerOptions(cfg, m)

	var (
		broker     *jobs.Broker
		localQueue *jobs.LocalQueue
	)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	switch cfg.QueueBackend {
	case config.BackendKafka:
		// Результаты пишут отдельные воркеры, поэтому хранилище заданий должно быть общим
		if cfg.JobStore != config.BackendPostgres {
			log.Fatalf("QUEUE_BACKEND=kafka requires JOB_STORE=postgres")
		}
		bus := kafkabus.New(kafkabus.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaJobTopic,
			GroupID: cfg.KafkaGroupID,
		}, logger)
		queue := kafkabus.NewQueue(bus.Writer())
		defer queue.Close()
		broker = jobs.NewBroker(store, queue, nil, logger, opts)
		logger.Info("jobs are published to kafka", slog.String("topic", cfg.KafkaJobTopic))

	case config.BackendLocal:
		source, err := app.DataSource(ctx, cfg, pgStorage, logger)
		if err != nil {
			log.Fatalf("Error creating data source: %v", err)
		}
		localQueue = jobs.NewLocalQueue(cfg.QueueSize, cfg.Workers, logger)
		broker = jobs.NewBroker(store, localQueue, pipeline.NewExecutor(source, logger), logger, opts)
		localQueue.Start(workerCtx, broker.Run)
		logger.Info("local worker pool started",
			slog.Int("workers", cfg.Workers), slog.String("data_backend", cfg.DataBackend))

	default:
		log.Fatalf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	broker.StartSweeper(ctx, cfg.SweepInterval)

	h := handlers.NewHandlers(broker, pgStorage, logger)
	router := h.Router(m.WrapHandler)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("http://localhost:"+cfg.AppPort+"/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type"}),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      gorillahandlers.LoggingHandler(os.Stdout, cors(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}

	if localQueue != nil {
		stopWorkers()
		localQueue.Wait()
	}
	logger.Info("server exited")
}
