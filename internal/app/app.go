// Package app собирает хранилища и исполнителя заданий по конфигурации.
// Используется всеми процессами из cmd.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/akozadaev/go_crime_analytical_system/internal/config"
	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/akozadaev/go_crime_analytical_system/internal/storage"
	"github.com/elastic/go-elasticsearch/v8"
)

// MappingFile задает путь к маппингу индекса происшествий относительно корня репозитория.
const MappingFile = "migrations/elasticsearch_mapping.json"

// NewElasticsearch создает хранилище индекса происшествий.
func NewElasticsearch(cfg *config.Config) (*storage.ElasticsearchStorage, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:         []string{cfg.ElasticsearchURL},
		DisableMetaHeader: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return storage.NewElasticsearchStorageWithURL(client, cfg.IncidentIndex, cfg.ElasticsearchURL), nil
}

// EnsureIndex создает индекс с маппингом из MappingFile, если его еще нет.
func EnsureIndex(ctx context.Context, es *storage.ElasticsearchStorage) error {
	mapping, err := ReadMapping()
	if err != nil {
		return err
	}
	return es.CreateIndex(ctx, string(mapping))
}

// ReadMapping ищет файл маппинга рядом с рабочим каталогом и бинарником.
func ReadMapping() ([]byte, error) {
	paths := []string{
		MappingFile,
		filepath.Join("..", MappingFile),
		filepath.Join(filepath.Dir(os.Args[0]), "..", MappingFile),
	}
	for _, path := range paths {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("mapping file %s not found", MappingFile)
}

// DataSource выбирает хранилище данных для исполнителя по DATA_BACKEND.
func DataSource(ctx context.Context, cfg *config.Config, pg *storage.PostgresStorage, log *slog.Logger) (pipeline.Source, error) {
	switch cfg.DataBackend {
	case config.BackendPostgres:
		return pg, nil
	case config.BackendElasticsearch:
		es, err := NewElasticsearch(cfg)
		if err != nil {
			return nil, err
		}
		if err := EnsureIndex(ctx, es); err != nil {
			log.Warn("could not verify incident index", slog.Any("err", err))
		}
		return es, nil
	default:
		return nil, fmt.Errorf("unknown DATA_BACKEND %q", cfg.DataBackend)
	}
}

// JobStore выбирает хранилище заданий по JOB_STORE.
func JobStore(ctx context.Context, cfg *config.Config, pg *storage.PostgresStorage) (jobs.Store, error) {
	switch cfg.JobStore {
	case config.BackendMemory:
		return jobs.NewMemoryStore(), nil
	case config.BackendPostgres:
		return storage.NewPostgresJobStore(ctx, pg.DB())
	default:
		return nil, fmt.Errorf("unknown JOB_STORE %q", cfg.JobStore)
	}
}

// BrokerOptions переносит параметры заданий из конфигурации.
func BrokerOptions(cfg *config.Config, observer jobs.Observer) jobs.Options {
	return jobs.Options{
		Retention: cfg.JobRetention,
		Timeout:   cfg.JobTimeout,
		Observer:  observer,
	}
}
