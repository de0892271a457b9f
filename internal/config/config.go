// Package config предоставляет загрузку конфигурации приложения из переменных окружения.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Допустимые значения переключателей бэкендов.
const (
	BackendPostgres      = "postgres"
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
	BackendLocal         = "local"
	BackendKafka         = "kafka"
)

// Config содержит все параметры конфигурации приложения.
// Значения загружаются из переменных окружения с fallback на значения по умолчанию.
type Config struct {
	ElasticsearchURL string // URL для подключения к Elasticsearch/OpenSearch
	IncidentIndex    string // Имя индекса происшествий
	PostgresHost     string // Хост PostgreSQL
	PostgresPort     string // Порт PostgreSQL
	PostgresUser     string // Пользователь PostgreSQL
	PostgresPassword string // Пароль PostgreSQL
	PostgresDB       string // Имя базы данных PostgreSQL
	PostgresSSLMode  string
	AppPort          string // Порт для HTTP сервера
	LogLevel         string

	DataBackend  string // postgres | elasticsearch
	JobStore     string // memory | postgres
	QueueBackend string // local | kafka

	KafkaBrokers  []string
	KafkaJobTopic string
	KafkaGroupID  string

	Workers       int
	QueueSize     int
	JobRetention  time.Duration
	SweepInterval time.Duration
	JobTimeout    time.Duration // 0 отключает ограничение
	IndexBatch    int
}

// Load загружает .env (если есть) и конфигурацию из переменных окружения.
// Если переменная не установлена, используется значение по умолчанию.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using environment")
	}

	return &Config{
		ElasticsearchURL: getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
		IncidentIndex:    getEnv("ES_INCIDENT_INDEX", "incidents"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "crime_user"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "crime_pass"),
		PostgresDB:       getEnv("POSTGRES_DB", "crime_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		AppPort:          getEnv("APP_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),

		DataBackend:  strings.ToLower(getEnv("DATA_BACKEND", BackendPostgres)),
		JobStore:     strings.ToLower(getEnv("JOB_STORE", BackendMemory)),
		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", BackendLocal)),

		KafkaBrokers:  getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaJobTopic: getEnv("KAFKA_JOB_TOPIC", "crime.jobs"),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "crime-workers"),

		Workers:       getEnvInt("WORKERS", 4),
		QueueSize:     getEnvInt("QUEUE_SIZE", 128),
		JobRetention:  getEnvDuration("JOB_RETENTION", time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		JobTimeout:    getEnvDuration("JOB_TIMEOUT", 15*time.Minute),
		IndexBatch:    getEnvInt("INDEX_BATCH", 1000),
	}
}

// DSN возвращает строку подключения lib/pq.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
