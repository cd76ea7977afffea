// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string        `env:"APP_NAME" env-default:"fern" validate:"required"`
	Version            string        `env:"APP_VERSION" env-default:"dev"`
	Port               int           `env:"PORT" env-default:"3004" validate:"min=1,max=65535"`
	LogLevel           string        `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs         bool          `env:"PRETTY_LOGS" env-default:"false"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	StartupMaxAttempts int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`

	// Content source
	RemoteBaseURL     string        `env:"REMOTE_BASE_URL" env-default:"https://cdn.contentful.com" validate:"required,url"`
	RemoteSpaceID     string        `env:"REMOTE_SPACE_ID" validate:"required"`
	RemoteEnvironment string        `env:"REMOTE_ENVIRONMENT" env-default:"master"`
	RemoteAccessToken string        `env:"REMOTE_ACCESS_TOKEN" validate:"required"`
	RemoteTimeout     time.Duration `env:"REMOTE_TIMEOUT" env-default:"30s"`
	RemoteMaxPages    int           `env:"REMOTE_MAX_PAGES" env-default:"0" validate:"min=0"`
	RemoteMaxRetries  int           `env:"REMOTE_MAX_RETRIES" env-default:"3" validate:"min=0"`
	// Requests per second shared by every instance through redis. Zero disables pacing.
	RemoteRateLimit int `env:"REMOTE_RATE_LIMIT" env-default:"50" validate:"min=0"`

	// Sync
	Localization     string        `env:"SYNC_LOCALIZATION" env-default:"default"`
	StrictMapping    bool          `env:"SYNC_STRICT_MAPPING" env-default:"false"`
	PerQueryLookup   bool          `env:"SYNC_PER_QUERY_LOOKUP" env-default:"false"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL" env-default:"5m"`
	SyncJitter       float64       `env:"SYNC_JITTER" env-default:"0.1" validate:"min=0,lt=1"`
	SyncLockTTL      time.Duration `env:"SYNC_LOCK_TTL" env-default:"10m"`
	SchedulerEnabled bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SnapshotPath     string        `env:"RELATIONSHIP_SNAPSHOT_PATH" env-default:"data/relationships.bson"`
	SchemaFile       string        `env:"SCHEMA_FILE" env-default:"schema.yaml"`

	// PostgreSQL
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost" validate:"required"`
	DatabasePort                  int           `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      uint          `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka change events
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"fern.changes"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy" validate:"oneof=snappy gzip lz4 zstd none"`

	// Graph projection
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Tracing
	TracingExporter string `env:"TRACING_EXPORTER" env-default:"none" validate:"oneof=none grpc http"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPInsecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
