package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"consilium"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// WorkerID defaults to hostname:pid so outbox locks identify the holder.
	WorkerID           string        `env:"WORKER_ID"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"10"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	OutboxLockTTL      time.Duration `env:"OUTBOX_LOCK_TTL" envDefault:"5m"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"3"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	StreamPollInterval time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"2s"`
	StreamHeartbeat    time.Duration `env:"STREAM_HEARTBEAT" envDefault:"15s"`
	StreamRetryMillis  int           `env:"STREAM_RETRY_MILLIS" envDefault:"5000"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.WorkerID) == "" {
		cfg.WorkerID = defaultWorkerID()
	}
	return cfg, nil
}

func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "consilium"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}
