package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `env:"SERVICE_NAME" envDefault:"aegis"`
	HTTPPort     string   `env:"HTTP_PORT" envDefault:"8080"`
	PostgresDSN  string   `env:"POSTGRES_DSN"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	OTelEndpoint string   `env:"OTEL_ENDPOINT"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"postgres"`

	Experiments ExperimentConfig
}

// ExperimentConfig holds engine-wide knobs. Per-experiment thresholds live on
// the experiment itself.
type ExperimentConfig struct {
	BucketSalting      string        `env:"EXPERIMENT_BUCKET_SALTING" envDefault:"experiment"`
	DecisionPolicy     string        `env:"EXPERIMENT_DECISION_POLICY" envDefault:"first_match"`
	ConfidenceLevel    float64       `env:"EXPERIMENT_CONFIDENCE_LEVEL" envDefault:"0.95"`
	SweepSchedule      string        `env:"EXPERIMENT_SWEEP_SCHEDULE" envDefault:"*/5 * * * *"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"168h"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, value := range cfg.KafkaBrokers {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	cfg.KafkaBrokers = brokers

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case StorageBackendPostgres, StorageBackendMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.Experiments.ConfidenceLevel <= 0 || cfg.Experiments.ConfidenceLevel >= 1 {
		return Config{}, fmt.Errorf("EXPERIMENT_CONFIDENCE_LEVEL must be in (0,1), got %v", cfg.Experiments.ConfidenceLevel)
	}
	if cfg.Experiments.OutboxPollInterval <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	return cfg, nil
}
