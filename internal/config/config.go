package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendInline = "inline"
	BackendNull   = "null"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	MigrationsDir  string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	Queues    QueueConfig
	Scheduler SchedulerConfig
}

// QueueConfig selects the backend of every pipeline stage. The indexing stage may also
// run inline or be switched off.
type QueueConfig struct {
	Backend         string `env:"QUEUE_BACKEND" envDefault:"redis"`
	IndexingBackend string `env:"INDEXING_BACKEND" envDefault:"redis"`
}

type SchedulerConfig struct {
	PollInterval          time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BackpressureThreshold int64         `env:"BACKPRESSURE_THRESHOLD" envDefault:"50000"`
	DefaultBatchSize      int           `env:"DEFAULT_BATCH_SIZE" envDefault:"100"`
	DefaultConcurrency    int           `env:"DEFAULT_CONCURRENCY" envDefault:"4"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse environment")
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	// memory queues live in one process; api and scheduler are two.
	switch c.Queues.Backend {
	case BackendRedis, BackendNull:
	default:
		return errors.Errorf("QUEUE_BACKEND %q: want redis or null", c.Queues.Backend)
	}
	switch c.Queues.IndexingBackend {
	case BackendRedis, BackendInline, BackendNull:
	default:
		return errors.Errorf("INDEXING_BACKEND %q: want redis, inline or null", c.Queues.IndexingBackend)
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	return nil
}
