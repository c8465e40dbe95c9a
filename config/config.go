// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/KamdynS/sfnresume/delay"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SFNRESUME_"

// Config is the runtime configuration shared by the CLI commands.
type Config struct {
	// Region overrides the AWS config chain (AWS_REGION, profiles); the
	// Step Functions client falls back to us-west-2 when neither names one.
	Region   string `env:"REGION"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// AWSEndpoint overrides the Step Functions and SQS endpoints (LocalStack).
	AWSEndpoint string `env:"AWS_ENDPOINT"`

	// MetricsAddr serves /metrics from the worker when set.
	MetricsAddr string `env:"METRICS_ADDR"`

	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// QueueURL selects SQS; when empty the queue lives in Redis if RedisAddr
	// is set and in memory otherwise.
	QueueURL  string `env:"QUEUE_URL"`
	QueueName string `env:"QUEUE_NAME" envDefault:"resume"`
	QueueFIFO bool   `env:"QUEUE_FIFO"`

	// RedisAddr selects the Redis store; when empty records live in memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sfnresume"`

	DelayMin int `env:"DELAY_MIN" envDefault:"300"`
	DelayMax int `env:"DELAY_MAX" envDefault:"900"`

	// TaskFailures maps TaskFailed/TaskStateFailed to TaskStateEntered.
	TaskFailures bool `env:"TASK_FAILURES"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	if c.DelayMin < 0 || c.DelayMin > c.DelayMax {
		return fmt.Errorf("config: delay bounds [%d, %d] are invalid", c.DelayMin, c.DelayMax)
	}
	if c.DelayMax > delay.MaxSQSDelay {
		return fmt.Errorf("config: delay max %d exceeds %d", c.DelayMax, delay.MaxSQSDelay)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("config: worker concurrency must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max attempts must be positive")
	}
	return nil
}
