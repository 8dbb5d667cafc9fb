package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/caarlos0/env/v11"
)

const DefaultDatabaseURL = "postgres://localhost:5432/jointscope"

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	PoseWorkerCmd      string        `env:"POSE_WORKER_CMD"      envDefault:"python3 -u python/pose_worker.py"`
	WorkerInitTimeout  time.Duration `env:"WORKER_INIT_TIMEOUT"  envDefault:"2m"`
	SampleInterval     time.Duration `env:"SAMPLE_INTERVAL"      envDefault:"500ms"`
	DetectTimeout      time.Duration `env:"DETECT_TIMEOUT"       envDefault:"5s"`
	TimeUpdateInterval time.Duration `env:"TIMEUPDATE_INTERVAL"  envDefault:"250ms"`

	MetricsPort int    `env:"METRICS_PORT" envDefault:"0"`
	OutputDir   string `env:"OUTPUT_DIR"   envDefault:"output"`

	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresURL resolves the connection string: DATABASE_URL first, then the POSTGRES_*
// variables, then a local default.
func (c *Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.PostgresHost != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
	}
	return DefaultDatabaseURL
}

// WorkerCommand splits PoseWorkerCmd into argv.
func (c *Config) WorkerCommand() ([]string, error) {
	return utils.SplitCommandLine(c.PoseWorkerCmd)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("sample interval must be positive, got %v", c.SampleInterval))
	}
	if c.DetectTimeout < 0 {
		errs = append(errs, fmt.Errorf("detect timeout must not be negative, got %v", c.DetectTimeout))
	}
	if c.TimeUpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("timeupdate interval must be positive, got %v", c.TimeUpdateInterval))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid metrics port %d", c.MetricsPort))
	}
	if _, err := c.WorkerCommand(); err != nil {
		errs = append(errs, fmt.Errorf("POSE_WORKER_CMD: %w", err))
	}
	return errors.Join(errs...)
}
