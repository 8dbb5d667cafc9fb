package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset clears keys for the duration of the test.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t, "LOG_LEVEL", "SAMPLE_INTERVAL", "DETECT_TIMEOUT", "DATABASE_URL", "POSTGRES_HOST", "POSE_WORKER_CMD", "TIMEUPDATE_INTERVAL", "METRICS_PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 5*time.Second, cfg.DetectTimeout)
	assert.Equal(t, DefaultDatabaseURL, cfg.PostgresURL())
	assert.NoError(t, cfg.Validate())

	argv, err := cfg.WorkerCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "-u", "python/pose_worker.py"}, argv)
}

func TestLoadFromEnv(t *testing.T) {
	unset(t, "POSE_WORKER_CMD", "TIMEUPDATE_INTERVAL", "METRICS_PORT")
	t.Setenv("SAMPLE_INTERVAL", "200ms")
	t.Setenv("DETECT_TIMEOUT", "0s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, time.Duration(0), cfg.DetectTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestPostgresURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"Default", Config{}, DefaultDatabaseURL},
		{"Explicit URL wins", Config{DatabaseURL: "postgres://x/y", PostgresHost: "db"}, "postgres://x/y"},
		{"From parts", Config{PostgresHost: "db", PostgresUser: "u", PostgresPassword: "p", PostgresDB: "js", PostgresPort: "5433"}, "postgres://u:p@db:5433/js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.PostgresURL(); got != tt.want {
				t.Errorf("PostgresURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LogLevel:           "info",
			PoseWorkerCmd:      "python3 worker.py",
			SampleInterval:     time.Second,
			TimeUpdateInterval: time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Unknown level", func(c *Config) { c.LogLevel = "loud" }},
		{"Zero interval", func(c *Config) { c.SampleInterval = 0 }},
		{"Negative timeout", func(c *Config) { c.DetectTimeout = -time.Second }},
		{"Zero timeupdate", func(c *Config) { c.TimeUpdateInterval = 0 }},
		{"Bad port", func(c *Config) { c.MetricsPort = 70000 }},
		{"Empty worker command", func(c *Config) { c.PoseWorkerCmd = "  " }},
	}
	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
