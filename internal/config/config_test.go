package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

provider:
  name: sendgrid
  timeout_seconds: 20
  sendgrid:
    api_key: "sg-file"

worker:
  tick_interval_seconds: 10
  max_attempts: 5

sending:
  rate_per_second: 25
  daily_limit: 1000
  require_verified_sender: false

eligibility:
  name_prefix: "[Auto] "
  cap: 2
  show_cooldown_days: 14

log:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sendgrid", cfg.Provider.Name)
	assert.Equal(t, "sg-file", cfg.Provider.SendGrid.APIKey)
	assert.Equal(t, 20*time.Second, cfg.Provider.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Worker.TickInterval())
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 25, cfg.Sending.RatePerSecond)
	assert.Equal(t, 1000, cfg.Sending.DailyLimit)
	assert.False(t, cfg.Sending.RequireVerifiedSender)
	assert.Equal(t, "[Auto] ", cfg.Eligibility.NamePrefix)
	assert.Equal(t, 2, cfg.Eligibility.Cap)
	assert.Equal(t, 14, cfg.Eligibility.ShowCooldownDays)
	assert.False(t, cfg.Log.Redact())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "ses", cfg.Provider.Name)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Worker.TickInterval())
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Worker.LeaseTTL())
	assert.Equal(t, 10, cfg.Sending.RatePerSecond)
	assert.Equal(t, 50000, cfg.Sending.DailyLimit)
	assert.True(t, cfg.Sending.RequireVerifiedSender)
	assert.Equal(t, "[AI] ", cfg.Eligibility.NamePrefix)
	assert.Equal(t, 3, cfg.Eligibility.Cap)
	assert.Equal(t, 30*24*time.Hour, cfg.Eligibility.CapWindow())
	assert.Equal(t, 30, cfg.Eligibility.ShowCooldownDays)
	assert.Equal(t, 90*24*time.Hour, cfg.Tracking.TokenTTL())
	assert.True(t, cfg.Log.Redact())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://file"
provider:
  sendgrid:
    api_key: "file-key"
`)

	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SENDGRID_API_KEY", "env-key")
	t.Setenv("UNSUBSCRIBE_SECRET", "s3cret")
	t.Setenv("WEBHOOK_TOKEN", "hook")
	t.Setenv("WORKER_TICK_SECONDS", "5")
	t.Setenv("SEND_RATE_PER_SECOND", "not-a-number")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "env-key", cfg.Provider.SendGrid.APIKey)
	assert.Equal(t, "s3cret", cfg.Tracking.UnsubscribeSecret)
	assert.Equal(t, "hook", cfg.Tracking.WebhookToken)
	assert.Equal(t, 5*time.Second, cfg.Worker.TickInterval())
	assert.Equal(t, 10, cfg.Sending.RatePerSecond, "invalid override keeps the default")
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestGetHost(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "127.0.0.1", ServerConfig{Host: "127.0.0.1"}.GetHost())

	t.Setenv("AWS_EXECUTION_ENV", "AWS_ECS_FARGATE")
	assert.Equal(t, "0.0.0.0", ServerConfig{Host: "127.0.0.1"}.GetHost())
}
