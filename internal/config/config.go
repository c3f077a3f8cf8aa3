package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Provider    ProviderConfig    `yaml:"provider"`
	Worker      WorkerConfig      `yaml:"worker"`
	Sending     SendingConfig     `yaml:"sending"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig is optional. Without a URL the worker falls back to
// in-process rate limiting and leases.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig selects and configures the delivery provider.
type ProviderConfig struct {
	Name           string    `yaml:"name"` // "ses" or "sendgrid"
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	SES            SESConfig `yaml:"ses"`
	SendGrid       struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"sendgrid"`
}

// Timeout returns the per-dispatch provider timeout
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

type WorkerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	MaxAttempts         int `yaml:"max_attempts"`
	LeaseTTLMinutes     int `yaml:"lease_ttl_minutes"`
}

// TickInterval returns the configured tick interval as a duration
func (c WorkerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LeaseTTL returns how long a per-campaign lease is held before expiring.
func (c WorkerConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMinutes) * time.Minute
}

type SendingConfig struct {
	RatePerSecond         int  `yaml:"rate_per_second"`
	DailyLimit            int  `yaml:"daily_limit"`
	RequireVerifiedSender bool `yaml:"require_verified_sender"`
}

// EligibilityConfig governs intelligent (system-generated) sends.
type EligibilityConfig struct {
	NamePrefix       string `yaml:"name_prefix"`
	Cap              int    `yaml:"cap"`
	CapWindowDays    int    `yaml:"cap_window_days"`
	ShowCooldownDays int    `yaml:"show_cooldown_days"`
}

// CapWindow returns the trailing window the cap is counted over.
func (c EligibilityConfig) CapWindow() time.Duration {
	return time.Duration(c.CapWindowDays) * 24 * time.Hour
}

type TrackingConfig struct {
	PublicBaseURL     string `yaml:"public_base_url"`
	UnsubscribeSecret string `yaml:"unsubscribe_secret"`
	TokenTTLDays      int    `yaml:"token_ttl_days"`
	WebhookToken      string `yaml:"webhook_token"`
}

// TokenTTL returns how long unsubscribe links stay valid.
func (c TrackingConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

// ArchiveConfig enables raw webhook archiving to S3 when Bucket is set.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email-like values are masked; on unless disabled.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// Unset keys default to true for the verification gate.
	var raw struct {
		Sending struct {
			RequireVerifiedSender *bool `yaml:"require_verified_sender"`
		} `yaml:"sending"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Sending.RequireVerifiedSender == nil {
		cfg.Sending.RequireVerifiedSender = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "ses"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 15
	}
	if cfg.Provider.SES.Region == "" {
		cfg.Provider.SES.Region = "us-west-2"
	}
	if cfg.Worker.TickIntervalSeconds == 0 {
		cfg.Worker.TickIntervalSeconds = 30
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 200
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 3
	}
	if cfg.Worker.LeaseTTLMinutes == 0 {
		cfg.Worker.LeaseTTLMinutes = 15
	}
	if cfg.Sending.RatePerSecond == 0 {
		cfg.Sending.RatePerSecond = 10
	}
	if cfg.Sending.DailyLimit == 0 {
		cfg.Sending.DailyLimit = 50000
	}
	if cfg.Eligibility.NamePrefix == "" {
		cfg.Eligibility.NamePrefix = "[AI] "
	}
	if cfg.Eligibility.Cap == 0 {
		cfg.Eligibility.Cap = 3
	}
	if cfg.Eligibility.CapWindowDays == 0 {
		cfg.Eligibility.CapWindowDays = 30
	}
	if cfg.Eligibility.ShowCooldownDays == 0 {
		cfg.Eligibility.ShowCooldownDays = 30
	}
	if cfg.Tracking.TokenTTLDays == 0 {
		cfg.Tracking.TokenTTLDays = 90
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "webhooks/"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		cfg.Tracking.WebhookToken = v
	}
	if v := os.Getenv("UNSUBSCRIBE_SECRET"); v != "" {
		cfg.Tracking.UnsubscribeSecret = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Tracking.PublicBaseURL = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.Provider.SendGrid.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Provider.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Provider.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Provider.SES.Region = v
	}
	if v := os.Getenv("WEBHOOK_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if n, ok := envInt("WORKER_TICK_SECONDS"); ok {
		cfg.Worker.TickIntervalSeconds = n
	}
	if n, ok := envInt("SEND_RATE_PER_SECOND"); ok {
		cfg.Sending.RatePerSecond = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
