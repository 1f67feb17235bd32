package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	SES      SESConfig      `yaml:"ses"`
	Tracking TrackingConfig `yaml:"tracking"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds HTTP server configuration for the admin surface.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container-environment detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// PostgresConfig holds the work-record store / campaign registry / event
// log / suppression store connection.
type PostgresConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// RedisConfig holds the job queue / rate limiter / distributed lock backend.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SESConfig holds the upstream provider (AWS SES v2) credentials.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured send timeout.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrackingConfig holds the base URL and HMAC secret used to build
// open/click/unsubscribe links injected by the materializer.
type TrackingConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// DispatchConfig holds the bulk-send pipeline's own tunables: rate limit
// profile, lock durations, and circuit breaker thresholds.
type DispatchConfig struct {
	ProviderPlan          string  `yaml:"provider_plan"` // selects a RateLimit profile
	RequestsPerSecond     int     `yaml:"requests_per_second"`
	Concurrency           int     `yaml:"concurrency"`
	LockTTLSeconds        int     `yaml:"lock_ttl_seconds"`
	RecoverySweepSeconds  int     `yaml:"recovery_sweep_seconds"`
	CircuitFailThreshold  uint32  `yaml:"circuit_fail_threshold"`
	CircuitCooldownSecs   int     `yaml:"circuit_cooldown_secs"`
	CircuitSuccThreshold  uint32  `yaml:"circuit_success_threshold"`
	BackpressureMaxDepth  int64   `yaml:"backpressure_max_depth"`
}

// LockTTL returns the work-record claim lock TTL as a duration.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RecoverySweepInterval returns the completion-monitor / recovery sweep cadence.
func (c DispatchConfig) RecoverySweepInterval() time.Duration {
	return time.Duration(c.RecoverySweepSeconds) * time.Second
}

// CircuitCooldown returns the open-state cooldown before half-open probing.
func (c DispatchConfig) CircuitCooldown() time.Duration {
	return time.Duration(c.CircuitCooldownSecs) * time.Second
}

// Load reads and parses the YAML configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifeMins == 0 {
		cfg.Postgres.ConnMaxLifeMins = 30
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Dispatch.ProviderPlan == "" {
		cfg.Dispatch.ProviderPlan = "production"
	}
	if cfg.Dispatch.RequestsPerSecond == 0 {
		cfg.Dispatch.RequestsPerSecond = 8
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 2
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 300
	}
	if cfg.Dispatch.RecoverySweepSeconds == 0 {
		cfg.Dispatch.RecoverySweepSeconds = 60
	}
	if cfg.Dispatch.CircuitFailThreshold == 0 {
		cfg.Dispatch.CircuitFailThreshold = 5
	}
	if cfg.Dispatch.CircuitCooldownSecs == 0 {
		cfg.Dispatch.CircuitCooldownSecs = 60
	}
	if cfg.Dispatch.CircuitSuccThreshold == 0 {
		cfg.Dispatch.CircuitSuccThreshold = 2
	}
	if cfg.Dispatch.BackpressureMaxDepth == 0 {
		cfg.Dispatch.BackpressureMaxDepth = 100000
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. It
// automatically loads a .env file (if present) before reading env vars, so
// secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("PROVIDER_PLAN"); v != "" {
		cfg.Dispatch.ProviderPlan = v
	}

	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("config: postgres URL is required (set DATABASE_URL or postgres.url)")
	}

	return cfg, nil
}
