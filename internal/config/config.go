package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	APILimit  APILimitConfig  `mapstructure:"api_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Supabase  SupabaseConfig  `mapstructure:"supabase"`
	Queue     QueueConfig     `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Push      PushConfig      `mapstructure:"push"`
	Events    EventsConfig    `mapstructure:"events"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// APILimitConfig holds HTTP-level request throttling settings. This guards
// the API surface; delivery-side ceilings live under rate_limit.
type APILimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings. Empty URL selects the
// in-memory store.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// RateLimitConfig holds delivery rate ceilings. Zero disables a window.
type RateLimitConfig struct {
	PerUserPerMinute int `mapstructure:"per_user_per_minute"`
	PerUserPerHour   int `mapstructure:"per_user_per_hour"`
	PerUserPerDay    int `mapstructure:"per_user_per_day"`
	GlobalPerSecond  int `mapstructure:"global_per_second"`
	GlobalPerMinute  int `mapstructure:"global_per_minute"`
	// Distributed selects the Redis-backed limiter shared across workers;
	// otherwise counters are process-local.
	Distributed bool `mapstructure:"distributed"`
}

// RetryConfig holds delivery retry settings (durations as seconds for
// YAML/env compat).
type RetryConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts"`
	InitialDelaySec float64 `mapstructure:"initial_delay_sec"`
	MaxDelaySec     float64 `mapstructure:"max_delay_sec"`
	Multiplier      float64 `mapstructure:"multiplier"`
	Jitter          float64 `mapstructure:"jitter"`
	AdapterTimeout  int     `mapstructure:"adapter_timeout_sec"`
}

// BatchConfig holds batching engine settings.
type BatchConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	IntervalSec  int      `mapstructure:"interval_sec"`
	MaxBatchSize int      `mapstructure:"max_batch_size"`
	Categories   []string `mapstructure:"categories"`
}

// EmailConfig holds email provider settings.
type EmailConfig struct {
	Provider    string `mapstructure:"provider"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// SMSConfig holds SMS provider settings.
type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

// PushConfig holds push provider settings.
type PushConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// EventsConfig holds Kafka event ingestion settings. Empty brokers disables
// the consumer.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// ReaperConfig holds stale task reaper settings (durations as seconds for
// YAML/env compat).
type ReaperConfig struct {
	IntervalSec       int `mapstructure:"interval_sec"`
	StaleThresholdSec int `mapstructure:"stale_threshold_sec"`
	BatchSize         int `mapstructure:"batch_size"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the DISPATCHLY_ prefix and underscore
// separators. Example: DISPATCHLY_SERVER_PORT overrides server.port.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	v.SetEnvPrefix("DISPATCHLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("api_limit.requests_per_second", 10)
	v.SetDefault("api_limit.burst", 20)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("rate_limit.per_user_per_minute", 10)
	v.SetDefault("rate_limit.per_user_per_hour", 100)
	v.SetDefault("rate_limit.per_user_per_day", 500)
	v.SetDefault("rate_limit.global_per_second", 100)
	v.SetDefault("rate_limit.global_per_minute", 3000)
	v.SetDefault("rate_limit.distributed", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_sec", 1)
	v.SetDefault("retry.max_delay_sec", 30)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("retry.adapter_timeout_sec", 10)
	v.SetDefault("batch.enabled", true)
	v.SetDefault("batch.interval_sec", 300)
	v.SetDefault("batch.max_batch_size", 10)
	v.SetDefault("batch.categories", []string{"social", "spiritual"})
	v.SetDefault("email.provider", "resend")
	v.SetDefault("events.topic", "platform-events")
	v.SetDefault("events.group_id", "dispatchly")
	v.SetDefault("reaper.interval_sec", 300)
	v.SetDefault("reaper.stale_threshold_sec", 600)
	v.SetDefault("reaper.batch_size", 50)

	// Read config file (optional; env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Handle comma-separated API keys from env var
	if apiKeysStr := v.GetString("auth.api_keys"); apiKeysStr != "" && len(cfg.Auth.APIKeys) == 0 {
		keys := strings.Split(apiKeysStr, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		cfg.Auth.APIKeys = keys
	}

	return &cfg, nil
}

// InitialDelay returns the initial retry delay as a duration.
func (c RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySec * float64(time.Second))
}

// MaxDelay returns the retry delay ceiling as a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySec * float64(time.Second))
}
