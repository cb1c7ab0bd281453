// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Inference InferenceConfig `mapstructure:"inference"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"` // "postgres" or "memory"
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// FetchConfig governs the lightweight probe fetch tier.
type FetchConfig struct {
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MinContentChars int     `mapstructure:"min_content_chars"`
	UserAgent       string  `mapstructure:"user_agent"`
	PerDomainRPS    float64 `mapstructure:"per_domain_rps"`
	PerDomainBurst  int     `mapstructure:"per_domain_burst"`
}

// HeadlessConfig configures the browser rendering tier.
type HeadlessConfig struct {
	NavTimeoutSec     int      `mapstructure:"nav_timeout_seconds"`
	SettleMinMs       int      `mapstructure:"settle_min_ms"`
	SettleMaxMs       int      `mapstructure:"settle_max_ms"`
	SimulateBehavior  bool     `mapstructure:"simulate_behavior"`
	Proxies           []string `mapstructure:"proxies"`
	MinContentChars   int      `mapstructure:"min_content_chars"`
	RetryBackoffMinMs int      `mapstructure:"retry_backoff_min_ms"`
	RetryBackoffMaxMs int      `mapstructure:"retry_backoff_max_ms"`
}

// InferenceConfig points at the external model-inference service.
type InferenceConfig struct {
	Host               string `mapstructure:"host"`
	AnalysisModel      string `mapstructure:"analysis_model"`
	EntityModel        string `mapstructure:"entity_model"`
	LinkExtractorModel string `mapstructure:"link_extractor_model"`
	TranscriptModel    string `mapstructure:"transcript_model"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

// SchedulerConfig governs the concurrency governor.
type SchedulerConfig struct {
	MaxConcurrentRuns    int    `mapstructure:"max_concurrent_runs"`
	AutoDisableThreshold int    `mapstructure:"auto_disable_threshold"`
	GlobalPause          bool   `mapstructure:"global_pause"`
	RetentionDays        int    `mapstructure:"retention_days"`
	CleanupCron          string `mapstructure:"cleanup_cron"`
}

// PubSubConfig holds metadata for the optional progress event topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.min_content_chars", 200)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.per_domain_rps", 1)
	v.SetDefault("fetch.per_domain_burst", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_min_ms", 2000)
	v.SetDefault("headless.settle_max_ms", 4000)
	v.SetDefault("headless.simulate_behavior", true)
	v.SetDefault("headless.min_content_chars", 100)
	v.SetDefault("headless.retry_backoff_min_ms", 5000)
	v.SetDefault("headless.retry_backoff_max_ms", 8000)
	v.SetDefault("inference.host", "http://localhost:11434")
	v.SetDefault("inference.analysis_model", "llama3.1")
	v.SetDefault("inference.entity_model", "llama3.1")
	v.SetDefault("inference.link_extractor_model", "llama3.1")
	v.SetDefault("inference.transcript_model", "whisper")
	v.SetDefault("inference.timeout_seconds", 300)
	v.SetDefault("scheduler.max_concurrent_runs", 3)
	v.SetDefault("scheduler.auto_disable_threshold", 5)
	v.SetDefault("scheduler.global_pause", false)
	v.SetDefault("scheduler.retention_days", 30)
	v.SetDefault("scheduler.cleanup_cron", "0 2 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Provider != "postgres" && c.DB.Provider != "memory" {
		return fmt.Errorf("db.provider must be postgres or memory")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0")
	}
	if c.Headless.SettleMaxMs < c.Headless.SettleMinMs {
		return fmt.Errorf("headless.settle_max_ms must be >= headless.settle_min_ms")
	}
	if c.Inference.Host == "" {
		return fmt.Errorf("inference.host is required")
	}
	if c.Scheduler.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_runs must be > 0")
	}
	if c.Scheduler.AutoDisableThreshold <= 0 {
		return fmt.Errorf("scheduler.auto_disable_threshold must be > 0")
	}
	return nil
}

// FetchTimeout converts the probe timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// InferenceTimeout converts the inference call timeout into a duration.
func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}
