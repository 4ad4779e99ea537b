// Package config loads and validates certpull configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all certpull configuration knobs loaded via Viper.
type Config struct {
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	Export  ExportConfig  `mapstructure:"export"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScrapeConfig governs the fetch-and-persist pipeline.
type ScrapeConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	StartID     int64  `mapstructure:"start_id"`
	EndID       int64  `mapstructure:"end_id"`
	Concurrency int    `mapstructure:"concurrency"`
	MaxRetries  int    `mapstructure:"max_retries"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// HTTPConfig configures outbound request behavior.
type HTTPConfig struct {
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	UserAgent             string  `mapstructure:"user_agent"`
	BackoffCapSeconds     int     `mapstructure:"backoff_cap_seconds"`
	RateLimitCapSeconds   int     `mapstructure:"rate_limit_cap_seconds"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
}

// OutputConfig sets the dataset path; checkpoint, backup, and temp files
// derive their names from it.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ExportConfig controls the optional Postgres record exporter.
type ExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// MirrorConfig controls the optional GCS dataset mirror.
type MirrorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for persist-cycle notifications.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
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
	v.SetEnvPrefix("CERTPULL")
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
	v.SetDefault("scrape.base_url", "https://data.edu.az/az/verified/")
	v.SetDefault("scrape.start_id", 1)
	v.SetDefault("scrape.end_id", 0)
	v.SetDefault("scrape.concurrency", 50)
	v.SetDefault("scrape.max_retries", 5)
	v.SetDefault("scrape.batch_size", 50)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.connect_timeout_seconds", 5)
	v.SetDefault("http.user_agent", "certpull/1.0")
	v.SetDefault("http.backoff_cap_seconds", 16)
	v.SetDefault("http.rate_limit_cap_seconds", 32)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("output.path", "certificates.csv")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("export.table", "certificates")
	v.SetDefault("mirror.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Range bounds are
// supplied per run and validated by the engine, not here.
func (c Config) Validate() error {
	if c.Scrape.BaseURL == "" {
		return fmt.Errorf("scrape.base_url must be set")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Scrape.MaxRetries <= 0 {
		return fmt.Errorf("scrape.max_retries must be > 0")
	}
	if c.Scrape.BatchSize <= 0 {
		return fmt.Errorf("scrape.batch_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the ops server is enabled")
	}
	if c.Export.Enabled && c.Export.DSN == "" {
		return fmt.Errorf("export.dsn must be set when export is enabled")
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror.bucket must be set when mirror is enabled")
	}
	if c.Notify.Enabled && (c.Notify.ProjectID == "" || c.Notify.TopicName == "") {
		return fmt.Errorf("notify.project_id and notify.topic_name must be set when notify is enabled")
	}
	return nil
}

// RequestTimeout returns the per-attempt total timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnectTimeout returns the per-attempt dial timeout.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutSeconds) * time.Second
}
