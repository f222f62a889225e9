// Package config provides configuration management for the odds service.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app" validate:"required"`
	Cache      CacheConfig      `mapstructure:"cache" validate:"required"`
	Deadline   DeadlineConfig   `mapstructure:"deadline"`
	Simulation SimulationConfig `mapstructure:"simulation" validate:"required"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Sources    SourcesConfig    `mapstructure:"sources" validate:"required"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
	Timezone    string `mapstructure:"timezone" validate:"required,timezone"`
}

// CacheConfig configures the on-disk snapshot store
type CacheConfig struct {
	RootDir             string `mapstructure:"root_dir" validate:"required"`
	RetentionDays       int    `mapstructure:"retention_days" validate:"gte=0"`
	AutoFetch           bool   `mapstructure:"auto_fetch"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" validate:"gt=0"`
}

// DeadlineConfig configures betting-close arithmetic
type DeadlineConfig struct {
	MarginSeconds int `mapstructure:"margin_seconds" validate:"gte=0"`
}

// SimulationConfig configures odds reconstruction
type SimulationConfig struct {
	BaseVolatility    float64 `mapstructure:"base_volatility" validate:"gt=0,lte=1"`
	MaxVolatility     float64 `mapstructure:"max_volatility" validate:"gt=0,lte=1"`
	SaturationSeconds int     `mapstructure:"saturation_seconds" validate:"gt=0"`
	MinWinOdds        float64 `mapstructure:"min_win_odds" validate:"gt=0"`
	MinPlaceOdds      float64 `mapstructure:"min_place_odds" validate:"gt=0"`
	Seed              int64   `mapstructure:"seed"`
}

// FeedConfig configures the live feed bridge
type FeedConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	BaseURL                 string  `mapstructure:"base_url" validate:"omitempty,url"`
	ServiceKey              string  `mapstructure:"service_key"`
	TimeoutSeconds          int     `mapstructure:"timeout_seconds" validate:"gte=0"`
	MaxRetries              int     `mapstructure:"max_retries" validate:"gte=0"`
	RequestsPerSecond       float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst                   int     `mapstructure:"burst" validate:"gte=0"`
	OddsCacheTTLSeconds     int     `mapstructure:"odds_cache_ttl_seconds" validate:"gte=0"`
	RaceListCacheTTLSeconds int     `mapstructure:"race_list_cache_ttl_seconds" validate:"gte=0"`
}

// SourcesConfig configures source routing
type SourcesConfig struct {
	Default           string `mapstructure:"default" validate:"required,datasource"`
	AllowMockFallback bool   `mapstructure:"allow_mock_fallback"`
	RecordLive        bool   `mapstructure:"record_live"`
	MockDataFile      string `mapstructure:"mock_data_file"`
}

// ServerConfig configures the HTTP and websocket server
type ServerConfig struct {
	Host                  string   `mapstructure:"host"`
	Port                  int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
	ReadTimeoutSeconds    int      `mapstructure:"read_timeout_seconds" validate:"gt=0"`
	WriteTimeoutSeconds   int      `mapstructure:"write_timeout_seconds" validate:"gt=0"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	WSPingIntervalSeconds int      `mapstructure:"ws_ping_interval_seconds" validate:"gt=0"`
	WSPongTimeoutSeconds  int      `mapstructure:"ws_pong_timeout_seconds" validate:"gt=0"`
	UpdateIntervalSeconds int      `mapstructure:"update_interval_seconds" validate:"gt=0"`
}

// SchedulerConfig configures background cron jobs
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PruneCron    string `mapstructure:"prune_cron" validate:"omitempty,cronspec"`
	PrefetchCron string `mapstructure:"prefetch_cron" validate:"omitempty,cronspec"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SecretsConfig configures the AWS Secrets Manager overlay
type SecretsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region"`
	SecretName string `mapstructure:"secret_name"`
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging returns true if running in staging environment
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Location resolves the configured timezone. Validation guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FetchTimeout bounds a single fetch-and-cache operation
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Cache.FetchTimeoutSeconds) * time.Second
}

// ListenAddress returns host:port for the API server
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// FeedConfigured reports whether a live feed can be constructed
func (c *Config) FeedConfigured() bool {
	return c.Feed.Enabled && c.Feed.BaseURL != ""
}
