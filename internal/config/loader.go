package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. KEIBA_ODDS_CACHE_ROOT_DIR.
const EnvPrefix = "KEIBA_ODDS"

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "config/config.yaml"

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads, expands and validates the configuration file.
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return unmarshalAndValidate(v)
}

// LoadWithDefaults is Load that tolerates a missing file, falling back to
// defaults and environment variables.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := newViper()
	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshalAndValidate(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "keiba-odds")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.timezone", "Asia/Tokyo")

	v.SetDefault("cache.root_dir", "data/cache")
	v.SetDefault("cache.retention_days", 365)
	v.SetDefault("cache.auto_fetch", false)
	v.SetDefault("cache.fetch_timeout_seconds", 30)

	v.SetDefault("deadline.margin_seconds", 60)

	v.SetDefault("simulation.base_volatility", 0.10)
	v.SetDefault("simulation.max_volatility", 0.20)
	v.SetDefault("simulation.saturation_seconds", 3600)
	v.SetDefault("simulation.min_win_odds", 1.0)
	v.SetDefault("simulation.min_place_odds", 1.0)
	v.SetDefault("simulation.seed", 0)

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.base_url", "")
	v.SetDefault("feed.service_key", "")
	v.SetDefault("feed.timeout_seconds", 10)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.requests_per_second", 5)
	v.SetDefault("feed.burst", 5)
	v.SetDefault("feed.odds_cache_ttl_seconds", 60)
	v.SetDefault("feed.race_list_cache_ttl_seconds", 600)

	v.SetDefault("sources.default", "auto")
	v.SetDefault("sources.allow_mock_fallback", true)
	v.SetDefault("sources.record_live", false)
	v.SetDefault("sources.mock_data_file", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.ws_ping_interval_seconds", 30)
	v.SetDefault("server.ws_pong_timeout_seconds", 60)
	v.SetDefault("server.update_interval_seconds", 10)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.prune_cron", "@daily")
	v.SetDefault("scheduler.prefetch_cron", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("secrets.enabled", false)
	v.SetDefault("secrets.region", "")
	v.SetDefault("secrets.secret_name", "")
}
