// Package config loads the fanout CLI configuration from FANOUT_* environment
// variables, an optional .env file and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FANOUT_BASE_URL.
const EnvPrefix = "FANOUT"

// DefaultEnvFile is loaded when present and no other file is given.
const DefaultEnvFile = ".env"

// Config is the resolved CLI configuration.
type Config struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Concurrency   int           `mapstructure:"concurrency" validate:"min=1"`
	Order         string        `mapstructure:"order" validate:"omitempty,oneof=default completion admission input ordered"`
	RaiseOnError  bool          `mapstructure:"raise_on_error"`
	ProgressLabel string        `mapstructure:"progress_label"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"min=0"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	UserAgent string  `mapstructure:"user_agent" validate:"required"`
	RateLimit float64 `mapstructure:"rate_limit" validate:"gt=0"`
	RedisAddr string  `mapstructure:"redis_addr"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

var defaults = map[string]any{
	"base_url":       "https://jsonplaceholder.typicode.com/posts",
	"concurrency":    5,
	"order":          "",
	"raise_on_error": true,
	"progress_label": "",
	"timeout":        30 * time.Second,
	"log_level":      "info",
	"log_pretty":     false,
	"user_agent":     "fanout/0.1.0",
	"rate_limit":     10.0,
	"redis_addr":     "",
	"metrics_addr":   "",
}

type loaderConfig struct {
	envFile string
	flags   *pflag.FlagSet
}

// Option customizes Load.
type Option func(*loaderConfig)

// WithEnvFile loads path instead of DefaultEnvFile. A missing explicit file
// is an error.
func WithEnvFile(path string) Option {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// WithFlags binds flags named like the keys with dashes (base-url for
// base_url). Flags set on the command line win over the environment.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(lc *loaderConfig) { lc.flags = fs }
}

// Load resolves the configuration: flags, then environment, then .env, then
// defaults.
func Load(opts ...Option) (*Config, error) {
	var lc loaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	if err := loadEnvFile(lc.envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		if lc.flags == nil {
			continue
		}
		if flag := lc.flags.Lookup(strings.ReplaceAll(key, "_", "-")); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Order = strings.ToLower(strings.TrimSpace(cfg.Order))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile never overrides variables that are already set.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}

	if _, err := os.Stat(DefaultEnvFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(DefaultEnvFile); err != nil {
		return fmt.Errorf("load env file %s: %w", DefaultEnvFile, err)
	}
	return nil
}
