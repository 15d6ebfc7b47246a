// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Solver  SolverConfig  `mapstructure:"solver" yaml:"solver"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RateLimitConfig tunes the optional per-client request throttle on /v1.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host"`
	Port            int             `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Address returns the host:port pair the server binds to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	BinaryPath      string   `mapstructure:"binary_path" yaml:"binary_path"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Lang            string   `mapstructure:"lang" yaml:"lang"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// LogHTML dumps the full page source at debug level after each
	// resolution. Very noisy; off by default.
	LogHTML bool `mapstructure:"log_html" yaml:"log_html"`
}

// SolverConfig tunes the challenge resolution engine.
type SolverConfig struct {
	MaxConcurrency    int64         `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	DefaultMaxTimeout time.Duration `mapstructure:"default_max_timeout" yaml:"default_max_timeout"`
	FallbackUserAgent string        `mapstructure:"fallback_user_agent" yaml:"fallback_user_agent"`
	RecoveryEnabled   bool          `mapstructure:"recovery_enabled" yaml:"recovery_enabled"`
}

// EnvPrefix is the prefix for environment variable overrides, e.g.
// UNFLARE_SERVER_PORT=8191.
const EnvPrefix = "UNFLARE"

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "unflare")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8191)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rps", 5.0)
	v.SetDefault("server.rate_limit.burst", 10)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.lang", "en-US")
	v.SetDefault("browser.log_html", false)

	// -- Solver --
	v.SetDefault("solver.max_concurrency", 4)
	v.SetDefault("solver.default_max_timeout", "60s")
	v.SetDefault("solver.recovery_enabled", true)
}

// BindEnv wires UNFLARE_* environment variables into the viper instance so
// every key can be overridden without a config file.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Browser.UserDataDir == "" {
		dir, err := defaultUserDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default user data dir: %w", err)
		}
		cfg.Browser.UserDataDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Solver.MaxConcurrency <= 0 {
		return fmt.Errorf("solver.max_concurrency must be a positive integer")
	}
	if c.Solver.DefaultMaxTimeout <= 0 {
		return fmt.Errorf("solver.default_max_timeout must be a positive duration")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RPS <= 0 {
			return fmt.Errorf("server.rate_limit.rps must be positive when rate limiting is enabled")
		}
		if c.Server.RateLimit.Burst <= 0 {
			return fmt.Errorf("server.rate_limit.burst must be positive when rate limiting is enabled")
		}
	}
	return nil
}

// defaultUserDataDir places browser profiles under the user's home directory
// so cookies survive restarts of persistent sessions.
func defaultUserDataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".unflare", "profiles"), nil
}
