// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "0.0.0.0:8191", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "unflare", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.NotEmpty(t, cfg.Browser.UserDataDir)
	assert.Equal(t, int64(4), cfg.Solver.MaxConcurrency)
	assert.Equal(t, 60*time.Second, cfg.Solver.DefaultMaxTimeout)
	assert.False(t, cfg.Server.RateLimit.Enabled)
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("should apply overrides on top of defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("server.port", 9000)
		v.Set("browser.headless", false)
		v.Set("solver.default_max_timeout", "90s")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 90*time.Second, cfg.Solver.DefaultMaxTimeout)
	})

	t.Run("should honor environment variable overrides", func(t *testing.T) {
		t.Setenv("UNFLARE_SERVER_PORT", "8888")

		v := viper.New()
		SetDefaults(v)
		BindEnv(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 8888, cfg.Server.Port)
	})

	t.Run("should keep an explicit user data dir", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.user_data_dir", "/tmp/profiles")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/profiles", cfg.Browser.UserDataDir)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "non-positive concurrency",
			mutate:  func(c *Config) { c.Solver.MaxConcurrency = 0 },
			wantErr: "solver.max_concurrency",
		},
		{
			name:    "non-positive default timeout",
			mutate:  func(c *Config) { c.Solver.DefaultMaxTimeout = 0 },
			wantErr: "solver.default_max_timeout",
		},
		{
			name: "rate limit enabled without rps",
			mutate: func(c *Config) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.RPS = 0
			},
			wantErr: "server.rate_limit.rps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
