package config

import (
	"testing"
	"time"

	v "github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	t.Helper()

	v.Reset()
	t.Cleanup(v.Reset)
	SetDefaults()

	cfg := &Config{}
	require.NoError(t, v.Unmarshal(cfg))

	cfg.Mode = "all"
	cfg.JWT.Secret = "secret"

	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaults(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "owner", cfg.Dedup.Scope)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Queue.BaseDelay)
	assert.Equal(t, int64(25), cfg.Limits.MaxSize["image"])
	assert.Equal(t, int64(500), cfg.Limits.MaxSize["video"])
	assert.Equal(t, 2*time.Hour, cfg.Limits.MaxDuration)
	assert.InDelta(t, 0.9, cfg.Moderation.RejectFloor, 1e-9)
	assert.True(t, cfg.Moderation.AutoApprove)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"bad mode", func(c *Config) { c.Mode = "both" }, false},
		{"bad log level", func(c *Config) { c.App.LogLevel = "loud" }, false},
		{"api needs a jwt secret", func(c *Config) { c.JWT.Secret = "" }, false},
		{"worker runs without a jwt secret", func(c *Config) { c.Mode = "worker"; c.JWT.Secret = "" }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"flag over reject", func(c *Config) { c.Moderation.FlagThreshold = 0.95 }, false},
		{"bad dedup scope", func(c *Config) { c.Dedup.Scope = "tenant" }, false},
		{"tagger threshold out of range", func(c *Config) { c.Tagger.Threshold = 1.5 }, false},
		{"no sweep interval", func(c *Config) { c.Queue.SweepEvery = 0 }, false},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3"; c.AWS.Region = "eu-west-1" }, false},
		{"s3 complete", func(c *Config) { c.Storage.Type = "s3"; c.AWS.Region = "eu-west-1"; c.AWS.Bucket = "media" }, true},
		{"r2 without account", func(c *Config) { c.Storage.Type = "r2" }, false},
		{"unknown storage", func(c *Config) { c.Storage.Type = "ftp" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
