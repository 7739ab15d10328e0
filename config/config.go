// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	mode       = pflag.String("mode", "all", "What to run: api, worker or all")
	configPath = pflag.String("config", ".", "Directory containing config.toml")

	validLogLevels    = []string{"debug", "info", "warn", "error", "fatal"}
	validStorageTypes = []string{"s3", "r2", "local"}
	validDBDrivers    = []string{"sqlite", "postgres"}
	validModes        = []string{"api", "worker", "all"}
	validDedupScopes  = []string{"owner", "public", "global"}
)

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() (*Config, error) {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(*configPath)

	v.AutomaticEnv()

	bindEnvs()
	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file, %w", err)
		}

		zap.L().Warn("config.toml not found, running on defaults and environment")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config, %w", err)
	}

	cfg.Mode = *mode

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindEnvs() {
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.domain", "host_domain")
	v.BindEnv("host.cors", "host_cors")

	v.BindEnv("database.driver", "database_driver")
	v.BindEnv("database.dsn", "database_dsn")

	v.BindEnv("redis.addr", "redis_addr")
	v.BindEnv("redis.password", "redis_password")

	v.BindEnv("ffmpeg.path", "ffmpeg_path")
	v.BindEnv("ffmpeg.ffprobe_path", "ffprobe_path")
	v.BindEnv("ffmpeg.hwaccel", "ffmpeg_hwaccel")

	v.BindEnv("jwt.secret", "jwt_secret")

	v.BindEnv("storage.type", "storage_type")
	v.BindEnv("storage.local_path", "storage_local_path")

	v.BindEnv("aws.access_key", "aws_access_key")
	v.BindEnv("aws.secret_access_key", "aws_secret_access_key")
	v.BindEnv("aws.region", "aws_region")
	v.BindEnv("aws.bucket", "aws_bucket")

	v.BindEnv("cloudflare.account_id", "cloudflare_account_id")
	v.BindEnv("cloudflare.access_key_id", "cloudflare_access_key_id")
	v.BindEnv("cloudflare.secret_access_key", "cloudflare_secret_access_key")
	v.BindEnv("cloudflare.bucket", "cloudflare_bucket")
	v.BindEnv("cloudflare.zone_id", "cloudflare_zone_id")
	v.BindEnv("cloudflare.api_token", "cloudflare_api_token")

	v.BindEnv("cdn.base_url", "cdn_base_url")

	v.BindEnv("classifier.url", "classifier_url")
	v.BindEnv("classifier.api_key", "classifier_api_key")
}

// SetDefaults registers every default value. Exported so tests can build a
// Config without touching the file system.
func SetDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.domain", "localhost")
	v.SetDefault("host.cors", []string{"http://localhost:5173"})
	v.SetDefault("host.rate_limit", 20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "database.db")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.concurrency", 8)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_delay", 10*time.Second)
	v.SetDefault("queue.max_delay", 30*time.Minute)
	v.SetDefault("queue.stale_after", 30*time.Minute)
	v.SetDefault("queue.sweep_every", 5*time.Minute)

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.workers", 2)
	v.SetDefault("ffmpeg.max_jobs", 32)
	v.SetDefault("ffmpeg.encoder", "libx264")
	v.SetDefault("ffmpeg.timeout", 20*time.Minute)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "data")
	v.SetDefault("storage.timeout", 2*time.Minute)
	v.SetDefault("storage.signed_url_ttl", 15*time.Minute)

	v.SetDefault("cdn.base_url", "http://localhost:8080/static")
	v.SetDefault("cdn.timeout", 10*time.Second)

	v.SetDefault("upload.max_size", 500)

	v.SetDefault("limits.max_size.image", 25)
	v.SetDefault("limits.max_size.video", 500)
	v.SetDefault("limits.max_size.audio", 100)
	v.SetDefault("limits.max_size.document", 50)
	v.SetDefault("limits.max_size.ar_model", 100)
	v.SetDefault("limits.max_size.archive", 200)
	v.SetDefault("limits.max_dimension", 12000)
	v.SetDefault("limits.max_duration", 2*time.Hour)
	v.SetDefault("limits.max_audio_duration", 3*time.Hour)

	v.SetDefault("dedup.allow_duplicates", false)
	v.SetDefault("dedup.scope", "owner")

	v.SetDefault("classifier.timeout", 30*time.Second)

	v.SetDefault("moderation.reject_floor", 0.9)
	v.SetDefault("moderation.flag_threshold", 0.6)
	v.SetDefault("moderation.auto_approve", true)

	v.SetDefault("tagger.threshold", 0.5)
	v.SetDefault("tagger.cache_size", 4096)

	v.SetDefault("similarity.threshold", 0.8)
	v.SetDefault("similarity.max_candidates", 500)

	v.SetDefault("search.cache_ttl", 30*time.Second)
	v.SetDefault("search.cache_size", 10000)
}

// Validate checks values that would make the app misbehave at runtime
func (c *Config) Validate() error {
	if !slices.Contains(validModes, c.Mode) {
		return errors.New("invalid mode provided")
	}

	if !slices.Contains(validLogLevels, c.App.LogLevel) {
		return errors.New("invalid log level provided")
	}

	if c.Host.Port <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDBDrivers, c.Database.Driver) {
		return errors.New("invalid database driver provided")
	}

	if c.Database.DSN == "" {
		return errors.New("database dsn can't be empty")
	}

	if c.Upload.MaxSize <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	if c.Queue.MaxAttempts <= 0 {
		return errors.New("queue.max_attempts must be bigger than 0")
	}

	if c.Queue.Concurrency <= 0 {
		return errors.New("queue.concurrency must be bigger than 0")
	}

	if c.Queue.SweepEvery <= 0 || c.Queue.StaleAfter <= 0 {
		return errors.New("queue.sweep_every and queue.stale_after must be bigger than 0")
	}

	if c.FFmpeg.Workers <= 0 {
		return errors.New("ffmpeg.workers must be bigger than 0")
	}

	if c.Mode != "worker" && c.JWT.Secret == "" {
		return errors.New("jwt.secret can't be empty")
	}

	if !slices.Contains(validDedupScopes, c.Dedup.Scope) {
		return errors.New("invalid dedup scope provided")
	}

	if c.Moderation.FlagThreshold > c.Moderation.RejectFloor {
		return errors.New("moderation.flag_threshold can't be bigger than moderation.reject_floor")
	}

	if c.Tagger.Threshold < 0 || c.Tagger.Threshold > 1 {
		return errors.New("tagger.threshold must be between 0 and 1")
	}

	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return errors.New("similarity.threshold must be between 0 and 1")
	}

	switch c.Storage.Type {
	case "s3":
		if c.AWS.Bucket == "" {
			return errors.New("bucket can't be empty")
		}
		if c.AWS.Region == "" {
			return errors.New("aws region can't be empty")
		}
	case "r2":
		if c.Cloudflare.AccountID == "" {
			return errors.New("account id can't be empty")
		}
		if c.Cloudflare.AccessKeyID == "" {
			return errors.New("account access id can't be empty")
		}
		if c.Cloudflare.SecretAccessKey == "" {
			return errors.New("secret access key can't be empty")
		}
		if c.Cloudflare.Bucket == "" {
			return errors.New("bucket can't be empty")
		}
	case "local":
		if c.Storage.LocalPath == "" {
			return errors.New("storage.local_path can't be empty")
		}
	}

	if !slices.Contains(validStorageTypes, c.Storage.Type) {
		return errors.New("invalid storage type provided")
	}

	if c.Classifier.URL == "" {
		zap.L().Warn("No classifier.url specified, scans will mark every file as clean")
	}

	if c.Cloudflare.ZoneID == "" || c.Cloudflare.APIToken == "" {
		zap.L().Warn("Cloudflare zone or api token missing, CDN purges are disabled")
	}

	return nil
}
