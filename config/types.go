package config

import "time"

type Config struct {
	Mode string `mapstructure:"-"`

	App struct {
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`

	Host struct {
		Port      int      `mapstructure:"port"`
		Domain    string   `mapstructure:"domain"`
		CORS      []string `mapstructure:"cors"`
		RateLimit int      `mapstructure:"rate_limit"`
	} `mapstructure:"host"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Queue QueueConfig `mapstructure:"queue"`

	FFmpeg FFmpegConfig `mapstructure:"ffmpeg"`

	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`

	Storage struct {
		Type         string        `mapstructure:"type"`
		LocalPath    string        `mapstructure:"local_path"`
		Timeout      time.Duration `mapstructure:"timeout"`
		SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
	} `mapstructure:"storage"`

	AWS struct {
		AccessKey       string `mapstructure:"access_key"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
	} `mapstructure:"aws"`

	Cloudflare struct {
		AccountID       string `mapstructure:"account_id"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Bucket          string `mapstructure:"bucket"`
		ZoneID          string `mapstructure:"zone_id"`
		APIToken        string `mapstructure:"api_token"`
	} `mapstructure:"cloudflare"`

	CDN struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"cdn"`

	Upload struct {
		MaxSize int64 `mapstructure:"max_size"` // MiB
	} `mapstructure:"upload"`

	Limits LimitsConfig `mapstructure:"limits"`

	Dedup struct {
		AllowDuplicates bool   `mapstructure:"allow_duplicates"`
		Scope           string `mapstructure:"scope"`
	} `mapstructure:"dedup"`

	Classifier struct {
		URL     string        `mapstructure:"url"`
		APIKey  string        `mapstructure:"api_key"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"classifier"`

	Moderation ModerationConfig `mapstructure:"moderation"`

	Tagger struct {
		Threshold float64 `mapstructure:"threshold"`
		CacheSize int     `mapstructure:"cache_size"`
	} `mapstructure:"tagger"`

	Similarity struct {
		Threshold     float64 `mapstructure:"threshold"`
		MaxCandidates int     `mapstructure:"max_candidates"`
	} `mapstructure:"similarity"`

	Search struct {
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
		CacheSize int           `mapstructure:"cache_size"`
	} `mapstructure:"search"`
}

type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	SweepEvery  time.Duration `mapstructure:"sweep_every"`
}

type FFmpegConfig struct {
	Path        string        `mapstructure:"path"`
	FFprobePath string        `mapstructure:"ffprobe_path"`
	Workers     int           `mapstructure:"workers"`
	MaxJobs     int           `mapstructure:"max_jobs"`
	Encoder     string        `mapstructure:"encoder"`
	HWAccel     string        `mapstructure:"hwaccel"`
	UseGPU      bool          `mapstructure:"use_gpu"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds the per media class ceilings enforced at ingress.
// Sizes are in MiB.
type LimitsConfig struct {
	MaxSize          map[string]int64 `mapstructure:"max_size"`
	MaxDimension     int              `mapstructure:"max_dimension"`
	MaxDuration      time.Duration    `mapstructure:"max_duration"`
	MaxAudioDuration time.Duration    `mapstructure:"max_audio_duration"`
}

type ModerationConfig struct {
	RejectFloor   float64 `mapstructure:"reject_floor"`
	FlagThreshold float64 `mapstructure:"flag_threshold"`
	AutoApprove   bool    `mapstructure:"auto_approve"`
}
