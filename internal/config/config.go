// Package config loads cflookup configuration from defaults, an optional
// YAML file, CFLOOKUP_* environment variables and runtime overrides.
package config

import "time"

// Config is the effective configuration of a cflookup process.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Debug      DebugConfig      `mapstructure:"debug" yaml:"debug"`
	Workers    int              `mapstructure:"workers" yaml:"workers"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	CurseForge CurseForgeConfig `mapstructure:"curseforge" yaml:"curseforge"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Lock       LockConfig       `mapstructure:"lock" yaml:"lock"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Stats      StatsConfig      `mapstructure:"stats" yaml:"stats"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile" yaml:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port serves /metrics on a separate listener. Zero serves it on the
	// API listener only.
	Port int `mapstructure:"port" yaml:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	URL          string `mapstructure:"url" yaml:"url"`
	AuthToken    string `mapstructure:"auth_token" yaml:"auth_token"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

type CurseForgeConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type LockConfig struct {
	Lease time.Duration `mapstructure:"lease" yaml:"lease"`

	// Channel receives acquire/release messages. Empty disables publishing.
	Channel string `mapstructure:"channel" yaml:"channel"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Flags      int           `mapstructure:"flags" yaml:"flags"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SyncConfig struct {
	// RunOnStart triggers the project sync when serve starts; the chain
	// takes over from there.
	RunOnStart bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	Projects   SyncJobConfig `mapstructure:"projects" yaml:"projects"`
	Files      SyncJobConfig `mapstructure:"files" yaml:"files"`
}

// SyncJobConfig tunes one bulk sync job.
type SyncJobConfig struct {
	BucketSize           int64         `mapstructure:"bucket_size" yaml:"bucket_size"`
	BatchSize            int           `mapstructure:"batch_size" yaml:"batch_size"`
	EmptyBucketThreshold int           `mapstructure:"empty_bucket_threshold" yaml:"empty_bucket_threshold"`
	RetryAttempts        int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	LowerBound           int64         `mapstructure:"lower_bound" yaml:"lower_bound"`
	UpperBound           int64         `mapstructure:"upper_bound" yaml:"upper_bound"`
	Headroom             int64         `mapstructure:"headroom" yaml:"headroom"`
	RescheduleDelay      time.Duration `mapstructure:"reschedule_delay" yaml:"reschedule_delay"`
	Schedule             string        `mapstructure:"schedule" yaml:"schedule"`
}

// StatsConfig schedules the Minecraft stats and file processing watch jobs.
type StatsConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	SnapshotSchedule string `mapstructure:"snapshot_schedule" yaml:"snapshot_schedule"`
	OverTimeSchedule string `mapstructure:"overtime_schedule" yaml:"overtime_schedule"`
	WatchSchedule    string `mapstructure:"watch_schedule" yaml:"watch_schedule"`

	// StaleAfter is how old the newest file may get before a warning is sent.
	StaleAfter   time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	ExtraGameIDs []int64       `mapstructure:"extra_game_ids" yaml:"extra_game_ids"`
}
