package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery and env mapping.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity returns the cflookup identity.
func DefaultIdentity() *Identity {
	return &Identity{
		BinaryName: "cflookup",
		EnvPrefix:  "CFLOOKUP",
		ConfigName: "cflookup",
	}
}

// EnvSpec maps an environment variable onto a config path. Aliases are
// consulted when Name is unset.
type EnvSpec struct {
	Name    string
	Path    string
	Aliases []string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetConfigFile pins the YAML file Load reads. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// AppIdentity returns the identity used by the last Load, or nil.
func AppIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// GetConfig returns the most recently loaded config, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load builds the effective config. Precedence, highest first: runtime
// overrides, environment, config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		appIdentity = DefaultIdentity()
	}

	v := viper.New()
	SetDefaults(v)
	v.SetDefault("database.dsn", defaultDSN(appIdentity))

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		names := append([]string{spec.Name}, spec.Aliases...)
		if err := v.BindEnv(append([]string{spec.Path}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// SetDefaults registers every default on v. Durations are strings so they
// survive a round trip through YAML.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
	v.SetDefault("workers", 4)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "cflookup.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.auth_token", "")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("curseforge.api_key", "")
	v.SetDefault("curseforge.base_url", "https://api.curseforge.com")
	v.SetDefault("curseforge.request_delay", "50ms")
	v.SetDefault("curseforge.request_timeout", "5m")
	v.SetDefault("curseforge.breaker.enabled", true)
	v.SetDefault("curseforge.breaker.failure_threshold", 5)
	v.SetDefault("curseforge.breaker.open_timeout", "1m")

	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("lock.lease", "15s")
	v.SetDefault("lock.channel", "LockMessages/CFLookup")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.flags", 4)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("sync.run_on_start", true)
	setSyncJobDefaults(v, "sync.projects", 25, "10s")
	setSyncJobDefaults(v, "sync.files", 300, "30m")

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.snapshot_schedule", "0 * * * *")
	v.SetDefault("stats.overtime_schedule", "*/30 * * * *")
	v.SetDefault("stats.watch_schedule", "*/5 * * * *")
	v.SetDefault("stats.stale_after", "3h")
	v.SetDefault("stats.extra_game_ids", []int64{83374})
}

func setSyncJobDefaults(v *viper.Viper, prefix string, emptyThreshold int, reschedule string) {
	v.SetDefault(prefix+".bucket_size", 10_000)
	v.SetDefault(prefix+".batch_size", 1000)
	v.SetDefault(prefix+".empty_bucket_threshold", emptyThreshold)
	v.SetDefault(prefix+".retry_attempts", 3)
	v.SetDefault(prefix+".retry_backoff", "1s")
	v.SetDefault(prefix+".lower_bound", 1)
	v.SetDefault(prefix+".upper_bound", 0)
	v.SetDefault(prefix+".headroom", 1_000_000)
	v.SetDefault(prefix+".reschedule_delay", reschedule)
	v.SetDefault(prefix+".schedule", "")
}

// Validate reports every invalid value in one error.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		problems = append(problems, fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "libsql", "postgres", "postgresql", "pgx":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Lock.Lease <= 0 {
		problems = append(problems, "lock.lease must be positive")
	}
	for name, job := range map[string]SyncJobConfig{"projects": c.Sync.Projects, "files": c.Sync.Files} {
		if job.BucketSize <= 0 {
			problems = append(problems, fmt.Sprintf("sync.%s.bucket_size must be positive", name))
		}
		if job.UpperBound != 0 && job.UpperBound <= job.LowerBound {
			problems = append(problems, fmt.Sprintf("sync.%s.upper_bound must exceed lower_bound", name))
		}
	}
	if c.Stats.Enabled && c.Stats.StaleAfter <= 0 {
		problems = append(problems, "stats.stale_after must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func readConfigFile(v *viper.Viper) error {
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths lists the directories searched for <config-name>.yaml.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName))
	}
	return paths
}

func defaultDSN(id *Identity) string {
	dir := gfconfig.GetAppDataDir(id.ConfigName)
	if strings.TrimSpace(dir) == "" {
		return id.ConfigName + ".db"
	}
	return filepath.Join(dir, id.ConfigName+".db")
}

// getEnvSpecs returns the env mappings for the current identity. The
// aliases are the variable names older deployments used.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	p := strings.ToUpper(appIdentity.EnvPrefix) + "_"
	spec := func(name, path string, aliases ...string) EnvSpec {
		return EnvSpec{Name: p + name, Path: path, Aliases: aliases}
	}
	return []EnvSpec{
		spec("HOST", "server.host"),
		spec("PORT", "server.port"),
		spec("READ_TIMEOUT", "server.read_timeout"),
		spec("WRITE_TIMEOUT", "server.write_timeout"),
		spec("IDLE_TIMEOUT", "server.idle_timeout"),
		spec("SHUTDOWN_TIMEOUT", "server.shutdown_timeout"),
		spec("LOG_LEVEL", "logging.level"),
		spec("LOG_PROFILE", "logging.profile"),
		spec("METRICS_ENABLED", "metrics.enabled"),
		spec("METRICS_PORT", "metrics.port"),
		spec("HEALTH_ENABLED", "health.enabled"),
		spec("DEBUG", "debug.enabled"),
		spec("PPROF_ENABLED", "debug.pprof_enabled"),
		spec("WORKERS", "workers"),
		spec("REDIS_ADDR", "redis.addr", "RedisServer"),
		spec("REDIS_PASSWORD", "redis.password"),
		spec("REDIS_DB", "redis.db"),
		spec("DB_DRIVER", "database.driver"),
		spec("DB_DSN", "database.dsn", p+"PGSQL"),
		spec("DB_URL", "database.url"),
		spec("DB_AUTH_TOKEN", "database.auth_token"),
		spec("DB_MAX_OPEN_CONNS", "database.max_open_conns"),
		spec("CF_API_KEY", "curseforge.api_key", "CFAPI_Key"),
		spec("CF_BASE_URL", "curseforge.base_url"),
		spec("CF_REQUEST_DELAY", "curseforge.request_delay"),
		spec("CF_REQUEST_TIMEOUT", "curseforge.request_timeout"),
		spec("CACHE_TTL", "cache.ttl"),
		spec("LOCK_LEASE", "lock.lease"),
		spec("LOCK_CHANNEL", "lock.channel"),
		spec("NOTIFY_WEBHOOK_URL", "notify.webhook_url", "DISCORD_WEBHOOK_PROJECT"),
		spec("NOTIFY_FLAGS", "notify.flags"),
		spec("SYNC_RUN_ON_START", "sync.run_on_start"),
		spec("SYNC_PROJECTS_SCHEDULE", "sync.projects.schedule"),
		spec("SYNC_FILES_SCHEDULE", "sync.files.schedule"),
		spec("STATS_ENABLED", "stats.enabled"),
		spec("STATS_STALE_AFTER", "stats.stale_after"),
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
