package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
	"github.com/CurseForgeCommunity/CFLookup/internal/observability"
	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/jobs"
	"github.com/CurseForgeCommunity/CFLookup/pkg/mcstats"
	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
	"github.com/CurseForgeCommunity/CFLookup/pkg/notify"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// need selects which collaborators openDeps builds.
type need uint8

const (
	needRedis need = 1 << iota
	needStore
	needAPI
)

// deps are the collaborators shared by serve and the one-shot commands.
// Fields a command did not ask for stay nil.
type deps struct {
	cfg     *config.Config
	redis   *redis.Client
	store   *syncstore.Store
	api     curseforge.API
	breaker *curseforge.BreakerClient
	locker  *joblock.Locker
}

// currentConfig returns the config loaded by the root command, loading
// defaults when a command runs outside cobra (tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

func openDeps(ctx context.Context, n need) (*deps, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg}

	if n&needRedis != 0 {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := joblock.NewRedisStore(d.redis)
		d.locker = joblock.NewLocker(store, observability.Named("joblock"),
			joblock.WithPublisher(store, cfg.Lock.Channel))
	}

	if n&needStore != 0 {
		d.store, err = syncstore.Open(ctx, syncstore.Config{
			Driver:       cfg.Database.Driver,
			DSN:          cfg.Database.DSN,
			URL:          cfg.Database.URL,
			AuthToken:    cfg.Database.AuthToken,
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("open store: %w", err), d.Close())
		}
		if err := d.store.Migrate(ctx); err != nil {
			return nil, multierr.Append(fmt.Errorf("migrate store: %w", err), d.Close())
		}
	}

	if n&needAPI != 0 {
		client, err := curseforge.New(curseforge.Config{
			BaseURL:      cfg.CurseForge.BaseURL,
			APIKey:       cfg.CurseForge.APIKey,
			RequestDelay: cfg.CurseForge.RequestDelay,
			Timeout:      cfg.CurseForge.RequestTimeout,
			UserAgent:    "cflookup/" + versionInfo.Version,
		}, observability.Named("curseforge"))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("create CurseForge client: %w", err), d.Close())
		}
		d.api = client
		if cfg.CurseForge.Breaker.Enabled {
			bcfg := curseforge.DefaultBreakerConfig()
			bcfg.FailureThreshold = cfg.CurseForge.Breaker.FailureThreshold
			bcfg.Timeout = cfg.CurseForge.Breaker.OpenTimeout
			d.breaker = curseforge.NewBreakerClient(client, bcfg, observability.Named("breaker"))
			d.api = d.breaker
		}
	}
	return d, nil
}

// Close releases everything openDeps built.
func (d *deps) Close() error {
	var err error
	if d.store != nil {
		err = multierr.Append(err, d.store.Close())
	}
	if d.redis != nil {
		err = multierr.Append(err, d.redis.Close())
	}
	return err
}

func (d *deps) notifier() notify.Notifier {
	return notify.New(notify.Config{
		URL:     d.cfg.Notify.WebhookURL,
		Flags:   d.cfg.Notify.Flags,
		Timeout: d.cfg.Notify.Timeout,
	}, observability.Named("notify"))
}

func (d *deps) lookup() *cache.Lookup {
	c := cache.New(d.redis, d.cfg.Cache.TTL, observability.Named("cache"))
	return cache.NewLookup(c, d.api)
}

func (d *deps) checker() *modpack.Checker {
	return modpack.NewChecker(d.api, modpack.CheckerConfig{}, observability.Named("modpack"))
}

func (d *deps) statsCollector() *mcstats.Collector {
	c := cache.New(d.redis, mcstats.CacheTTL, observability.Named("cache"))
	return mcstats.NewCollector(d.api, d.store, c, observability.Named("mcstats"))
}

func (d *deps) watchdog(n notify.Notifier) *mcstats.Watchdog {
	wc := mcstats.DefaultWatchConfig()
	wc.StaleAfter = d.cfg.Stats.StaleAfter
	if d.cfg.Stats.ExtraGameIDs != nil {
		wc.ExtraGameIDs = d.cfg.Stats.ExtraGameIDs
	}
	c := cache.New(d.redis, d.cfg.Cache.TTL, observability.Named("cache"))
	return mcstats.NewWatchdog(d.api, d.store, c, n, wc, observability.Named("watchdog"))
}

// runner builds a job runner with both sync jobs and, when enabled, the
// stats jobs registered.
func (d *deps) runner() (*jobs.Runner, error) {
	n := d.notifier()
	jd := jobs.Deps{
		Store:    d.store,
		API:      d.api,
		Notifier: n,
		Logger:   observability.Named("sync"),
	}

	r := jobs.NewRunner(d.locker, d.store, observability.Named("jobs")).WithNotifier(n)
	projects := syncJobConfig(jobs.DefaultProjectsSyncConfig(), d.cfg.Sync.Projects, d.cfg.Lock.Lease)
	projects.RunOnStart = d.cfg.Sync.RunOnStart
	if err := r.Register(jobs.SyncProjectsJob(jd, projects)); err != nil {
		return nil, err
	}
	files := syncJobConfig(jobs.DefaultFilesSyncConfig(), d.cfg.Sync.Files, d.cfg.Lock.Lease)
	if err := r.Register(jobs.SyncFilesJob(jd, files)); err != nil {
		return nil, err
	}

	if !d.cfg.Stats.Enabled {
		return r, nil
	}
	sc := jobs.DefaultStatsConfig()
	sc.SnapshotSchedule = d.cfg.Stats.SnapshotSchedule
	sc.OverTimeSchedule = d.cfg.Stats.OverTimeSchedule
	sc.WatchSchedule = d.cfg.Stats.WatchSchedule
	if d.cfg.Lock.Lease > 0 {
		sc.Lease = d.cfg.Lock.Lease
	}
	for _, j := range jobs.StatsJobs(d.statsCollector(), d.watchdog(n), sc) {
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// syncJobConfig overlays configured values on a job's defaults. Zero
// values keep the default.
func syncJobConfig(base jobs.SyncConfig, jc config.SyncJobConfig, lease time.Duration) jobs.SyncConfig {
	p := &base.Pipeline
	if jc.BucketSize > 0 {
		p.BucketSize = jc.BucketSize
	}
	if jc.BatchSize > 0 {
		p.BatchSize = jc.BatchSize
	}
	if jc.EmptyBucketThreshold > 0 {
		p.EmptyBucketThreshold = jc.EmptyBucketThreshold
	}
	if jc.RetryAttempts > 0 {
		p.RetryAttempts = jc.RetryAttempts
	}
	if jc.RetryBackoff > 0 {
		p.RetryBackoff = jc.RetryBackoff
	}
	if jc.LowerBound > 0 {
		p.Lower = jc.LowerBound
	}
	p.Upper = jc.UpperBound
	if jc.Headroom > 0 {
		base.Headroom = jc.Headroom
	}
	if jc.RescheduleDelay > 0 {
		base.RescheduleDelay = jc.RescheduleDelay
	}
	base.Schedule = jc.Schedule
	if lease > 0 {
		base.Lease = lease
	}
	return base
}
