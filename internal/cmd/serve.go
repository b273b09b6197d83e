package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/observability"
	"github.com/CurseForgeCommunity/CFLookup/internal/server"
	"github.com/CurseForgeCommunity/CFLookup/internal/server/handlers"
	"github.com/CurseForgeCommunity/CFLookup/internal/supervisor"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

var (
	serveNoJobs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled sync jobs",
	Long: `Run the lookup API and the sync job runner under one supervisor.

The runner starts the project sync (unless sync.run_on_start is false);
each sync schedules the other when it finishes. Several serve processes
may share one Redis: the job lock keeps every sync to a single instance.

Examples:
  cflookup serve
  cflookup serve --no-jobs      # API only
  CFLOOKUP_PORT=9000 cflookup serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "Serve the API without running sync jobs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.Named("serve")

	d, err := openDeps(ctx, needRedis|needStore|needAPI)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize dependencies", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("Failed to close dependencies", zap.Error(err))
		}
	}()
	cfg := d.cfg

	runner, err := d.runner()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job configuration", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		registerHealthCheckers(handlers.GetHealthManager(), d)
	}

	separateMetrics := cfg.Metrics.Enabled && cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
		server.WithMetrics(cfg.Metrics.Enabled && !separateMetrics),
		server.WithPprof(cfg.Debug.PprofEnabled),
		server.WithAPI(&handlers.API{
			Store:   d.store,
			Lookup:  d.lookup(),
			Locks:   d.locker,
			Jobs:    runner,
			Checker: d.checker(),

			Stats:      d.statsCollector(),
			FileStatus: d.store,
		}),
	)

	tree := supervisor.New(observability.Named("supervisor"), supervisor.Config{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(srv)
	if separateMetrics {
		tree.AddAPIService(server.NewMetricsServer(cfg.Server.Host, cfg.Metrics.Port))
	}
	if !serveNoJobs {
		tree.AddJobService(runner)
	}

	logger.Info("Starting cflookup",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.Strings("jobs", runner.JobNames()),
		zap.Bool("jobs_enabled", !serveNoJobs))

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn("Services did not stop in time", zap.Int("count", len(report)))
	}
	if err != nil && ctx.Err() == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server stopped unexpectedly", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func registerHealthCheckers(hm *handlers.HealthManager, d *deps) {
	hm.RegisterChecker("signal", signalHealthChecker{})
	if id := GetAppIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	if d.cfg.Metrics.Enabled {
		hm.RegisterChecker("metrics", metricsHealthChecker{gatherer: prometheus.DefaultGatherer})
	}
	if d.store != nil {
		hm.RegisterChecker("database", handlers.HealthCheckerFunc(d.store.Ping))
	}
	if d.redis != nil {
		hm.RegisterChecker("redis", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}))
	}
	if d.breaker != nil {
		hm.RegisterChecker("curseforge", breakerHealthChecker{breaker: d.breaker})
	}
}

// signalHealthChecker reports healthy while the process is up.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("missing env prefix")
	case c.configName == "":
		return fmt.Errorf("missing config name")
	}
	return nil
}

// metricsHealthChecker verifies the Prometheus registry can be gathered.
type metricsHealthChecker struct {
	gatherer prometheus.Gatherer
}

func (c metricsHealthChecker) CheckHealth(context.Context) error {
	if c.gatherer == nil {
		return fmt.Errorf("metrics registry not initialized")
	}
	if _, err := c.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return nil
}

type breakerState interface {
	State() string
}

// breakerHealthChecker fails while the CurseForge circuit is open.
type breakerHealthChecker struct {
	breaker breakerState
}

func (c breakerHealthChecker) CheckHealth(context.Context) error {
	if c.breaker == nil {
		return nil
	}
	if c.breaker.State() == "open" {
		return fmt.Errorf("CurseForge circuit breaker is open")
	}
	return nil
}

var _ breakerState = (*curseforge.BreakerClient)(nil)
