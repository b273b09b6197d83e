// Package supervisor runs the long-lived services of `cflookup serve`
// under a suture supervisor tree.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// Config holds supervisor tree configuration.
type Config struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the wait once the threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout bounds how long each service gets to stop.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultConfig returns suture's stock failure settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree separates background work from the HTTP surface so a crashing job
// runner never takes the API down with it.
//
//   - jobs: the sync job runner
//   - api: HTTP and metrics listeners
type Tree struct {
	root *suture.Supervisor
	jobs *suture.Supervisor
	api  *suture.Supervisor
}

// New builds an empty tree. A nil logger discards supervisor events.
func New(logger *zap.Logger, cfg Config) *Tree {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = eventHook(logger)

	root := suture.New("cflookup", rootSpec)
	jobs := suture.New("jobs", spec)
	api := suture.New("api", spec)
	root.Add(jobs)
	root.Add(api)

	return &Tree{root: root, jobs: jobs, api: api}
}

func eventHook(logger *zap.Logger) func(suture.Event) {
	return func(event suture.Event) {
		switch evt := event.(type) {
		case suture.EventBackoff:
			logger.Warn("Supervisor entering backoff", zap.String("supervisor", evt.SupervisorName))
		case suture.EventResume:
			logger.Info("Supervisor resuming", zap.String("supervisor", evt.SupervisorName))
		case suture.EventServicePanic:
			logger.Error("Supervised service panicked",
				zap.String("supervisor", evt.SupervisorName),
				zap.String("service", evt.ServiceName),
				zap.Float64("failures", evt.CurrentFailures),
				zap.Bool("restarting", evt.Restarting),
				zap.String("panic", evt.PanicMsg),
				zap.String("stacktrace", evt.Stacktrace))
		case suture.EventServiceTerminate:
			logger.Warn("Supervised service stopped",
				zap.String("supervisor", evt.SupervisorName),
				zap.String("service", evt.ServiceName),
				zap.Float64("failures", evt.CurrentFailures),
				zap.Bool("restarting", evt.Restarting),
				zap.Any("error", evt.Err))
		case suture.EventStopTimeout:
			logger.Error("Supervised service did not stop in time",
				zap.String("supervisor", evt.SupervisorName),
				zap.String("service", evt.ServiceName))
		default:
			logger.Info("Supervisor event", zap.String("event", event.String()))
		}
	}
}

// AddJobService adds a service to the jobs layer.
func (t *Tree) AddJobService(svc suture.Service) suture.ServiceToken {
	return t.jobs.Add(svc)
}

// AddAPIService adds a service to the api layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a goroutine. The channel receives the
// tree's exit error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
