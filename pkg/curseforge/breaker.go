package curseforge

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
)

// BreakerConfig configures the circuit breaker around the API.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns breaker settings tuned for bulk scans: a
// handful of consecutive server failures opens the circuit for a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "curseforge",
		MaxRequests:      1,
		Interval:         2 * time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 5,
	}
}

// BreakerClient guards an API with a circuit breaker. 404 responses count
// as successes so sparse ID ranges never trip it.
type BreakerClient struct {
	api    API
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	logger *zap.Logger
}

// NewBreakerClient wraps api.
func NewBreakerClient(api API, cfg BreakerConfig, logger *zap.Logger) *BreakerClient {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsNotFound(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return &BreakerClient{
		api:    api,
		cb:     gobreaker.NewCircuitBreaker[any](settings),
		name:   cfg.Name,
		logger: logger,
	}
}

// State returns the breaker state ("closed", "half-open", "open").
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

func execute[T any](b *BreakerClient, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	case err != nil && !IsNotFound(err):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	}

	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

func (b *BreakerClient) GetModsByIDs(ctx context.Context, ids []int64, filterPCOnly bool) ([]Mod, error) {
	return execute(b, func() ([]Mod, error) { return b.api.GetModsByIDs(ctx, ids, filterPCOnly) })
}

func (b *BreakerClient) GetFilesByIDs(ctx context.Context, ids []int64) ([]File, error) {
	return execute(b, func() ([]File, error) { return b.api.GetFilesByIDs(ctx, ids) })
}

func (b *BreakerClient) GetMod(ctx context.Context, modID int64) (*Mod, error) {
	return execute(b, func() (*Mod, error) { return b.api.GetMod(ctx, modID) })
}

func (b *BreakerClient) GetModFile(ctx context.Context, modID, fileID int64) (*File, error) {
	return execute(b, func() (*File, error) { return b.api.GetModFile(ctx, modID, fileID) })
}

func (b *BreakerClient) GetModFileChangelog(ctx context.Context, modID, fileID int64) (string, error) {
	return execute(b, func() (string, error) { return b.api.GetModFileChangelog(ctx, modID, fileID) })
}

func (b *BreakerClient) GetGames(ctx context.Context) ([]Game, error) {
	return execute(b, func() ([]Game, error) { return b.api.GetGames(ctx) })
}

func (b *BreakerClient) GetGame(ctx context.Context, gameID int64) (*Game, error) {
	return execute(b, func() (*Game, error) { return b.api.GetGame(ctx, gameID) })
}

func (b *BreakerClient) GetCategories(ctx context.Context, gameID int64, classesOnly bool) ([]Category, error) {
	return execute(b, func() ([]Category, error) { return b.api.GetCategories(ctx, gameID, classesOnly) })
}

func (b *BreakerClient) SearchModsBySlug(ctx context.Context, gameID, classID int64, slug string) ([]Mod, error) {
	return execute(b, func() ([]Mod, error) { return b.api.SearchModsBySlug(ctx, gameID, classID, slug) })
}

type searchPage struct {
	mods []Mod
	page *Pagination
}

func (b *BreakerClient) SearchMods(ctx context.Context, q SearchQuery) ([]Mod, *Pagination, error) {
	res, err := execute(b, func() (searchPage, error) {
		mods, page, err := b.api.SearchMods(ctx, q)
		return searchPage{mods: mods, page: page}, err
	})
	return res.mods, res.page, err
}

func (b *BreakerClient) GetGameVersionTypes(ctx context.Context, gameID int64) ([]GameVersionType, error) {
	return execute(b, func() ([]GameVersionType, error) { return b.api.GetGameVersionTypes(ctx, gameID) })
}

func (b *BreakerClient) GetGameVersions(ctx context.Context, gameID int64) ([]GameVersions, error) {
	return execute(b, func() ([]GameVersions, error) { return b.api.GetGameVersions(ctx, gameID) })
}

var _ API = (*BreakerClient)(nil)
