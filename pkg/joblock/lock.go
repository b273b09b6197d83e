// Package joblock provides a lease-based mutual exclusion lock over a shared
// key-value store, used to keep a named job running on at most one worker.
//
// A Lock is acquired with set-if-absent plus an expiry (the lease), renewed in
// the background with compare-and-extend, and released with
// compare-and-delete. Renewal and release never touch a key whose token no
// longer matches, so a worker that lost its lease cannot disturb the new
// holder.
package joblock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
)

const (
	// KeyPrefix namespaces lock keys in the shared store.
	KeyPrefix = "joblock:"

	// DefaultLease is used when Acquire is given a non-positive lease.
	DefaultLease = 15 * time.Second

	// DefaultEventChannel is the pub/sub channel lock events are published on.
	DefaultEventChannel = "LockMessages/CFLookup"

	// publishTimeout bounds a lock event publish so a stalled pub/sub path
	// cannot hold up acquisition or release.
	publishTimeout = 500 * time.Millisecond
)

var (
	// ErrLockLost is the cancellation cause for contexts bound to a lock
	// whose ownership was lost.
	ErrLockLost = errors.New("lock ownership lost")

	// ErrEmptyName is returned for a blank lock name.
	ErrEmptyName = errors.New("lock name is required")
)

// State is the lifecycle state of a Lock.
type State int32

const (
	StateUnacquired State = iota
	StateHeld
	StateReleasing
	StateReleased
	StateLost
)

func (s State) String() string {
	switch s {
	case StateUnacquired:
		return "unacquired"
	case StateHeld:
		return "held"
	case StateReleasing:
		return "releasing"
	case StateReleased:
		return "released"
	case StateLost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Publisher receives lock lifecycle messages. RedisStore implements it.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// Key returns the store key for a lock name.
func Key(name string) string {
	return KeyPrefix + name
}

// RenewInterval is the cadence at which a held lease is extended.
func RenewInterval(lease time.Duration) time.Duration {
	return lease * 2 / 5
}

// Lock is a held lease on a named job. It is returned by Locker.Acquire and
// must be released with Release.
type Lock struct {
	name   string
	key    string
	token  string
	lease  time.Duration
	store  Store
	events *eventSink
	logger *zap.Logger

	state atomic.Int32

	lost     chan struct{}
	lostOnce sync.Once

	stopRenew   context.CancelFunc
	renewDone   chan struct{}
	releaseOnce sync.Once
}

// Name returns the logical lock name.
func (l *Lock) Name() string { return l.name }

// Key returns the store key the lock is held under.
func (l *Lock) Key() string { return l.key }

// Token returns the owner token written to the store.
func (l *Lock) Token() string { return l.token }

// Lease returns the lease duration.
func (l *Lock) Lease() time.Duration { return l.lease }

// State returns the current lifecycle state.
func (l *Lock) State() State { return State(l.state.Load()) }

// Lost is closed when a renewal finds the key no longer holds this lock's
// token.
func (l *Lock) Lost() <-chan struct{} { return l.lost }

// Bind returns a child of parent that is cancelled with ErrLockLost as its
// cause when ownership is lost. The returned cancel func must be called.
func (l *Lock) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-l.lost:
			cancel(ErrLockLost)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Release stops renewal and deletes the key if this lock still owns it.
//
// Release is idempotent and a no-op on a nil Lock, so the result of a
// contended Acquire can be released unconditionally. Store errors are logged
// and otherwise ignored; the lease expires on its own if the delete did not
// go through.
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	l.releaseOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		l.state.CompareAndSwap(int32(StateHeld), int32(StateReleasing))

		l.stopRenew()
		<-l.renewDone

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.lease)
		defer cancel()

		released, err := l.store.Release(ctx, l.key, l.token)
		switch {
		case err != nil:
			l.logger.Warn("Lock release failed", zap.Error(err))
		case !released:
			l.logger.Debug("Lock already gone at release")
		default:
			l.logger.Debug("Lock released")
			l.events.publish(ctx, "Released lock %s (%s)", l.key, l.token)
		}

		if l.State() != StateLost {
			l.state.Store(int32(StateReleased))
		}
	})
}

func (l *Lock) renewLoop(ctx context.Context) {
	defer close(l.renewDone)

	t := time.NewTicker(RenewInterval(l.lease))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !l.renew(ctx) {
				return
			}
		}
	}
}

// renew extends the lease once. It returns false when renewal must stop.
func (l *Lock) renew(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, l.lease/2)
	defer cancel()

	extended, err := l.store.Extend(callCtx, l.key, l.token, l.lease)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// Transient: try again next tick while the lease may still be valid.
		l.logger.Warn("Lock renewal failed", zap.Error(err))
		return true
	}
	if !extended {
		l.markLost()
		return false
	}
	l.logger.Debug("Lock renewed")
	return true
}

func (l *Lock) markLost() {
	l.lostOnce.Do(func() {
		if !l.state.CompareAndSwap(int32(StateHeld), int32(StateLost)) {
			return
		}
		metrics.LockLost.WithLabelValues(l.name).Inc()
		l.logger.Warn("Lock ownership lost")
		close(l.lost)
	})
}

// Info describes the current holder of a lock as seen in the store.
type Info struct {
	Name      string        `json:"name"`
	Key       string        `json:"key"`
	Held      bool          `json:"held"`
	Owner     string        `json:"owner,omitempty"`
	Remaining time.Duration `json:"remaining_ns,omitempty"`
}

// Locker acquires named locks from a Store.
type Locker struct {
	store  Store
	events *eventSink
	logger *zap.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithPublisher publishes acquire/release messages to channel. An empty
// channel selects DefaultEventChannel.
func WithPublisher(p Publisher, channel string) Option {
	return func(l *Locker) {
		if p == nil {
			return
		}
		if strings.TrimSpace(channel) == "" {
			channel = DefaultEventChannel
		}
		l.events = &eventSink{pub: p, channel: channel, logger: l.logger}
	}
}

// NewLocker returns a Locker over store. A nil logger disables logging.
func NewLocker(store Store, logger *zap.Logger, opts ...Option) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Locker{store: store, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire tries once to take the named lock for lease.
//
// It returns (nil, nil) when another worker holds the lock. A store failure
// returns (nil, err); callers must treat both as "do not run".
func (l *Locker) Acquire(ctx context.Context, name string, lease time.Duration) (*Lock, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if lease <= 0 {
		lease = DefaultLease
	}

	key := Key(name)
	token := uuid.NewString()
	logger := l.logger.With(zap.String("lock", key), zap.String("token", token))

	ok, err := l.store.SetNX(ctx, key, token, lease)
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues(name, "error").Inc()
		logger.Warn("Lock acquisition failed", zap.Error(err))
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		metrics.LockAcquisitions.WithLabelValues(name, "contended").Inc()
		logger.Debug("Lock held elsewhere")
		return nil, nil
	}
	metrics.LockAcquisitions.WithLabelValues(name, "acquired").Inc()

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	lock := &Lock{
		name:      name,
		key:       key,
		token:     token,
		lease:     lease,
		store:     l.store,
		events:    l.events,
		logger:    logger,
		lost:      make(chan struct{}),
		stopRenew: stop,
		renewDone: make(chan struct{}),
	}
	lock.state.Store(int32(StateHeld))
	go lock.renewLoop(renewCtx)

	logger.Debug("Lock acquired", zap.Duration("lease", lease))
	l.events.publish(ctx, "Acquired lock %s (%s) for %s", key, token, lease)
	return lock, nil
}

// Inspect reads the current holder of the named lock.
func (l *Locker) Inspect(ctx context.Context, name string) (Info, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(name) == "" {
		return Info{}, ErrEmptyName
	}

	key := Key(name)
	owner, ttl, err := l.store.Inspect(ctx, key)
	if err != nil {
		return Info{}, fmt.Errorf("inspect lock %s: %w", name, err)
	}
	return Info{
		Name:      name,
		Key:       key,
		Held:      owner != "",
		Owner:     owner,
		Remaining: ttl,
	}, nil
}

// ForceRelease deletes the named lock regardless of owner. It is an
// operator escape hatch; a running holder will observe the loss at its next
// renewal.
func (l *Locker) ForceRelease(ctx context.Context, name string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(name) == "" {
		return false, ErrEmptyName
	}

	key := Key(name)
	deleted, err := l.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("force release %s: %w", name, err)
	}
	if deleted {
		l.logger.Warn("Lock force-released", zap.String("lock", key))
		l.events.publish(ctx, "Force-released lock %s", key)
	}
	return deleted, nil
}

type eventSink struct {
	pub     Publisher
	channel string
	logger  *zap.Logger
}

func (e *eventSink) publish(ctx context.Context, format string, args ...any) {
	if e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.pub.Publish(ctx, e.channel, fmt.Sprintf(format, args...)); err != nil {
		e.logger.Debug("Lock event publish failed", zap.Error(err))
	}
}
