// Package ingest implements the bucketed bulk-upsert pipeline that mirrors
// a remote ID space into the relational store.
//
// A run walks the ID space bucket by bucket, strictly in order:
//   - Fetch: one remote call per bucket with every ID in it
//   - Map: each returned record becomes a row
//   - Write: rows are committed in batches with bounded retry
//
// A run ends when the range is exhausted, when a configured number of
// consecutive buckets come back empty, or when its context is cancelled.
// Work committed before cancellation stands.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
	"github.com/CurseForgeCommunity/CFLookup/pkg/bucket"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/notify"
)

// Fetcher retrieves the records that exist for ids. Missing IDs are simply
// absent from the result.
type Fetcher[T any] func(ctx context.Context, ids []int64) ([]T, error)

// Mapper converts a fetched record into a store row.
type Mapper[T, R any] func(record T) (R, error)

// Writer commits rows. Each call is one unit of work: it either commits
// every row or none. Implementations must not retain rows.
type Writer[R any] interface {
	WriteBatch(ctx context.Context, rows []R) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc[R any] func(ctx context.Context, rows []R) error

func (f WriterFunc[R]) WriteBatch(ctx context.Context, rows []R) error { return f(ctx, rows) }

// Config configures a pipeline run.
type Config struct {
	// Name labels logs, metrics and notifications (e.g. "projects").
	Name string

	// Lower is the first ID scanned. Default: 1
	Lower int64

	// Upper is the exclusive end of the scan. Default: bucket.MaxRemoteID+1
	Upper int64

	// BucketSize is the number of IDs requested per remote call.
	// Default: 10000
	BucketSize int64

	// BatchSize is the number of rows committed per write.
	// Default: 1000
	BatchSize int

	// EmptyBucketThreshold stops the run after this many consecutive
	// buckets return nothing. Default: 25
	EmptyBucketThreshold int

	// RetryAttempts is the total number of write attempts per batch.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the wait unit between attempts; attempt n waits
	// n*RetryBackoff before attempt n+1. Default: 1s
	RetryBackoff time.Duration

	// IsNotFound classifies fetch errors that mean "nothing in this
	// bucket". Default: curseforge.IsNotFound
	IsNotFound func(error) bool
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Lower:                1,
		Upper:                bucket.MaxRemoteID + 1,
		BucketSize:           10_000,
		BatchSize:            1000,
		EmptyBucketThreshold: 25,
		RetryAttempts:        3,
		RetryBackoff:         time.Second,
		IsNotFound:           curseforge.IsNotFound,
	}
}

// Summary contains aggregate statistics from a pipeline run.
type Summary struct {
	Name             string        `json:"name"`
	BucketsScanned   int64         `json:"buckets_scanned"`
	EmptyBuckets     int64         `json:"empty_buckets"`
	RecordsFetched   int64         `json:"records_fetched"`
	MapErrors        int64         `json:"map_errors"`
	RowsWritten      int64         `json:"rows_written"`
	BatchesCommitted int64         `json:"batches_committed"`
	BatchesDropped   int64         `json:"batches_dropped"`
	BatchRetries     int64         `json:"batch_retries"`
	RemoteErrors     int64         `json:"remote_errors"`
	LastNonEmptyEnd  int64         `json:"last_non_empty_end"`
	StoppedEarly     bool          `json:"stopped_early"`
	Duration         time.Duration `json:"duration_ns"`
}

// Partial reports whether some data was skipped during the run.
func (s *Summary) Partial() bool {
	return s.BatchesDropped > 0 || s.RemoteErrors > 0 || s.MapErrors > 0
}

// EventType identifies pipeline events delivered to an observer.
type EventType string

const (
	EventRemoteError  EventType = "remote_error"
	EventBatchRetry   EventType = "batch_retry"
	EventBatchDropped EventType = "batch_dropped"
	EventEmptyStop    EventType = "empty_stop"
)

// Event is a notable occurrence during a run.
type Event struct {
	Type   EventType
	Bucket bucket.Bucket
	Detail string
	Err    error
}

// Pipeline runs one bulk upsert job.
//
// Pipeline is safe for single use only. Create a new Pipeline for each run.
type Pipeline[T, R any] struct {
	fetch    Fetcher[T]
	mapFn    Mapper[T, R]
	writer   Writer[R]
	notifier notify.Notifier
	observe  func(Event)
	config   Config
	logger   *zap.Logger

	bucketsScanned   atomic.Int64
	emptyBuckets     atomic.Int64
	recordsFetched   atomic.Int64
	mapErrors        atomic.Int64
	rowsWritten      atomic.Int64
	batchesCommitted atomic.Int64
	batchesDropped   atomic.Int64
	batchRetries     atomic.Int64
	remoteErrors     atomic.Int64
	lastNonEmptyEnd  atomic.Int64
	stoppedEarly     atomic.Bool
}

// New creates a pipeline. Zero-valued Config fields take their defaults.
func New[T, R any](fetch Fetcher[T], mapFn Mapper[T, R], writer Writer[R], notifier notify.Notifier, cfg Config, logger *zap.Logger) *Pipeline[T, R] {
	def := DefaultConfig()
	if cfg.Lower <= 0 {
		cfg.Lower = def.Lower
	}
	if cfg.Upper <= 0 {
		cfg.Upper = def.Upper
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.EmptyBucketThreshold <= 0 {
		cfg.EmptyBucketThreshold = def.EmptyBucketThreshold
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.IsNotFound == nil {
		cfg.IsNotFound = def.IsNotFound
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline[T, R]{
		fetch:    fetch,
		mapFn:    mapFn,
		writer:   writer,
		notifier: notifier,
		observe:  func(Event) {},
		config:   cfg,
		logger:   logger.With(zap.String("job", cfg.Name)),
	}
}

// WithObserver registers fn to receive run events.
func (p *Pipeline[T, R]) WithObserver(fn func(Event)) *Pipeline[T, R] {
	if fn != nil {
		p.observe = fn
	}
	return p
}

// Config returns the effective configuration.
func (p *Pipeline[T, R]) Config() Config {
	return p.config
}

// Run executes the scan.
//
// Remote and write failures are reported and skipped; Run only returns an
// error on cancellation (the context error) or on an unexpected failure,
// which is also sent to the notifier. The summary is always non-nil.
func (p *Pipeline[T, R]) Run(ctx context.Context) (summary *Summary, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline %s panicked: %v", p.config.Name, r)
			p.logger.Error("Pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		if err != nil && !isCancellation(err) {
			p.notifier.Notify(ctx, fmt.Sprintf("Exception: %v", err))
		}
		summary = p.buildSummary(time.Since(start))
	}()

	p.logger.Info("Sync run started",
		zap.Int64("lower", p.config.Lower),
		zap.Int64("upper", p.config.Upper),
		zap.Int64("bucket_size", p.config.BucketSize))

	emptyRun := 0
	for b := range bucket.Generate(p.config.Lower, p.config.Upper, p.config.BucketSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := p.fetchBucket(ctx, b)
		if err != nil {
			return nil, err
		}
		p.bucketsScanned.Add(1)
		metrics.SyncBucketsScanned.WithLabelValues(p.config.Name).Inc()

		if len(records) == 0 {
			p.emptyBuckets.Add(1)
			emptyRun++
			if emptyRun >= p.config.EmptyBucketThreshold {
				p.stoppedEarly.Store(true)
				p.observe(Event{Type: EventEmptyStop, Bucket: b, Detail: fmt.Sprintf("%d consecutive empty buckets", emptyRun)})
				p.logger.Info("Empty bucket threshold reached",
					zap.Int("empty_run", emptyRun),
					zap.Int64("bucket_start", b.Start))
				break
			}
			continue
		}
		emptyRun = 0
		p.recordsFetched.Add(int64(len(records)))
		p.lastNonEmptyEnd.Store(b.End())

		if err := p.writeBucket(ctx, b, records); err != nil {
			return nil, err
		}

		p.logger.Debug("Bucket stored",
			zap.Int64("bucket_start", b.Start),
			zap.Int("records", len(records)))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("Sync run finished",
		zap.Int64("buckets", p.bucketsScanned.Load()),
		zap.Int64("rows", p.rowsWritten.Load()),
		zap.Int64("dropped_batches", p.batchesDropped.Load()),
		zap.Bool("stopped_early", p.stoppedEarly.Load()))
	return nil, nil
}

// fetchBucket returns the bucket's records. Remote failures other than
// cancellation are reported and yield an empty result.
func (p *Pipeline[T, R]) fetchBucket(ctx context.Context, b bucket.Bucket) ([]T, error) {
	records, err := p.fetch(ctx, b.IDs())
	if err == nil {
		return records, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if p.config.IsNotFound(err) {
		return nil, nil
	}

	p.remoteErrors.Add(1)
	metrics.SyncRemoteErrors.WithLabelValues(p.config.Name).Inc()
	p.logger.Warn("Bucket fetch failed",
		zap.Int64("bucket_start", b.Start),
		zap.Int64("bucket_count", b.Count),
		zap.Error(err))
	p.observe(Event{Type: EventRemoteError, Bucket: b, Err: err})
	p.notifier.Notify(ctx, remoteErrorMessage(err))

	// The bucket counts as empty; some records may have been returned
	// alongside the error, but they are not trusted.
	return nil, nil
}

func remoteErrorMessage(err error) string {
	var apiErr *curseforge.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("The CF API threw an error at me: **%d**: %s", apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Sprintf("The CF API threw an error at me: %v", err)
}

// writeBucket maps records and commits them in BatchSize chunks, with a
// final flush for the remainder.
func (p *Pipeline[T, R]) writeBucket(ctx context.Context, b bucket.Bucket, records []T) error {
	batch := make([]R, 0, min(len(records), p.config.BatchSize))
	for _, rec := range records {
		row, err := p.mapFn(rec)
		if err != nil {
			p.mapErrors.Add(1)
			p.logger.Warn("Record mapping failed", zap.Int64("bucket_start", b.Start), zap.Error(err))
			continue
		}
		batch = append(batch, row)

		if len(batch) >= p.config.BatchSize {
			p.commit(ctx, b, batch)
			if err := ctx.Err(); err != nil {
				return err
			}
			batch = make([]R, 0, p.config.BatchSize)
		}
	}

	if len(batch) > 0 {
		p.commit(ctx, b, batch)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// commit writes one batch with bounded linear-backoff retry. A batch that
// fails every attempt is dropped.
func (p *Pipeline[T, R]) commit(ctx context.Context, b bucket.Bucket, rows []R) bool {
	attempt := 0
	op := func() error {
		attempt++
		err := p.writer.WriteBatch(ctx, rows)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: p.config.RetryBackoff}, uint64(p.config.RetryAttempts-1)),
		ctx,
	)
	onRetry := func(err error, wait time.Duration) {
		p.batchRetries.Add(1)
		metrics.SyncBatches.WithLabelValues(p.config.Name, "retried").Inc()
		p.observe(Event{Type: EventBatchRetry, Bucket: b, Err: err, Detail: fmt.Sprintf("attempt %d", attempt)})
		p.logger.Warn("Batch write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Int("rows", len(rows)),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, onRetry); err != nil {
		p.batchesDropped.Add(1)
		metrics.SyncBatches.WithLabelValues(p.config.Name, "dropped").Inc()
		p.observe(Event{Type: EventBatchDropped, Bucket: b, Err: err, Detail: fmt.Sprintf("%d rows after %d attempts", len(rows), attempt)})
		p.logger.Error("Batch dropped",
			zap.Int64("bucket_start", b.Start),
			zap.Int("rows", len(rows)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return false
	}

	p.batchesCommitted.Add(1)
	p.rowsWritten.Add(int64(len(rows)))
	metrics.SyncBatches.WithLabelValues(p.config.Name, "committed").Inc()
	metrics.SyncRowsWritten.WithLabelValues(p.config.Name).Add(float64(len(rows)))
	return true
}

func (p *Pipeline[T, R]) buildSummary(duration time.Duration) *Summary {
	return &Summary{
		Name:             p.config.Name,
		BucketsScanned:   p.bucketsScanned.Load(),
		EmptyBuckets:     p.emptyBuckets.Load(),
		RecordsFetched:   p.recordsFetched.Load(),
		MapErrors:        p.mapErrors.Load(),
		RowsWritten:      p.rowsWritten.Load(),
		BatchesCommitted: p.batchesCommitted.Load(),
		BatchesDropped:   p.batchesDropped.Load(),
		BatchRetries:     p.batchRetries.Load(),
		RemoteErrors:     p.remoteErrors.Load(),
		LastNonEmptyEnd:  p.lastNonEmptyEnd.Load(),
		StoppedEarly:     p.stoppedEarly.Load(),
		Duration:         duration,
	}
}

// linearBackOff waits n*step before the n-th retry.
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linearBackOff) Reset() { l.n = 0 }

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
