// Package jobs runs named sync jobs under the distributed job lock.
//
// A Runner owns the schedule: cron triggers, manual triggers and the
// delayed follow-up each job requests when it finishes. Every invocation
// holds the job's lock for its whole duration, so at most one instance of
// a job name runs across all workers sharing the lock store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
	"github.com/CurseForgeCommunity/CFLookup/pkg/ingest"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/notify"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

var (
	// ErrUnknownJob is returned for a name that was never registered.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyRunning means another worker holds the job's lock.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrLockUnavailable means the lock store could not be reached. The job
	// does not run.
	ErrLockUnavailable = errors.New("job lock unavailable")

	// ErrNotServing is returned by Trigger and ScheduleAfter outside Serve.
	ErrNotServing = errors.New("job runner is not serving")
)

// RunFunc performs one invocation. observe receives pipeline events for
// the run's event log; it is never nil.
type RunFunc func(ctx context.Context, observe func(ingest.Event)) (*ingest.Summary, error)

// Job is a named unit of scheduled work.
type Job struct {
	// Name is the job and lock name.
	Name string

	// Schedule is an optional standard five-field cron expression.
	Schedule string

	// Lease is the lock lease. Default: joblock.DefaultLease
	Lease time.Duration

	// RunOnStart triggers the job as soon as the runner starts serving.
	RunOnStart bool

	// Next is the job scheduled after every completed invocation, whether
	// it succeeded or not. Empty means none.
	Next string

	// NextDelay is how long after completion Next is triggered.
	NextDelay time.Duration

	Run RunFunc
}

// RunStore records sync run history. *syncstore.Store implements it.
type RunStore interface {
	CreateSyncRun(ctx context.Context, jobName, triggeredBy string) (*syncstore.SyncRun, error)
	FinishSyncRun(ctx context.Context, runID string, res syncstore.RunResult) error
	RecordRunEvent(ctx context.Context, event syncstore.RunEvent) error
}

// Outcome describes a finished invocation.
type Outcome struct {
	Job      string
	RunID    string
	Status   syncstore.RunStatus
	Summary  *ingest.Summary
	Duration time.Duration
	Err      error
}

// Runner dispatches registered jobs.
type Runner struct {
	locker   *joblock.Locker
	runs     RunStore
	notifier notify.Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	pending map[string]*time.Timer
	serving context.Context
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. runs may be nil to skip run bookkeeping.
func NewRunner(locker *joblock.Locker, runs RunStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		locker:   locker,
		runs:     runs,
		notifier: notify.Nop{},
		logger:   logger,
		jobs:     make(map[string]Job),
		pending:  make(map[string]*time.Timer),
	}
}

// WithNotifier sets where lock loss is reported. Call before Serve.
func (r *Runner) WithNotifier(n notify.Notifier) *Runner {
	if n == nil {
		n = notify.Nop{}
	}
	r.notifier = n
	return r
}

// Register adds a job. Names must be unique and schedules must parse.
func (r *Runner) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return joblock.ErrEmptyName
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func is required", job.Name)
	}
	if job.Schedule != "" {
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}
	if job.Lease <= 0 {
		job.Lease = joblock.DefaultLease
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	r.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered jobs sorted by name.
func (r *Runner) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// JobNames returns the registered job names, sorted.
func (r *Runner) JobNames() []string {
	jobs := r.Jobs()
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	return names
}

// Pending returns the names with a delayed trigger outstanding.
func (r *Runner) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for name := range r.pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) job(name string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	return j, ok
}

// String names the runner in the supervisor tree.
func (r *Runner) String() string { return "job-runner" }

// Serve runs cron schedules and dispatches triggers until ctx is done, then
// waits for in-flight jobs to observe the cancellation.
func (r *Runner) Serve(ctx context.Context) error {
	r.mu.Lock()
	if r.serving != nil {
		r.mu.Unlock()
		return errors.New("job runner is already serving")
	}
	r.serving = ctx

	c := cron.New()
	var startup []string
	for name, job := range r.jobs {
		if job.Schedule != "" {
			if _, err := c.AddFunc(job.Schedule, func() { r.startLogged(name, syncstore.TriggerCron) }); err != nil {
				r.serving = nil
				r.mu.Unlock()
				return fmt.Errorf("schedule %s: %w", name, err)
			}
		}
		if job.RunOnStart {
			startup = append(startup, name)
		}
	}
	r.mu.Unlock()

	c.Start()
	r.logger.Info("Job runner started", zap.Int("jobs", len(r.Jobs())))
	for _, name := range startup {
		r.startLogged(name, syncstore.TriggerManual)
	}

	<-ctx.Done()

	<-c.Stop().Done()
	r.mu.Lock()
	for name, t := range r.pending {
		t.Stop()
		delete(r.pending, name)
	}
	r.serving = nil
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Job runner stopped")
	return ctx.Err()
}

// Trigger starts the named job in the background.
func (r *Runner) Trigger(name string) error {
	return r.start(name, syncstore.TriggerManual)
}

// ScheduleAfter triggers the named job once after d. It reports false when
// a delayed trigger for the job is already pending; at most one is kept
// per name.
func (r *Runner) ScheduleAfter(name string, d time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serving == nil {
		return false, ErrNotServing
	}
	if _, ok := r.jobs[name]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if _, ok := r.pending[name]; ok {
		return false, nil
	}

	r.pending[name] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.pending, name)
		r.mu.Unlock()
		r.startLogged(name, syncstore.TriggerChain)
	})
	r.logger.Debug("Job scheduled", zap.String("job", name), zap.Duration("delay", d))
	return true, nil
}

func (r *Runner) startLogged(name, trigger string) {
	if err := r.start(name, trigger); err != nil && !errors.Is(err, ErrNotServing) {
		r.logger.Warn("Job trigger failed", zap.String("job", name), zap.Error(err))
	}
}

func (r *Runner) start(name, trigger string) error {
	r.mu.Lock()
	ctx := r.serving
	if ctx == nil {
		r.mu.Unlock()
		return ErrNotServing
	}
	if _, ok := r.jobs[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.dispatch(ctx, name, trigger)
	}()
	return nil
}

// dispatch runs a job and schedules its follow-up. Contended runs do not
// schedule anything: the worker holding the lock does.
func (r *Runner) dispatch(ctx context.Context, name, trigger string) {
	_, err := r.RunOnce(ctx, name, trigger)
	if errors.Is(err, ErrAlreadyRunning) || ctx.Err() != nil {
		return
	}

	job, ok := r.job(name)
	if !ok || job.Next == "" {
		return
	}
	if _, err := r.ScheduleAfter(job.Next, job.NextDelay); err != nil && !errors.Is(err, ErrNotServing) {
		r.logger.Warn("Follow-up scheduling failed", zap.String("job", name), zap.String("next", job.Next), zap.Error(err))
	}
}

// RunOnce runs the named job synchronously under its lock.
//
// It returns ErrAlreadyRunning when another worker holds the lock and
// ErrLockUnavailable when the lock store fails; in both cases the job does
// not run and the Outcome is nil. Otherwise the Outcome is non-nil and the
// returned error is the job's error.
func (r *Runner) RunOnce(ctx context.Context, name, trigger string) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	job, ok := r.job(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	logger := r.logger.With(zap.String("job", name), zap.String("trigger", trigger))

	lock, err := r.locker.Acquire(ctx, name, job.Lease)
	if err != nil {
		logger.Warn("Job skipped, lock store unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if lock == nil {
		logger.Info("Job skipped, already running elsewhere")
		return nil, ErrAlreadyRunning
	}
	defer lock.Release(ctx)

	jobCtx, cancel := lock.Bind(ctx)
	defer cancel()

	start := time.Now()
	runID := r.createRun(ctx, name, trigger, logger)
	observe := func(ev ingest.Event) { r.recordEvent(ctx, runID, ev, logger) }

	summary, runErr := invoke(jobCtx, job, observe)
	if runErr != nil && errors.Is(context.Cause(jobCtx), joblock.ErrLockLost) {
		runErr = fmt.Errorf("%w: %w", joblock.ErrLockLost, runErr)
		r.notifier.Notify(context.WithoutCancel(ctx), fmt.Sprintf(
			"Job %s was stopped because its lock was lost; another worker may now be running it.", name))
	}

	out := &Outcome{
		Job:      name,
		RunID:    runID,
		Status:   classify(summary, runErr),
		Summary:  summary,
		Duration: time.Since(start),
		Err:      runErr,
	}
	r.finishRun(ctx, out, logger)
	metrics.RecordSyncRun(name, string(out.Status), out.Duration)

	fields := []zap.Field{zap.String("status", string(out.Status)), zap.Duration("duration", out.Duration)}
	if runErr != nil {
		logger.Warn("Job finished with error", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("Job finished", fields...)
	}
	return out, runErr
}

func invoke(ctx context.Context, job Job, observe func(ingest.Event)) (summary *ingest.Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", job.Name, rec, debug.Stack())
		}
	}()
	return job.Run(ctx, observe)
}

func classify(summary *ingest.Summary, err error) syncstore.RunStatus {
	switch {
	case err == nil && summary != nil && summary.Partial():
		return syncstore.RunStatusPartial
	case err == nil:
		return syncstore.RunStatusSuccess
	case errors.Is(err, joblock.ErrLockLost):
		return syncstore.RunStatusFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syncstore.RunStatusCancelled
	default:
		return syncstore.RunStatusFailed
	}
}

func (r *Runner) createRun(ctx context.Context, name, trigger string, logger *zap.Logger) string {
	if r.runs == nil {
		return ""
	}
	run, err := r.runs.CreateSyncRun(ctx, name, trigger)
	if err != nil {
		logger.Warn("Sync run record not created", zap.Error(err))
		return ""
	}
	return run.RunID
}

func (r *Runner) finishRun(ctx context.Context, out *Outcome, logger *zap.Logger) {
	if r.runs == nil || out.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	res := syncstore.RunResult{Status: out.Status}
	if s := out.Summary; s != nil {
		res.BucketsScanned = s.BucketsScanned
		res.RowsWritten = s.RowsWritten
		res.BatchesDropped = s.BatchesDropped
		res.RemoteErrors = s.RemoteErrors
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if err := r.runs.FinishSyncRun(ctx, out.RunID, res); err != nil {
		logger.Warn("Sync run record not finished", zap.String("run_id", out.RunID), zap.Error(err))
	}
}

func (r *Runner) recordEvent(ctx context.Context, runID string, ev ingest.Event, logger *zap.Logger) {
	if r.runs == nil || runID == "" {
		return
	}
	category := syncstore.EventCategoryWarning
	switch ev.Type {
	case ingest.EventEmptyStop:
		category = syncstore.EventCategoryInfo
	case ingest.EventBatchDropped:
		category = syncstore.EventCategoryError
	}

	detail := ev.Detail
	if ev.Err != nil {
		if detail != "" {
			detail += ": "
		}
		detail += ev.Err.Error()
	}
	start := ev.Bucket.Start

	err := r.runs.RecordRunEvent(context.WithoutCancel(ctx), syncstore.RunEvent{
		RunID:         runID,
		EventType:     string(ev.Type),
		EventCategory: category,
		BucketStart:   &start,
		Detail:        &detail,
	})
	if err != nil {
		logger.Debug("Run event not recorded", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
