package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a SyncRun.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess indicates the run completed successfully.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates the run completed but skipped some data.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed indicates the run failed.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was stopped before finishing.
	RunStatusCancelled RunStatus = "cancelled"
)

// Trigger sources recorded in sync_runs.triggered_by.
const (
	TriggerCron   = "cron"
	TriggerChain  = "chain"
	TriggerManual = "manual"
)

// SyncRun is one execution of a sync job.
type SyncRun struct {
	RunID          string
	JobName        string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         RunStatus
	TriggeredBy    string
	BucketsScanned int64
	RowsWritten    int64
	BatchesDropped int64
	RemoteErrors   int64
	Error          string
}

// RunResult carries the outcome recorded by FinishSyncRun.
type RunResult struct {
	Status         RunStatus
	BucketsScanned int64
	RowsWritten    int64
	BatchesDropped int64
	RemoteErrors   int64
	Error          string
}

// EventCategory groups events by severity.
type EventCategory string

const (
	EventCategoryInfo    EventCategory = "info"
	EventCategoryWarning EventCategory = "warning"
	EventCategoryError   EventCategory = "error"
)

// RunEvent is a notable occurrence during a SyncRun.
type RunEvent struct {
	EventID       string
	RunID         string
	OccurredAt    time.Time
	EventType     string
	EventCategory EventCategory
	BucketStart   *int64
	Detail        *string
}

// CreateSyncRun creates a new SyncRun in running status.
func (s *Store) CreateSyncRun(ctx context.Context, jobName, triggeredBy string) (*SyncRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	run := &SyncRun{
		RunID:       "run_" + uuid.NewString(),
		JobName:     jobName,
		StartedAt:   now,
		Status:      RunStatusRunning,
		TriggeredBy: triggeredBy,
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO sync_runs (run_id, job_name, started_at, status, triggered_by)
		 VALUES (?, ?, ?, ?, ?)`),
		run.RunID, run.JobName, s.dialect.timeArg(now), string(run.Status), nullString(triggeredBy))
	if err != nil {
		return nil, fmt.Errorf("create sync_run: %w", err)
	}
	return run, nil
}

// FinishSyncRun records the outcome and end time of a run.
func (s *Store) FinishSyncRun(ctx context.Context, runID string, res RunResult) error {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE sync_runs
		 SET status = ?, ended_at = ?, buckets_scanned = ?, rows_written = ?,
		     batches_dropped = ?, remote_errors = ?, error = ?
		 WHERE run_id = ?`),
		string(res.Status), s.dialect.timeArg(time.Now()), res.BucketsScanned, res.RowsWritten,
		res.BatchesDropped, res.RemoteErrors, nullString(res.Error), runID)
	if err != nil {
		return fmt.Errorf("finish sync_run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish sync_run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const syncRunColumns = `run_id, job_name, started_at, ended_at, status, triggered_by,
	buckets_scanned, rows_written, batches_dropped, remote_errors, error`

// GetSyncRun retrieves a run by ID.
func (s *Store) GetSyncRun(ctx context.Context, runID string) (*SyncRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+syncRunColumns+` FROM sync_runs WHERE run_id = ?`), runID)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync_run: %w", err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs, newest first. An empty
// jobName lists every job.
func (s *Store) ListSyncRuns(ctx context.Context, jobName string, limit int) ([]SyncRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + syncRunColumns + ` FROM sync_runs`
	var args []any
	if jobName != "" {
		query += ` WHERE job_name = ?`
		args = append(args, jobName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sync_runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync_run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync_runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (*SyncRun, error) {
	var run SyncRun
	var startedAt, endedAt any
	var status string
	var triggeredBy, errMsg sql.NullString

	if err := row.Scan(
		&run.RunID, &run.JobName, &startedAt, &endedAt, &status, &triggeredBy,
		&run.BucketsScanned, &run.RowsWritten, &run.BatchesDropped, &run.RemoteErrors, &errMsg); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = parseDBTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseOptionalDBTime(endedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.TriggeredBy = triggeredBy.String
	run.Error = errMsg.String
	return &run, nil
}

// RecordRunEvent records an event for a SyncRun. Missing IDs and
// timestamps are filled in.
func (s *Store) RecordRunEvent(ctx context.Context, event RunEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.EventCategory == "" {
		event.EventCategory = EventCategoryInfo
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO sync_run_events
		 (event_id, run_id, occurred_at, event_type, event_category, bucket_start, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		event.EventID, event.RunID, s.dialect.timeArg(event.OccurredAt),
		event.EventType, string(event.EventCategory), event.BucketStart, event.Detail)
	if err != nil {
		return fmt.Errorf("record run event: %w", err)
	}
	return nil
}

// ListRunEvents retrieves events for a run in occurrence order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT event_id, run_id, occurred_at, event_type, event_category, bucket_start, detail
		 FROM sync_run_events
		 WHERE run_id = ?
		 ORDER BY occurred_at ASC, event_id ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var occurredAt any
		var category string
		var bucketStart sql.NullInt64
		var detail sql.NullString

		if err := rows.Scan(&e.EventID, &e.RunID, &occurredAt, &e.EventType, &category, &bucketStart, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if e.OccurredAt, err = parseDBTime(occurredAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.EventCategory = EventCategory(category)
		if bucketStart.Valid {
			e.BucketStart = &bucketStart.Int64
		}
		if detail.Valid {
			e.Detail = &detail.String
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return events, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
