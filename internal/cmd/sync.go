package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/CurseForgeCommunity/CFLookup/pkg/jobs"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync job once",
	Long: `Run one sync job to completion under its distributed lock, then exit.

The run is recorded in sync_runs with trigger "manual". If another worker
holds the job's lock the command exits without running. Follow-up jobs
are not chained; use serve for the scheduled cycle.

Examples:
  cflookup sync projects
  cflookup sync files --lower 5000000 --upper 5100000
  cflookup sync projects --json`,
}

var syncProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Mirror every project into project_data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd, jobs.JobSyncProjects)
	},
}

var syncFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Mirror every file into file_data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd, jobs.JobSyncFiles)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	for _, c := range []*cobra.Command{syncProjectsCmd, syncFilesCmd} {
		syncCmd.AddCommand(c)
		c.Flags().Int64("lower", 0, "First ID to scan (default from config)")
		c.Flags().Int64("upper", 0, "Exclusive end of the scan (default: derived from stored IDs)")
		c.Flags().Int64("bucket-size", 0, "IDs per remote request (default from config)")
		c.Flags().Bool("json", false, "Print the run outcome as JSON")
	}
}

func runSync(cmd *cobra.Command, job string) error {
	if err := requireWritable("sync " + job); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	lower, _ := cmd.Flags().GetInt64("lower")
	upper, _ := cmd.Flags().GetInt64("upper")
	size, _ := cmd.Flags().GetInt64("bucket-size")
	if lower < 0 || upper < 0 || size < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan range", fmt.Errorf("--lower, --upper and --bucket-size must not be negative"))
	}
	if upper > 0 && lower > 0 && upper <= lower {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan range", fmt.Errorf("--upper must be greater than --lower"))
	}

	d, err := openDeps(ctx, needRedis|needStore|needAPI)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize dependencies", err)
	}
	defer func() { _ = d.Close() }()

	cfg := *d.cfg
	jc := &cfg.Sync.Projects
	if job == jobs.JobSyncFiles {
		jc = &cfg.Sync.Files
	}
	if lower > 0 {
		jc.LowerBound = lower
	}
	if upper > 0 {
		jc.UpperBound = upper
	}
	if size > 0 {
		jc.BucketSize = size
	}
	d.cfg = &cfg

	runner, err := d.runner()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job configuration", err)
	}

	outcome, err := runner.RunOnce(ctx, job, syncstore.TriggerManual)
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		return exitError(foundry.ExitExternalServiceUnavailable, "Job is already running on another worker", err)
	case errors.Is(err, jobs.ErrLockUnavailable):
		return exitError(foundry.ExitExternalServiceUnavailable, "Lock store unavailable", err)
	case outcome == nil && err != nil:
		return exitError(foundry.ExitInvalidArgument, "Sync failed to start", err)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if perr := printOutcome(cmd.OutOrStdout(), outcome, asJSON); perr != nil {
		return perr
	}

	switch {
	case outcome.Status == syncstore.RunStatusCancelled:
		return exitError(foundry.ExitSignalInt, "Sync cancelled", err)
	case err != nil:
		return exitError(foundry.ExitExternalServiceUnavailable, "Sync failed", err)
	}
	return nil
}

type outcomeView struct {
	Job      string      `json:"job"`
	RunID    string      `json:"run_id,omitempty"`
	Status   string      `json:"status"`
	Duration string      `json:"duration"`
	Summary  interface{} `json:"summary,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func printOutcome(w io.Writer, o *jobs.Outcome, asJSON bool) error {
	if w == nil {
		w = os.Stdout
	}
	view := outcomeView{
		Job:      o.Job,
		RunID:    o.RunID,
		Status:   string(o.Status),
		Duration: o.Duration.Round(time.Millisecond).String(),
	}
	if o.Summary != nil {
		view.Summary = o.Summary
	}
	if o.Err != nil {
		view.Error = o.Err.Error()
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	_, _ = fmt.Fprintf(w, "job=%s run=%s status=%s duration=%s\n", view.Job, view.RunID, view.Status, view.Duration)
	if s := o.Summary; s != nil {
		_, _ = fmt.Fprintf(w, "buckets=%d empty=%d fetched=%d written=%d batches=%d dropped=%d remote_errors=%d\n",
			s.BucketsScanned, s.EmptyBuckets, s.RecordsFetched, s.RowsWritten, s.BatchesCommitted, s.BatchesDropped, s.RemoteErrors)
	}
	if view.Error != "" {
		_, _ = fmt.Fprintf(w, "error=%s\n", view.Error)
	}
	return nil
}
