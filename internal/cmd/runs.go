package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show sync run history",
	Long: `Show the sync_runs history recorded by every worker.

Examples:
  cflookup runs list
  cflookup runs list --job sync-files --limit 5
  cflookup runs show <run-id>`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsListCmd.Flags().String("job", "", "Only runs of this job")
	runsListCmd.Flags().Int("limit", 20, "Maximum runs to list")
	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	job, _ := cmd.Flags().GetString("job")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	if limit < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 1"))
	}

	d, err := openDeps(ctx, needStore)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open database", err)
	}
	defer func() { _ = d.Close() }()

	runs, err := d.store.ListSyncRuns(ctx, strings.TrimSpace(job), limit)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}
	if len(runs) == 0 && !asJSON {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded")
		return nil
	}
	return printRuns(cmd.OutOrStdout(), runs, asJSON)
}

type runJSON struct {
	RunID          string     `json:"run_id"`
	JobName        string     `json:"job_name"`
	Status         string     `json:"status"`
	TriggeredBy    string     `json:"triggered_by"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	BucketsScanned int64      `json:"buckets_scanned"`
	RowsWritten    int64      `json:"rows_written"`
	BatchesDropped int64      `json:"batches_dropped"`
	RemoteErrors   int64      `json:"remote_errors"`
	Error          string     `json:"error,omitempty"`
}

func toRunJSON(r syncstore.SyncRun) runJSON {
	return runJSON{
		RunID:          r.RunID,
		JobName:        r.JobName,
		Status:         string(r.Status),
		TriggeredBy:    r.TriggeredBy,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		BucketsScanned: r.BucketsScanned,
		RowsWritten:    r.RowsWritten,
		BatchesDropped: r.BatchesDropped,
		RemoteErrors:   r.RemoteErrors,
		Error:          r.Error,
	}
}

func printRuns(w io.Writer, runs []syncstore.SyncRun, asJSON bool) error {
	if asJSON {
		out := make([]runJSON, 0, len(runs))
		for _, r := range runs {
			out = append(out, toRunJSON(r))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tJOB\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tROWS\tDROPPED\tREMOTE ERRS")
	for _, r := range runs {
		duration := "running"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.RunID, r.JobName, r.Status, r.TriggeredBy,
			r.StartedAt.UTC().Format(time.RFC3339), duration,
			r.RowsWritten, r.BatchesDropped, r.RemoteErrors)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	d, err := openDeps(ctx, needStore)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open database", err)
	}
	defer func() { _ = d.Close() }()

	run, err := d.store.GetSyncRun(ctx, args[0])
	if errors.Is(err, syncstore.ErrNotFound) {
		return exitError(foundry.ExitInvalidArgument, "Run not found", err)
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to load run", err)
	}
	events, err := d.store.ListRunEvents(ctx, run.RunID)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to load run events", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		type eventJSON struct {
			OccurredAt  time.Time `json:"occurred_at"`
			Type        string    `json:"type"`
			Category    string    `json:"category"`
			BucketStart *int64    `json:"bucket_start,omitempty"`
			Detail      *string   `json:"detail,omitempty"`
		}
		body := struct {
			Run    runJSON     `json:"run"`
			Events []eventJSON `json:"events"`
		}{Run: toRunJSON(*run), Events: make([]eventJSON, 0, len(events))}
		for _, e := range events {
			body.Events = append(body.Events, eventJSON{
				OccurredAt:  e.OccurredAt,
				Type:        e.EventType,
				Category:    string(e.EventCategory),
				BucketStart: e.BucketStart,
				Detail:      e.Detail,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	}

	if err := printRuns(out, []syncstore.SyncRun{*run}, false); err != nil {
		return err
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(out, "\nerror: %s\n", run.Error)
	}
	if len(events) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tCATEGORY\tTYPE\tBUCKET\tDETAIL")
	for _, e := range events {
		bucketStart, detail := "-", ""
		if e.BucketStart != nil {
			bucketStart = fmt.Sprintf("%d", *e.BucketStart)
		}
		if e.Detail != nil {
			detail = *e.Detail
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339), e.EventCategory, e.EventType, bucketStart, detail)
	}
	return tw.Flush()
}
