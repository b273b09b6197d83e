package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/jobs"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage distributed job locks",
	Long: `Inspect and manage the Redis-backed job locks (keys joblock:{name}).

Examples:
  cflookup lock status
  cflookup lock status sync-files --json
  cflookup lock release sync-files --force`,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status [name...]",
	Short: "Show who holds each job lock",
	RunE:  runLockStatus,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <name>",
	Short: "Delete a job lock regardless of its owner",
	Long: `Delete a job lock regardless of its owner.

The holder is not told: if it is still running it will notice on its next
renewal, cancel its work and stop. Use this only to clear a lock left by
a crashed worker before its lease runs out.`,
	Args: cobra.ExactArgs(1),
	RunE: runLockRelease,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockStatusCmd.Flags().Bool("json", false, "Output as JSON")
	lockReleaseCmd.Flags().Bool("force", false, "Required: confirm the lock should be deleted")
}

// lockInspector is satisfied by *joblock.Locker.
type lockInspector interface {
	Inspect(ctx context.Context, name string) (joblock.Info, error)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	names := args
	if len(names) == 0 {
		names = []string{jobs.JobSyncProjects, jobs.JobSyncFiles}
	}

	d, err := openDeps(ctx, needRedis)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to Redis", err)
	}
	defer func() { _ = d.Close() }()

	infos, err := inspectLocks(ctx, d.locker, names)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to inspect locks", err)
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	return printLocks(cmd.OutOrStdout(), infos, asJSON)
}

func inspectLocks(ctx context.Context, l lockInspector, names []string) ([]joblock.Info, error) {
	out := make([]joblock.Info, 0, len(names))
	for _, name := range names {
		info, err := l.Inspect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func printLocks(w io.Writer, infos []joblock.Info, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKEY\tHELD\tOWNER\tREMAINING")
	for _, info := range infos {
		owner, remaining := "-", "-"
		if info.Held {
			owner = info.Owner
			remaining = info.Remaining.Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", info.Name, info.Key, info.Held, owner, remaining)
	}
	return tw.Flush()
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	if err := requireWritable("lock release"); err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		return exitError(foundry.ExitInvalidArgument, "Refusing to release lock", fmt.Errorf("--force is required"))
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := openDeps(ctx, needRedis)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to Redis", err)
	}
	defer func() { _ = d.Close() }()

	deleted, err := d.locker.ForceRelease(ctx, args[0])
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to release lock", err)
	}
	if deleted {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "released=%s\n", joblock.Key(args[0]))
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "not_held=%s\n", joblock.Key(args[0]))
	}
	return nil
}
