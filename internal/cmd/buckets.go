package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/CurseForgeCommunity/CFLookup/pkg/bucket"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Print the bucket plan for an ID range",
	Long: `Print the contiguous, non-overlapping buckets a sync would request for
[lower, upper). The last bucket may be short.

Examples:
  cflookup buckets --lower 1 --upper 25000 --size 10000
  cflookup buckets --upper 100 --size 30 --json`,
	Args: cobra.NoArgs,
	RunE: runBuckets,
}

const (
	maxPrintedBuckets = 1000
	maxJSONBuckets    = 100_000
)

func init() {
	rootCmd.AddCommand(bucketsCmd)
	bucketsCmd.Flags().Int64("lower", 1, "First ID (inclusive)")
	bucketsCmd.Flags().Int64("upper", 0, "End of the range (exclusive, required)")
	bucketsCmd.Flags().Int64("size", 10_000, "IDs per bucket")
	bucketsCmd.Flags().Bool("json", false, "Output as JSON")
}

type bucketView struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Count int64 `json:"count"`
}

func runBuckets(cmd *cobra.Command, _ []string) error {
	lower, _ := cmd.Flags().GetInt64("lower")
	upper, _ := cmd.Flags().GetInt64("upper")
	size, _ := cmd.Flags().GetInt64("size")
	asJSON, _ := cmd.Flags().GetBool("json")

	if size <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --size value", fmt.Errorf("size must be >= 1"))
	}
	if lower < 0 || upper <= lower {
		return exitError(foundry.ExitInvalidArgument, "Invalid range", fmt.Errorf("--upper (%d) must be greater than --lower (%d)", upper, lower))
	}

	span := upper - lower
	total := span / size
	if span%size != 0 {
		total++
	}
	out := cmd.OutOrStdout()

	if asJSON {
		if total > maxJSONBuckets {
			return exitError(foundry.ExitInvalidArgument, "Range too large for --json",
				fmt.Errorf("%d buckets exceeds the limit of %d", total, maxJSONBuckets))
		}
		plan := bucket.Plan(lower, upper, size)
		views := make([]bucketView, 0, len(plan))
		for i, b := range plan {
			views = append(views, bucketView{Index: i, Start: b.Start, End: b.End(), Count: b.Count})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDEX\tSTART\tEND\tCOUNT")
	i := 0
	for b := range bucket.Generate(lower, upper, size) {
		if i == maxPrintedBuckets {
			_, _ = fmt.Fprintf(tw, "...\t\t\t(%d more)\n", total-int64(i))
			break
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", i, b.Start, b.End(), b.Count)
		i++
	}
	_, _ = fmt.Fprintf(tw, "\n%d buckets covering [%d, %d)\n", total, lower, upper)
	return tw.Flush()
}
