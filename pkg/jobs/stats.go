package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/CurseForgeCommunity/CFLookup/pkg/ingest"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/mcstats"
)

// Stats job names.
const (
	JobModStatsSnapshot   = "mc-mod-stats-snapshot"
	JobModStatsOverTime   = "mc-stats-overtime-cache"
	JobLatestUpdatedWatch = "latest-updated-watch"
)

// StatsConfig schedules the stats jobs.
type StatsConfig struct {
	// SnapshotSchedule stores a Minecraft mod count snapshot. Default: hourly
	SnapshotSchedule string

	// OverTimeSchedule rebuilds the cached per-loader history. Default: every 30 minutes
	OverTimeSchedule string

	// WatchSchedule checks for stalled file processing. Default: every 5 minutes
	WatchSchedule string

	// Lease is the lock lease.
	Lease time.Duration
}

// DefaultStatsConfig returns the stats job defaults.
func DefaultStatsConfig() StatsConfig {
	return StatsConfig{
		SnapshotSchedule: "0 * * * *",
		OverTimeSchedule: "*/30 * * * *",
		WatchSchedule:    "*/5 * * * *",
		Lease:            joblock.DefaultLease,
	}
}

// ModStatsSnapshotJob stores the per-version loader counts.
func ModStatsSnapshotJob(c *mcstats.Collector, cfg StatsConfig) Job {
	return Job{
		Name:     JobModStatsSnapshot,
		Schedule: cfg.SnapshotSchedule,
		Lease:    cfg.Lease,
		Run: func(ctx context.Context, _ func(ingest.Event)) (*ingest.Summary, error) {
			_, err := c.SaveSnapshot(ctx)
			return nil, err
		},
	}
}

// ModStatsOverTimeJob rebuilds the cached history so readers never wait on
// the full snapshot scan.
func ModStatsOverTimeJob(c *mcstats.Collector, cfg StatsConfig) Job {
	return Job{
		Name:     JobModStatsOverTime,
		Schedule: cfg.OverTimeSchedule,
		Lease:    cfg.Lease,
		Run: func(ctx context.Context, _ func(ingest.Event)) (*ingest.Summary, error) {
			_, err := c.RefreshOverTime(ctx)
			return nil, err
		},
	}
}

// LatestUpdatedWatchJob records the newest file per game and warns when
// file processing looks stalled.
func LatestUpdatedWatchJob(w *mcstats.Watchdog, cfg StatsConfig) Job {
	return Job{
		Name:     JobLatestUpdatedWatch,
		Schedule: cfg.WatchSchedule,
		Lease:    cfg.Lease,
		Run: func(ctx context.Context, observe func(ingest.Event)) (*ingest.Summary, error) {
			res, err := w.Run(ctx)
			if err != nil {
				return nil, err
			}
			if res.SearchErrors > 0 {
				observe(ingest.Event{
					Type:   ingest.EventRemoteError,
					Detail: fmt.Sprintf("%d of %d game searches failed", res.SearchErrors, res.GamesChecked),
				})
			}
			return &ingest.Summary{Name: JobLatestUpdatedWatch, RemoteErrors: int64(res.SearchErrors)}, nil
		},
	}
}

// StatsJobs returns the three stats jobs.
func StatsJobs(c *mcstats.Collector, w *mcstats.Watchdog, cfg StatsConfig) []Job {
	return []Job{
		ModStatsSnapshotJob(c, cfg),
		ModStatsOverTimeJob(c, cfg),
		LatestUpdatedWatchJob(w, cfg),
	}
}
