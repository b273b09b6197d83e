package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/pkg/bucket"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/ingest"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/notify"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// Job names. They double as lock names.
const (
	JobSyncProjects = "sync-projects"
	JobSyncFiles    = "sync-files"
)

const (
	projectsNotifyPrefix = "An error occurred while trying to store all projects from CurseForge, the command will run again in 30 minutes."
	filesNotifyPrefix    = "An error occurred while trying to store all project files from CurseForge, the command will run again in 30 minutes."
)

// Deps are the collaborators sync jobs need.
type Deps struct {
	Store    *syncstore.Store
	API      curseforge.API
	Notifier notify.Notifier
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) notifier(prefix string) notify.Notifier {
	if d.Notifier == nil {
		return notify.Nop{}
	}
	return notify.WithPrefix(d.Notifier, prefix)
}

// SyncConfig configures a sync job.
type SyncConfig struct {
	// Pipeline configures the scan. When Pipeline.Upper is zero the upper
	// bound is derived from the largest stored ID plus Headroom.
	Pipeline ingest.Config

	// Headroom is how far past the largest stored ID a derived scan reaches.
	Headroom int64

	// Schedule is an optional cron expression.
	Schedule string

	// RescheduleDelay is the wait before the follow-up job is triggered.
	RescheduleDelay time.Duration

	// Lease is the lock lease.
	Lease time.Duration

	// RunOnStart triggers the job when the runner starts.
	RunOnStart bool
}

// DefaultProjectsSyncConfig returns the project sync defaults.
func DefaultProjectsSyncConfig() SyncConfig {
	p := ingest.DefaultConfig()
	p.Name = "projects"
	p.EmptyBucketThreshold = 25
	p.Upper = 0
	return SyncConfig{
		Pipeline:        p,
		Headroom:        1_000_000,
		RescheduleDelay: 10 * time.Second,
		Lease:           joblock.DefaultLease,
	}
}

// DefaultFilesSyncConfig returns the file sync defaults. File IDs are far
// sparser than project IDs, so the empty run threshold is much higher.
func DefaultFilesSyncConfig() SyncConfig {
	p := ingest.DefaultConfig()
	p.Name = "files"
	p.EmptyBucketThreshold = 300
	p.Upper = 0
	return SyncConfig{
		Pipeline:        p,
		Headroom:        1_000_000,
		RescheduleDelay: 30 * time.Minute,
		Lease:           joblock.DefaultLease,
	}
}

// SyncProjectsJob mirrors every project into project_data, then hands off
// to the file sync.
func SyncProjectsJob(d Deps, cfg SyncConfig) Job {
	if cfg.Pipeline.Name == "" {
		cfg.Pipeline.Name = "projects"
	}
	return Job{
		Name:       JobSyncProjects,
		Schedule:   cfg.Schedule,
		Lease:      cfg.Lease,
		RunOnStart: cfg.RunOnStart,
		Next:       JobSyncFiles,
		NextDelay:  cfg.RescheduleDelay,
		Run: func(ctx context.Context, observe func(ingest.Event)) (*ingest.Summary, error) {
			n := d.notifier(projectsNotifyPrefix)
			pc, err := withUpperBound(ctx, cfg, d.Store.MaxProjectID)
			if err != nil {
				n.Notify(ctx, fmt.Sprintf("Exception: %v", err))
				return nil, err
			}

			fetch := ingest.Fetcher[curseforge.Mod](func(ctx context.Context, ids []int64) ([]curseforge.Mod, error) {
				return d.API.GetModsByIDs(ctx, ids, true)
			})
			p := ingest.New[curseforge.Mod, syncstore.ProjectRow](fetch, syncstore.ProjectFromMod, d.Store.ProjectWriter(), n, pc, d.logger())
			return p.WithObserver(observe).Run(ctx)
		},
	}
}

// SyncFilesJob mirrors every file into file_data, then hands off to the
// project sync.
func SyncFilesJob(d Deps, cfg SyncConfig) Job {
	if cfg.Pipeline.Name == "" {
		cfg.Pipeline.Name = "files"
	}
	return Job{
		Name:       JobSyncFiles,
		Schedule:   cfg.Schedule,
		Lease:      cfg.Lease,
		RunOnStart: cfg.RunOnStart,
		Next:       JobSyncProjects,
		NextDelay:  cfg.RescheduleDelay,
		Run: func(ctx context.Context, observe func(ingest.Event)) (*ingest.Summary, error) {
			n := d.notifier(filesNotifyPrefix)
			pc, err := withUpperBound(ctx, cfg, d.Store.MaxFileID)
			if err != nil {
				n.Notify(ctx, fmt.Sprintf("Exception: %v", err))
				return nil, err
			}

			fetch := ingest.Fetcher[curseforge.File](d.API.GetFilesByIDs)
			p := ingest.New[curseforge.File, syncstore.FileRow](fetch, syncstore.FileFromAPI, d.Store.FileWriter(), n, pc, d.logger())
			return p.WithObserver(observe).Run(ctx)
		},
	}
}

func withUpperBound(ctx context.Context, cfg SyncConfig, maxID func(context.Context) (int64, error)) (ingest.Config, error) {
	pc := cfg.Pipeline
	if pc.Upper > 0 {
		return pc, nil
	}
	last, err := maxID(ctx)
	if err != nil {
		return pc, fmt.Errorf("derive %s upper bound: %w", pc.Name, err)
	}
	pc.Upper = bucket.UpperBound(last, cfg.Headroom, bucket.MaxRemoteID)
	return pc, nil
}
