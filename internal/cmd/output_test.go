package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/ingest"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/jobs"
	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CFLOOKUP_DB_DSN", t.TempDir()+"/cflookup.db")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	rootCmd.SetOut(nil)
	return out.String(), err
}

func TestBucketsCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := executeRoot(t, "buckets", "--lower", "1", "--upper", "101", "--size", "30", "--json=false")
		require.NoError(t, err)
		assert.Contains(t, out, "INDEX")
		assert.Contains(t, out, "91")
		assert.Contains(t, out, "4 buckets covering [1, 101)")
	})

	t.Run("json", func(t *testing.T) {
		out, err := executeRoot(t, "buckets", "--lower", "1", "--upper", "101", "--size", "30", "--json")
		require.NoError(t, err)
		var views []bucketView
		require.NoError(t, json.Unmarshal([]byte(out), &views))
		require.Len(t, views, 4)
		assert.Equal(t, bucketView{Index: 3, Start: 91, End: 101, Count: 10}, views[3])
		for i := 1; i < len(views); i++ {
			assert.Equal(t, views[i-1].End, views[i].Start, "buckets must be contiguous")
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		_, err := executeRoot(t, "buckets", "--lower", "50", "--upper", "10", "--size", "30", "--json=false")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be greater than")
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := executeRoot(t, "buckets", "--lower", "1", "--upper", "10", "--size", "0", "--json=false")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size must be >= 1")
	})
}

type fakeInspector struct {
	infos map[string]joblock.Info
	err   error
}

func (f fakeInspector) Inspect(_ context.Context, name string) (joblock.Info, error) {
	if f.err != nil {
		return joblock.Info{}, f.err
	}
	info, ok := f.infos[name]
	if !ok {
		return joblock.Info{Name: name, Key: joblock.Key(name)}, nil
	}
	return info, nil
}

func TestInspectAndPrintLocks(t *testing.T) {
	inspector := fakeInspector{infos: map[string]joblock.Info{
		jobs.JobSyncFiles: {
			Name:      jobs.JobSyncFiles,
			Key:       joblock.Key(jobs.JobSyncFiles),
			Held:      true,
			Owner:     "worker-1",
			Remaining: 12 * time.Second,
		},
	}}

	infos, err := inspectLocks(context.Background(), inspector, []string{jobs.JobSyncProjects, jobs.JobSyncFiles})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.False(t, infos[0].Held)
	assert.True(t, infos[1].Held)

	var buf bytes.Buffer
	require.NoError(t, printLocks(&buf, infos, false))
	assert.Contains(t, buf.String(), "worker-1")
	assert.Contains(t, buf.String(), "12s")
	assert.Contains(t, buf.String(), joblock.Key(jobs.JobSyncProjects))

	buf.Reset()
	require.NoError(t, printLocks(&buf, infos, true))
	var decoded []joblock.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, infos, decoded)

	_, err = inspectLocks(context.Background(), fakeInspector{err: errors.New("redis down")}, []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inspect x")
}

func TestPrintRuns(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	runs := []syncstore.SyncRun{
		{RunID: "run-2", JobName: jobs.JobSyncFiles, StartedAt: started, Status: syncstore.RunStatusRunning, TriggeredBy: syncstore.TriggerChain},
		{RunID: "run-1", JobName: jobs.JobSyncProjects, StartedAt: started, EndedAt: &ended, Status: syncstore.RunStatusPartial,
			TriggeredBy: syncstore.TriggerManual, RowsWritten: 500, BatchesDropped: 1, Error: ""},
	}

	var buf bytes.Buffer
	require.NoError(t, printRuns(&buf, runs, false))
	out := buf.String()
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2024-05-01T12:00:00Z")

	buf.Reset()
	require.NoError(t, printRuns(&buf, runs, true))
	var decoded []runJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Nil(t, decoded[0].EndedAt)
	assert.Equal(t, "partial", decoded[1].Status)
	assert.Equal(t, int64(500), decoded[1].RowsWritten)
}

func TestPrintOutcome(t *testing.T) {
	o := &jobs.Outcome{
		Job:      jobs.JobSyncProjects,
		RunID:    "run-1",
		Status:   syncstore.RunStatusSuccess,
		Duration: 1500 * time.Millisecond,
		Summary:  &ingest.Summary{BucketsScanned: 3, RowsWritten: 42, BatchesCommitted: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, printOutcome(&buf, o, false))
	assert.Contains(t, buf.String(), "job=sync-projects run=run-1 status=success duration=1.5s")
	assert.Contains(t, buf.String(), "buckets=3")
	assert.Contains(t, buf.String(), "written=42")
	assert.NotContains(t, buf.String(), "error=")

	o.Status = syncstore.RunStatusFailed
	o.Summary = nil
	o.Err = errors.New("lock lost")
	buf.Reset()
	require.NoError(t, printOutcome(&buf, o, true))
	var view map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "failed", view["status"])
	assert.Equal(t, "lock lost", view["error"])
	assert.NotContains(t, view, "summary")
}

func TestPrintCheckResult(t *testing.T) {
	blocked := false
	res := &modpack.Result{
		Manifest: &modpack.Manifest{Name: "Test Pack"},
		Unavailable: []curseforge.Mod{
			{ID: 238222, Name: "Just Enough Items", Slug: "jei", IsAvailable: true, AllowModDistribution: &blocked},
		},
		ProjectsChecked: 12,
	}

	var buf bytes.Buffer
	require.NoError(t, printCheckResult(&buf, res, false))
	assert.Contains(t, buf.String(), "Test Pack: 1 of 12 projects")
	assert.Contains(t, buf.String(), "238222")
	assert.Contains(t, buf.String(), "blocked")

	buf.Reset()
	res.Unavailable = nil
	require.NoError(t, printCheckResult(&buf, res, false))
	assert.Equal(t, "Test Pack: all 12 projects are downloadable\n", buf.String())
}

func TestSyncJobConfig(t *testing.T) {
	base := jobs.DefaultFilesSyncConfig()
	jc := config.SyncJobConfig{
		BucketSize:      500,
		LowerBound:      1000,
		UpperBound:      2000,
		Headroom:        10,
		RescheduleDelay: time.Minute,
		Schedule:        "0 */6 * * *",
	}

	got := syncJobConfig(base, jc, 20*time.Second)
	assert.Equal(t, int64(500), got.Pipeline.BucketSize)
	assert.Equal(t, int64(1000), got.Pipeline.Lower)
	assert.Equal(t, int64(2000), got.Pipeline.Upper)
	assert.Equal(t, int64(10), got.Headroom)
	assert.Equal(t, time.Minute, got.RescheduleDelay)
	assert.Equal(t, "0 */6 * * *", got.Schedule)
	assert.Equal(t, 20*time.Second, got.Lease)
	assert.Equal(t, base.Pipeline.BatchSize, got.Pipeline.BatchSize, "zero values keep the default")

	derived := syncJobConfig(base, config.SyncJobConfig{}, 0)
	assert.Zero(t, derived.Pipeline.Upper, "zero upper bound derives from stored IDs")
	assert.Equal(t, base.Lease, derived.Lease)
}
