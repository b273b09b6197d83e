package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CurseForgeCommunity/CFLookup/pkg/mcstats"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

var statsTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeStats struct {
	since time.Time
	err   error
}

func (f *fakeStats) ModStats(context.Context) (*mcstats.ModStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	exp := statsTime.Add(time.Hour)
	return &mcstats.ModStats{
		Stats:           []mcstats.LoaderCounts{{Version: "Minecraft 1.20", Counts: map[string]int64{"Forge": 10}}},
		CacheExpiration: &exp,
	}, nil
}

func (f *fakeStats) ModpackStats(context.Context) (*mcstats.ModpackStats, error) {
	return &mcstats.ModpackStats{Stats: []mcstats.VersionCount{{Version: "Minecraft 1.20", Count: 4}}}, nil
}

func (f *fakeStats) History(_ context.Context, since time.Time) ([]syncstore.ModStatsSnapshot, error) {
	f.since = since
	return []syncstore.ModStatsSnapshot{{
		SnapshotID: "mcs_1",
		RecordedAt: statsTime,
		Stats:      syncstore.NewJSON(syncstore.ModStatsCounts{"1.20": {"Forge": 10}}),
	}}, nil
}

func (f *fakeStats) OverTime(context.Context) (map[string][]mcstats.Point, error) {
	return map[string][]mcstats.Point{"Forge": {{Timestamp: statsTime, GameVersion: "1.20", Count: 10}}}, nil
}

type fakeFileStatus struct{}

func (fakeFileStatus) ListFileProcessingStatus(context.Context) ([]syncstore.FileProcessingStatus, error) {
	return []syncstore.FileProcessingStatus{{GameID: 432, ModID: 100, FileID: 1001, LastUpdated: statsTime, LatestUpdate: statsTime.Add(time.Minute)}}, nil
}

func newStatsRouter(stats *fakeStats) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", (&API{Stats: stats, FileStatus: fakeFileStatus{}}).Routes)
	return r
}

func TestAPIMinecraftStats(t *testing.T) {
	stats := &fakeStats{}
	h := newStatsRouter(stats)

	rec := do(t, h, http.MethodGet, "/api/stats/minecraft/mod-stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":[{"version":"Minecraft 1.20","counts":{"Forge":10}}],"cacheExpiration":"2024-06-01T13:00:00Z"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/stats/minecraft/modpack-stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":[{"version":"Minecraft 1.20","count":4}]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/stats/minecraft/mod-stats-over-time?since=2024-05-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"2024-06-01T12:00:00Z":{"1.20":{"Forge":10}}}`, rec.Body.String())
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), stats.since)

	rec = do(t, h, http.MethodGet, "/api/stats/minecraft/mod-stats-over-time?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stats/minecraft/mod-stats-over-time.v2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var series map[string][]mcstats.Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series["Forge"], 1)
	assert.Equal(t, int64(10), series["Forge"][0].Count)
}

func TestAPIMinecraftStatsUpstreamError(t *testing.T) {
	rec := do(t, newStatsRouter(&fakeStats{err: errors.New("search failed")}), http.MethodGet, "/api/stats/minecraft/mod-stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIFileProcessingStatus(t *testing.T) {
	rec := do(t, newStatsRouter(&fakeStats{}), http.MethodGet, "/api/stats/file-processing", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []FileProcessingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1001), rows[0].FileID)
	assert.True(t, rows[0].LastUpdated.Equal(statsTime))
}

func TestAPIStatsRoutesNeedDependencies(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/api", (&API{}).Routes)

	for _, path := range []string{"/api/stats/minecraft/mod-stats", "/api/stats/file-processing"} {
		rec := do(t, r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
