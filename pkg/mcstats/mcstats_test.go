package mcstats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

type fakeAPI struct {
	curseforge.API

	mu       sync.Mutex
	counts   map[string]int
	latest   map[int64]curseforge.Mod
	games    []curseforge.Game
	searches int
	err      error
}

func countKey(classID int64, version string, loader curseforge.ModLoaderType) string {
	return fmt.Sprintf("%d/%s/%s", classID, version, loader)
}

func (f *fakeAPI) GetGameVersionTypes(context.Context, int64) ([]curseforge.GameVersionType, error) {
	return []curseforge.GameVersionType{
		{ID: 1, GameID: 432, Name: "Minecraft 1.20", Slug: "minecraft-1-20"},
		{ID: 2, GameID: 432, Name: "Minecraft Beta", Slug: "minecraft-beta"},
		{ID: 3, GameID: 432, Name: "Modloader", Slug: "modloader"},
		{ID: 4, GameID: 432, Name: "Minecraft 1.9", Slug: "minecraft-1-9"},
		{ID: 5, GameID: 432, Name: "Minecraft 1.21", Slug: "minecraft-1-21"},
	}, nil
}

func (f *fakeAPI) GetGameVersions(context.Context, int64) ([]curseforge.GameVersions, error) {
	return []curseforge.GameVersions{
		{Type: 1, Versions: []string{"1.20.10", "1.20", "1.20.2"}},
		{Type: 2, Versions: []string{"b1.7.3"}},
		{Type: 3, Versions: []string{"Forge"}},
		{Type: 4, Versions: []string{"1.9"}},
	}, nil
}

func (f *fakeAPI) SearchMods(_ context.Context, q curseforge.SearchQuery) ([]curseforge.Mod, *curseforge.Pagination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.err != nil {
		return nil, nil, f.err
	}
	if q.SortField == curseforge.SortLastUpdated {
		m, ok := f.latest[q.GameID]
		if !ok {
			return nil, &curseforge.Pagination{}, nil
		}
		return []curseforge.Mod{m}, &curseforge.Pagination{TotalCount: 1}, nil
	}
	return nil, &curseforge.Pagination{TotalCount: f.counts[countKey(q.ClassID, q.GameVersion, q.ModLoader)]}, nil
}

func (f *fakeAPI) GetGames(context.Context) ([]curseforge.Game, error) {
	return f.games, nil
}

func (f *fakeAPI) GetGame(_ context.Context, id int64) (*curseforge.Game, error) {
	for _, g := range f.games {
		if g.ID == id {
			return &g, nil
		}
	}
	return nil, &curseforge.APIError{StatusCode: 404, Endpoint: "game"}
}

func (f *fakeAPI) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.New(rdb, CacheTTL, nil), mr
}

func openTestStore(t *testing.T) *syncstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := syncstore.Open(ctx, syncstore.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, NaturalLess("1.9", "1.20"))
	assert.True(t, NaturalLess("1.20.2", "1.20.10"))
	assert.True(t, NaturalLess("Minecraft 1.9", "Minecraft 1.20"))
	assert.False(t, NaturalLess("1.20", "1.20"))
}

func TestReleases(t *testing.T) {
	groups, err := Releases(context.Background(), &fakeAPI{})
	require.NoError(t, err)

	require.Len(t, groups, 2, "betas, non-version types and empty families are dropped")
	assert.Equal(t, "minecraft-1-9", groups[0].Slug)
	assert.Equal(t, []string{"1.9"}, groups[0].Versions)
	assert.Equal(t, "minecraft-1-20", groups[1].Slug)
	assert.Equal(t, []string{"1.20", "1.20.2", "1.20.10"}, groups[1].Versions)
}

func TestModStatsSumsFamilyAndCaches(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{counts: map[string]int{
		countKey(curseforge.ClassIDMods, "1.20", curseforge.ModLoaderForge):    10,
		countKey(curseforge.ClassIDMods, "1.20.2", curseforge.ModLoaderForge):  5,
		countKey(curseforge.ClassIDMods, "1.20.10", curseforge.ModLoaderQuilt): 2,
		countKey(curseforge.ClassIDMods, "1.9", curseforge.ModLoaderFabric):    7,
		// not a live loader
		countKey(curseforge.ClassIDMods, "1.20", curseforge.ModLoaderNeoForge): 99,
	}}
	c, mr := newTestCache(t)
	col := NewCollector(api, nil, c, nil)

	stats, err := col.ModStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Stats, 2)
	assert.Equal(t, "Minecraft 1.9", stats.Stats[0].Version)
	assert.Equal(t, map[string]int64{"Forge": 0, "Fabric": 7, "Quilt": 0}, stats.Stats[0].Counts)
	assert.Equal(t, "Minecraft 1.20", stats.Stats[1].Version)
	assert.Equal(t, map[string]int64{"Forge": 15, "Fabric": 0, "Quilt": 2}, stats.Stats[1].Counts)
	require.NotNil(t, stats.CacheExpiration)
	assert.True(t, mr.Exists(ModStatsKey))

	calls := api.searchCount()
	again, err := col.ModStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Stats, again.Stats)
	assert.Equal(t, calls, api.searchCount(), "second read served from cache")
}

func TestModpackStats(t *testing.T) {
	api := &fakeAPI{counts: map[string]int{
		countKey(curseforge.ClassIDModpacks, "1.20", curseforge.ModLoaderAny):   3,
		countKey(curseforge.ClassIDModpacks, "1.20.2", curseforge.ModLoaderAny): 4,
	}}
	col := NewCollector(api, nil, nil, nil)

	stats, err := col.ModpackStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []VersionCount{
		{Version: "Minecraft 1.9", Count: 0},
		{Version: "Minecraft 1.20", Count: 7},
	}, stats.Stats)
	assert.Nil(t, stats.CacheExpiration, "no expiry without redis")
}

func TestModStatsPropagatesSearchErrors(t *testing.T) {
	api := &fakeAPI{err: errors.New("boom")}
	c, mr := newTestCache(t)
	col := NewCollector(api, nil, c, nil)

	_, err := col.ModStats(context.Background())
	require.Error(t, err)
	assert.False(t, mr.Exists(ModStatsKey))
}

func TestSaveSnapshotRefreshesOverTime(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{counts: map[string]int{
		countKey(curseforge.ClassIDMods, "1.20", curseforge.ModLoaderForge):      10,
		countKey(curseforge.ClassIDMods, "1.20", curseforge.ModLoaderLiteLoader): 1,
		countKey(curseforge.ClassIDMods, "1.9", curseforge.ModLoaderNeoForge):    4,
	}}
	store := openTestStore(t)
	c, mr := newTestCache(t)
	col := NewCollector(api, store, c, nil)

	empty, err := col.OverTime(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.True(t, mr.Exists(OverTimeKey))

	snap, err := col.SaveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Stats.Data["1.20"]["Forge"])
	assert.Equal(t, int64(1), snap.Stats.Data["1.20"]["LiteLoader"])
	assert.Len(t, snap.Stats.Data, 4)
	assert.False(t, mr.Exists(OverTimeKey), "snapshot drops the cached history")

	series, err := col.OverTime(ctx)
	require.NoError(t, err)
	assert.NotContains(t, series, "LiteLoader")
	require.Len(t, series["Forge"], 4)
	assert.Equal(t, "1.20", series["Forge"][1].GameVersion)
	assert.Equal(t, int64(10), series["Forge"][1].Count)
	assert.WithinDuration(t, snap.RecordedAt, series["Forge"][1].Timestamp, time.Millisecond)

	refreshed, err := col.RefreshOverTime(ctx)
	require.NoError(t, err)
	assert.Len(t, refreshed["Forge"], 4)

	hist, err := col.History(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, snap.SnapshotID, hist[0].SnapshotID)
}

func TestSaveSnapshotWithoutStore(t *testing.T) {
	col := NewCollector(&fakeAPI{}, nil, nil, nil)
	_, err := col.SaveSnapshot(context.Background())
	assert.Error(t, err)
	_, err = col.History(context.Background(), time.Time{})
	assert.Error(t, err)
}

func TestBuildOverTimeSkipsSnapshotVersions(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []syncstore.ModStatsSnapshot{{
		SnapshotID: "mcs_1",
		RecordedAt: at,
		Stats: syncstore.NewJSON(syncstore.ModStatsCounts{
			"1.20-Snapshot": {"Forge": 3},
			"1.20":          {"Fabric": 2, "LiteLoader": 1},
		}),
	}}

	series := BuildOverTime(snaps)
	assert.Equal(t, map[string][]Point{
		"Fabric": {{Timestamp: at, GameVersion: "1.20", Count: 2}},
	}, series)
}
