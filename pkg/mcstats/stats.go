package mcstats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// Redis keys shared with other readers of the stats.
const (
	ModStatsKey     = "cf-mcmod-stats"
	ModpackStatsKey = "cf-mcmodpack-stats"
	OverTimeKey     = "cf-mcmodloader-stats"
)

// CacheTTL is how long computed stats stay cached.
const CacheTTL = time.Hour

var (
	// liveLoaders are counted for the live per-family stats.
	liveLoaders = []curseforge.ModLoaderType{
		curseforge.ModLoaderForge,
		curseforge.ModLoaderFabric,
		curseforge.ModLoaderQuilt,
	}

	// snapshotLoaders are counted for every hourly snapshot.
	snapshotLoaders = []curseforge.ModLoaderType{
		curseforge.ModLoaderForge,
		curseforge.ModLoaderFabric,
		curseforge.ModLoaderLiteLoader,
		curseforge.ModLoaderQuilt,
		curseforge.ModLoaderNeoForge,
	}
)

// SnapshotStore persists hourly snapshots. *syncstore.Store implements it.
type SnapshotStore interface {
	InsertModStatsSnapshot(ctx context.Context, stats syncstore.ModStatsCounts) (*syncstore.ModStatsSnapshot, error)
	ListModStatsSnapshots(ctx context.Context, since time.Time) ([]syncstore.ModStatsSnapshot, error)
}

// LoaderCounts is the number of mods per loader for one release family.
type LoaderCounts struct {
	Version string           `json:"version"`
	Counts  map[string]int64 `json:"counts"`
}

// ModStats is the response of the live mod stats read.
type ModStats struct {
	Stats           []LoaderCounts `json:"stats"`
	CacheExpiration *time.Time     `json:"cacheExpiration,omitempty"`
}

// VersionCount is the number of modpacks for one release family.
type VersionCount struct {
	Version string `json:"version"`
	Count   int64  `json:"count"`
}

// ModpackStats is the response of the live modpack stats read.
type ModpackStats struct {
	Stats           []VersionCount `json:"stats"`
	CacheExpiration *time.Time     `json:"cacheExpiration,omitempty"`
}

// Collector computes and caches the stats.
type Collector struct {
	api    curseforge.API
	store  SnapshotStore
	cache  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector creates a Collector. c should be built with CacheTTL; a nil
// store disables the snapshot and history operations.
func NewCollector(api curseforge.API, store SnapshotStore, c *cache.Cache, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{api: api, store: store, cache: c, logger: logger, now: time.Now}
}

func (c *Collector) count(ctx context.Context, classID int64, version string, loader curseforge.ModLoaderType) (int64, error) {
	_, page, err := c.api.SearchMods(ctx, curseforge.SearchQuery{
		GameID:      curseforge.GameIDMinecraft,
		ClassID:     classID,
		GameVersion: version,
		ModLoader:   loader,
		PageSize:    1,
	})
	if err != nil {
		return 0, fmt.Errorf("count %s %s: %w", version, loader, err)
	}
	if page == nil {
		return 0, nil
	}
	return int64(page.TotalCount), nil
}

func (c *Collector) expiry(ctx context.Context, key string) *time.Time {
	ttl := c.cache.Remaining(ctx, key)
	if ttl <= 0 {
		return nil
	}
	at := c.now().Add(ttl).UTC().Truncate(time.Second)
	return &at
}

// ModStats returns mod counts per release family and loader, summed over
// the family's versions.
func (c *Collector) ModStats(ctx context.Context) (*ModStats, error) {
	counts, _, err := cache.GetOrLoad(ctx, c.cache, "mcmod_stats", ModStatsKey, func(ctx context.Context) (map[string]map[string]int64, bool, error) {
		groups, err := Releases(ctx, c.api)
		if err != nil {
			return nil, false, err
		}
		out := make(map[string]map[string]int64, len(groups))
		for _, g := range groups {
			perLoader := make(map[string]int64, len(liveLoaders))
			for _, v := range g.Versions {
				for _, loader := range liveLoaders {
					n, err := c.count(ctx, curseforge.ClassIDMods, v, loader)
					if err != nil {
						return nil, false, err
					}
					perLoader[loader.String()] += n
				}
			}
			out[g.Name] = perLoader
		}
		return out, true, nil
	})
	if err != nil {
		return nil, err
	}

	res := &ModStats{Stats: make([]LoaderCounts, 0, len(counts)), CacheExpiration: c.expiry(ctx, ModStatsKey)}
	for _, version := range sortedKeys(counts) {
		res.Stats = append(res.Stats, LoaderCounts{Version: version, Counts: counts[version]})
	}
	return res, nil
}

// ModpackStats returns modpack counts per release family.
func (c *Collector) ModpackStats(ctx context.Context) (*ModpackStats, error) {
	counts, _, err := cache.GetOrLoad(ctx, c.cache, "mcmodpack_stats", ModpackStatsKey, func(ctx context.Context) (map[string]int64, bool, error) {
		groups, err := Releases(ctx, c.api)
		if err != nil {
			return nil, false, err
		}
		out := make(map[string]int64, len(groups))
		for _, g := range groups {
			for _, v := range g.Versions {
				n, err := c.count(ctx, curseforge.ClassIDModpacks, v, curseforge.ModLoaderAny)
				if err != nil {
					return nil, false, err
				}
				out[g.Name] += n
			}
		}
		return out, true, nil
	})
	if err != nil {
		return nil, err
	}

	res := &ModpackStats{Stats: make([]VersionCount, 0, len(counts)), CacheExpiration: c.expiry(ctx, ModpackStatsKey)}
	for _, version := range sortedKeys(counts) {
		res.Stats = append(res.Stats, VersionCount{Version: version, Count: counts[version]})
	}
	return res, nil
}

// Snapshot counts mods for every individual version and snapshot loader.
func (c *Collector) Snapshot(ctx context.Context) (syncstore.ModStatsCounts, error) {
	groups, err := Releases(ctx, c.api)
	if err != nil {
		return nil, err
	}
	out := make(syncstore.ModStatsCounts)
	for _, g := range groups {
		for _, v := range g.Versions {
			if _, seen := out[v]; seen {
				continue
			}
			perLoader := make(map[string]int64, len(snapshotLoaders))
			for _, loader := range snapshotLoaders {
				n, err := c.count(ctx, curseforge.ClassIDMods, v, loader)
				if err != nil {
					return nil, err
				}
				perLoader[loader.String()] = n
			}
			out[v] = perLoader
		}
	}
	return out, nil
}

// SaveSnapshot takes a snapshot, stores it and drops the cached history so
// the next read includes it.
func (c *Collector) SaveSnapshot(ctx context.Context) (*syncstore.ModStatsSnapshot, error) {
	if c.store == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	counts, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := c.store.InsertModStatsSnapshot(ctx, counts)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(ctx, OverTimeKey)
	c.logger.Info("Minecraft mod stats snapshot saved",
		zap.String("snapshot_id", snap.SnapshotID), zap.Int("versions", len(counts)))
	return snap, nil
}

// History returns stored snapshots recorded at or after since.
func (c *Collector) History(ctx context.Context, since time.Time) ([]syncstore.ModStatsSnapshot, error) {
	if c.store == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	return c.store.ListModStatsSnapshots(ctx, since)
}

// OverTime returns the cached per-loader history.
func (c *Collector) OverTime(ctx context.Context) (map[string][]Point, error) {
	series, _, err := cache.GetOrLoad(ctx, c.cache, "mcmod_overtime", OverTimeKey, func(ctx context.Context) (map[string][]Point, bool, error) {
		snaps, err := c.History(ctx, time.Time{})
		if err != nil {
			return nil, false, err
		}
		return BuildOverTime(snaps), true, nil
	})
	return series, err
}

// RefreshOverTime rebuilds the cached per-loader history.
func (c *Collector) RefreshOverTime(ctx context.Context) (map[string][]Point, error) {
	c.cache.Invalidate(ctx, OverTimeKey)
	return c.OverTime(ctx)
}

// Point is one count in a loader's history.
type Point struct {
	Timestamp   time.Time `json:"timestamp"`
	GameVersion string    `json:"gameVersion"`
	Count       int64     `json:"count"`
}

// BuildOverTime groups snapshots by loader. Snapshot versions and
// LiteLoader are left out.
func BuildOverTime(snaps []syncstore.ModStatsSnapshot) map[string][]Point {
	out := make(map[string][]Point)
	for _, snap := range snaps {
		stats := snap.Stats.Data
		for _, version := range sortedKeys(stats) {
			if strings.Contains(strings.ToLower(version), "snapshot") {
				continue
			}
			loaders := stats[version]
			for _, loader := range sortedKeys(loaders) {
				if strings.Contains(strings.ToLower(loader), "liteloader") {
					continue
				}
				out[loader] = append(out[loader], Point{
					Timestamp:   snap.RecordedAt,
					GameVersion: version,
					Count:       loaders[loader],
				})
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return NaturalLess(keys[i], keys[j]) })
	return keys
}
