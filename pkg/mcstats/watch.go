package mcstats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/notify"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// WarningKey marks that a stale file processing warning was already sent.
const WarningKey = "cf-file-processing-warning"

// StatusStore records the newest file per game. *syncstore.Store
// implements it.
type StatusStore interface {
	UpsertFileProcessingStatus(ctx context.Context, st syncstore.FileProcessingStatus) error
}

// WatchConfig configures a Watchdog.
type WatchConfig struct {
	// StaleAfter is how old the newest file on the platform may be before
	// file processing is reported as stalled. Default: 3h
	StaleAfter time.Duration

	// WarningInterval suppresses repeat warnings. Default: 1h
	WarningInterval time.Duration

	// ExtraGameIDs are games the public listing omits.
	ExtraGameIDs []int64

	// EntryTTL is how long the newest mod and file stay cached. Default: 24h
	EntryTTL time.Duration
}

// DefaultWatchConfig returns the watchdog defaults.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		StaleAfter:      3 * time.Hour,
		WarningInterval: time.Hour,
		ExtraGameIDs:    []int64{83374},
		EntryTTL:        24 * time.Hour,
	}
}

// WatchResult summarises one watchdog pass.
type WatchResult struct {
	GamesChecked int
	SearchErrors int
	Newest       *syncstore.FileProcessingStatus
	NewestMod    string
	Stale        bool
	Notified     bool
}

// Watchdog finds the most recently updated file of every game and warns
// when nothing on the platform has been updated for a while, which
// usually means upload processing has stalled.
type Watchdog struct {
	api      curseforge.API
	store    StatusStore
	cache    *cache.Cache
	notifier notify.Notifier
	cfg      WatchConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewWatchdog creates a Watchdog. Zero config fields take their defaults.
func NewWatchdog(api curseforge.API, store StatusStore, c *cache.Cache, n notify.Notifier, cfg WatchConfig, logger *zap.Logger) *Watchdog {
	def := DefaultWatchConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.WarningInterval <= 0 {
		cfg.WarningInterval = def.WarningInterval
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = def.EntryTTL
	}
	if n == nil {
		n = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{api: api, store: store, cache: c, notifier: n, cfg: cfg, logger: logger, now: time.Now}
}

func (w *Watchdog) games(ctx context.Context) ([]curseforge.Game, error) {
	games, err := w.api.GetGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	known := make(map[int64]bool, len(games))
	for _, g := range games {
		known[g.ID] = true
	}
	for _, id := range w.cfg.ExtraGameIDs {
		if known[id] {
			continue
		}
		g, err := w.api.GetGame(ctx, id)
		if err != nil {
			w.logger.Debug("Extra game not available", zap.Int64("game_id", id), zap.Error(err))
			continue
		}
		known[id] = true
		games = append(games, *g)
	}
	return games, nil
}

// Run checks every game once.
func (w *Watchdog) Run(ctx context.Context) (*WatchResult, error) {
	games, err := w.games(ctx)
	if err != nil {
		return nil, err
	}

	res := &WatchResult{}
	var newestMod *curseforge.Mod
	var newestFile *curseforge.File
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.GamesChecked++

		mods, _, err := w.api.SearchMods(ctx, curseforge.SearchQuery{
			GameID:     g.ID,
			SortField:  curseforge.SortLastUpdated,
			Descending: true,
			PageSize:   1,
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.SearchErrors++
			w.logger.Warn("Latest mod search failed", zap.Int64("game_id", g.ID), zap.Error(err))
			continue
		}
		if len(mods) == 0 {
			w.logger.Debug("No mods found", zap.String("game", g.Name))
			continue
		}
		mod := mods[0]
		file, ok := latestFile(mod.LatestFiles)
		if !ok {
			continue
		}

		w.cache.Put(ctx, cache.ModKey(mod.ID), mod, w.cfg.EntryTTL)
		w.cache.Put(ctx, cache.FileKey(file.ID), file, w.cfg.EntryTTL)

		st := syncstore.FileProcessingStatus{GameID: g.ID, ModID: mod.ID, FileID: file.ID, LastUpdated: file.FileDate}
		if err := w.store.UpsertFileProcessingStatus(ctx, st); err != nil {
			return res, err
		}
		if newestFile == nil || file.FileDate.After(newestFile.FileDate) {
			m, f := mod, file
			newestMod, newestFile = &m, &f
			res.Newest = &st
		}
	}

	if newestFile == nil {
		return res, nil
	}
	res.NewestMod = newestMod.Name
	if w.now().Sub(newestFile.FileDate) < w.cfg.StaleAfter {
		return res, nil
	}

	res.Stale = true
	w.logger.Warn("No files updated recently, file processing may be down",
		zap.Time("newest_file_date", newestFile.FileDate), zap.Int64("mod_id", newestMod.ID))
	if !w.cache.MarkOnce(ctx, WarningKey, w.cfg.WarningInterval) {
		return res, nil
	}
	w.notifier.Notify(ctx, fmt.Sprintf(
		"No mods were updated in the last %s, file processing might be down.\n"+
			"Last updated mod was updated %s, and it was %s\n"+
			"(ProjectID: %d, FileId: %d)\n"+
			"https://cflookup.com/%d",
		w.cfg.StaleAfter, newestFile.FileDate.UTC().Format(time.RFC3339), newestMod.Name,
		newestMod.ID, newestFile.ID, newestMod.ID))
	res.Notified = true
	return res, nil
}

func latestFile(files []curseforge.File) (curseforge.File, bool) {
	if len(files) == 0 {
		return curseforge.File{}, false
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.FileDate.After(best.FileDate) {
			best = f
		}
	}
	return best, true
}
