package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/CurseForgeCommunity/CFLookup/internal/errors"
	"github.com/CurseForgeCommunity/CFLookup/pkg/mcstats"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// MinecraftStats serves the Minecraft mod count stats. *mcstats.Collector
// implements it.
type MinecraftStats interface {
	ModStats(ctx context.Context) (*mcstats.ModStats, error)
	ModpackStats(ctx context.Context) (*mcstats.ModpackStats, error)
	History(ctx context.Context, since time.Time) ([]syncstore.ModStatsSnapshot, error)
	OverTime(ctx context.Context) (map[string][]mcstats.Point, error)
}

// FileStatusStore lists the newest file seen per game.
type FileStatusStore interface {
	ListFileProcessingStatus(ctx context.Context) ([]syncstore.FileProcessingStatus, error)
}

func (a *API) statsRoutes(r chi.Router) {
	if a.Stats != nil {
		r.Get("/stats/minecraft/mod-stats", a.handleMinecraftModStats)
		r.Get("/stats/minecraft/modpack-stats", a.handleMinecraftModpackStats)
		r.Get("/stats/minecraft/mod-stats-over-time", a.handleMinecraftHistory)
		r.Get("/stats/minecraft/mod-stats-over-time.v2", a.handleMinecraftOverTime)
	}
	if a.FileStatus != nil {
		r.Get("/stats/file-processing", a.handleFileProcessing)
	}
}

func (a *API) handleMinecraftModStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Stats.ModStats(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleMinecraftModpackStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Stats.ModpackStats(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleMinecraftHistory returns every snapshot keyed by its timestamp. An
// optional since query parameter (RFC 3339) trims older snapshots.
func (a *API) handleMinecraftHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}

	snaps, err := a.Stats.History(r.Context(), since)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	out := make(map[string]syncstore.ModStatsCounts, len(snaps))
	for _, snap := range snaps {
		out[snap.RecordedAt.UTC().Format(time.RFC3339)] = snap.Stats.Data
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMinecraftOverTime(w http.ResponseWriter, r *http.Request) {
	series, err := a.Stats.OverTime(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// FileProcessingView is one entry of GET /api/stats/file-processing.
type FileProcessingView struct {
	GameID      int64     `json:"gameId"`
	ModID       int64     `json:"modId"`
	FileID      int64     `json:"fileId"`
	LastUpdated time.Time `json:"lastUpdatedUtc"`
	CheckedAt   time.Time `json:"checkedAt"`
}

func (a *API) handleFileProcessing(w http.ResponseWriter, r *http.Request) {
	rows, err := a.FileStatus.ListFileProcessingStatus(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	out := make([]FileProcessingView, 0, len(rows))
	for _, st := range rows {
		out = append(out, FileProcessingView{
			GameID:      st.GameID,
			ModID:       st.ModID,
			FileID:      st.FileID,
			LastUpdated: st.LastUpdated,
			CheckedAt:   st.LatestUpdate,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
