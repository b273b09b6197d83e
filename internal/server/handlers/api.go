package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/CurseForgeCommunity/CFLookup/internal/errors"
	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

// MirrorStore reads the synced project and file tables.
type MirrorStore interface {
	GetProject(ctx context.Context, projectID, gameID int64) (*syncstore.ProjectRow, error)
	GetFile(ctx context.Context, fileID int64) (*syncstore.FileRow, error)
	ListProjectFileIDs(ctx context.Context, projectID int64, limit int) ([]int64, error)
	CountProjects(ctx context.Context) (int64, error)
	CountFiles(ctx context.Context) (int64, error)
	ListSyncRuns(ctx context.Context, jobName string, limit int) ([]syncstore.SyncRun, error)
}

// Lookup serves live reads through the cache.
type Lookup interface {
	Games(ctx context.Context) ([]curseforge.Game, error)
	Game(ctx context.Context, gameID int64) (*curseforge.Game, error)
	Categories(ctx context.Context, gameID int64) ([]curseforge.Category, error)
	Mod(ctx context.Context, modID int64) (*curseforge.Mod, error)
	Mods(ctx context.Context, modIDs []int64) ([]curseforge.Mod, error)
	FileInfo(ctx context.Context, fileID int64) (*cache.FileInfo, error)
	ModBySlug(ctx context.Context, game, class, slug string) (*curseforge.Mod, error)
}

// LockInspector reports job lock holders.
type LockInspector interface {
	Inspect(ctx context.Context, name string) (joblock.Info, error)
}

// JobSource lists registered jobs and their pending follow-ups.
type JobSource interface {
	JobNames() []string
	Pending() []string
}

// ManifestChecker checks modpacks for undownloadable projects.
type ManifestChecker interface {
	Check(ctx context.Context, m *modpack.Manifest) (*modpack.Result, error)
	CheckProjectFile(ctx context.Context, projectID, fileID int64) (*modpack.Result, error)
}

// API holds the dependencies of the /api routes. Nil dependencies leave
// their routes unregistered.
type API struct {
	Store   MirrorStore
	Lookup  Lookup
	Locks   LockInspector
	Jobs    JobSource
	Checker ManifestChecker

	Stats      MinecraftStats
	FileStatus FileStatusStore

	// MaxModIDs caps the ids parameter of GET /api/mods. Default: 100
	MaxModIDs int
}

// Routes registers the API on r.
func (a *API) Routes(r chi.Router) {
	if a.Lookup != nil {
		r.Get("/games", a.handleGames)
		r.Get("/games/{gameID}", a.handleGame)
		r.Get("/games/{gameID}/categories", a.handleCategories)
		r.Get("/mods", a.handleMods)
		r.Get("/mods/{modID}", a.handleMod)
		r.Get("/files/{fileID}/info", a.handleFileInfo)
		r.Get("/slug/{game}/{class}/{slug}", a.handleSlug)
	}
	if a.Store != nil {
		r.Get("/projects/{projectID}", a.handleProject)
		r.Get("/files/{fileID}", a.handleFile)
		r.Get("/stats", a.handleStats)
	}
	if a.Store != nil && a.Locks != nil && a.Jobs != nil {
		r.Get("/jobs", a.handleJobs)
	}
	if a.Checker != nil {
		r.Post("/modpacks/check", a.handleCheckManifest)
		r.Get("/modpacks/{projectID}/files/{fileID}/check", a.handleCheckProjectFile)
	}
	a.statsRoutes(r)
}

func (a *API) handleGames(w http.ResponseWriter, r *http.Request) {
	games, err := a.Lookup.Games(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (a *API) handleGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}
	game, err := a.Lookup.Game(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}
	cats, err := a.Lookup.Categories(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (a *API) handleMod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "modID")
	if !ok {
		return
	}
	mod, err := a.Lookup.Mod(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

func (a *API) handleMods(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxModIDs
	if limit <= 0 {
		limit = 100
	}
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, r, apperrors.NewBadRequest("ids must be positive integers"))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 || len(ids) > limit {
		respondWithError(w, r, apperrors.NewBadRequest("ids must list between 1 and "+strconv.Itoa(limit)+" project IDs"))
		return
	}

	mods, err := a.Lookup.Mods(r.Context(), ids)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mods)
}

func (a *API) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}
	info, err := a.Lookup.FileInfo(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleSlug(w http.ResponseWriter, r *http.Request) {
	mod, err := a.Lookup.ModBySlug(r.Context(),
		chi.URLParam(r, "game"), chi.URLParam(r, "class"), chi.URLParam(r, "slug"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

// ProjectView is a synced project as served by the API.
type ProjectView struct {
	ID                   int64                  `json:"id"`
	GameID               int64                  `json:"gameId"`
	Name                 string                 `json:"name"`
	Slug                 string                 `json:"slug"`
	Summary              string                 `json:"summary"`
	Links                curseforge.ModLinks    `json:"links"`
	ClassID              *int64                 `json:"classId,omitempty"`
	Authors              []curseforge.ModAuthor `json:"authors"`
	DownloadCount        int64                  `json:"downloadCount"`
	MainFileID           int64                  `json:"mainFileId"`
	IsAvailable          bool                   `json:"isAvailable"`
	AllowModDistribution *bool                  `json:"allowModDistribution,omitempty"`
	DateModified         time.Time              `json:"dateModified"`
	LatestUpdate         time.Time              `json:"latestUpdate"`
	FileIDs              []int64                `json:"fileIds"`
}

func (a *API) handleProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var gameID int64
	if g := r.URL.Query().Get("gameId"); g != "" {
		v, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("gameId must be an integer"))
			return
		}
		gameID = v
	}

	p, err := a.Store.GetProject(r.Context(), id, gameID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	fileIDs, err := a.Store.ListProjectFileIDs(r.Context(), id, 1000)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProjectView{
		ID:                   p.ProjectID,
		GameID:               p.GameID,
		Name:                 p.Name,
		Slug:                 p.Slug,
		Summary:              p.Summary,
		Links:                p.Links.Data,
		ClassID:              p.ClassID,
		Authors:              p.Authors.Data,
		DownloadCount:        p.DownloadCount,
		MainFileID:           p.MainFileID,
		IsAvailable:          p.IsAvailable,
		AllowModDistribution: p.AllowModDistribution,
		DateModified:         p.DateModified,
		LatestUpdate:         p.LatestUpdate,
		FileIDs:              fileIDs,
	})
}

// FileView is a synced file as served by the API.
type FileView struct {
	ID            int64                       `json:"id"`
	GameID        int64                       `json:"gameId"`
	ProjectID     int64                       `json:"modId"`
	DisplayName   string                      `json:"displayName"`
	FileName      string                      `json:"fileName"`
	FileDate      time.Time                   `json:"fileDate"`
	FileLength    int64                       `json:"fileLength"`
	DownloadURL   string                      `json:"downloadUrl,omitempty"`
	GameVersions  []string                    `json:"gameVersions"`
	Hashes        []curseforge.FileHash       `json:"hashes"`
	Dependencies  []curseforge.FileDependency `json:"dependencies"`
	IsAvailable   bool                        `json:"isAvailable"`
	DownloadCount int64                       `json:"downloadCount"`
	LatestUpdate  time.Time                   `json:"latestUpdate"`
}

func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}
	f, err := a.Store.GetFile(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FileView{
		ID:            f.FileID,
		GameID:        f.GameID,
		ProjectID:     f.ProjectID,
		DisplayName:   f.DisplayName,
		FileName:      f.FileName,
		FileDate:      f.FileDate,
		FileLength:    f.FileLength,
		DownloadURL:   f.DownloadURL,
		GameVersions:  f.GameVersions.Data,
		Hashes:        f.Hashes.Data,
		Dependencies:  f.Dependencies.Data,
		IsAvailable:   f.IsAvailable,
		DownloadCount: f.DownloadCount,
		LatestUpdate:  f.LatestUpdate,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	projects, err := a.Store.CountProjects(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	files, err := a.Store.CountFiles(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"projects": projects, "files": files})
}

// JobStatus is one entry of GET /api/jobs.
type JobStatus struct {
	Name       string       `json:"name"`
	Lock       joblock.Info `json:"lock"`
	Pending    bool         `json:"pending"`
	RecentRuns []RunView    `json:"recentRuns"`
	LockError  string       `json:"lockError,omitempty"`
}

// RunView is a sync run as served by the API.
type RunView struct {
	RunID          string     `json:"runId"`
	Status         string     `json:"status"`
	TriggeredBy    string     `json:"triggeredBy"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	BucketsScanned int64      `json:"bucketsScanned"`
	RowsWritten    int64      `json:"rowsWritten"`
	BatchesDropped int64      `json:"batchesDropped"`
	RemoteErrors   int64      `json:"remoteErrors"`
	Error          string     `json:"error,omitempty"`
}

func (a *API) handleJobs(w http.ResponseWriter, r *http.Request) {
	pending := make(map[string]bool)
	for _, name := range a.Jobs.Pending() {
		pending[name] = true
	}

	out := make([]JobStatus, 0)
	for _, name := range a.Jobs.JobNames() {
		st := JobStatus{Name: name, Pending: pending[name], RecentRuns: []RunView{}}

		info, err := a.Locks.Inspect(r.Context(), name)
		if err != nil {
			st.Lock = joblock.Info{Name: name, Key: joblock.Key(name)}
			st.LockError = err.Error()
		} else {
			st.Lock = info
		}

		runs, err := a.Store.ListSyncRuns(r.Context(), name, 5)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		for _, run := range runs {
			st.RecentRuns = append(st.RecentRuns, RunView{
				RunID:          run.RunID,
				Status:         string(run.Status),
				TriggeredBy:    run.TriggeredBy,
				StartedAt:      run.StartedAt,
				EndedAt:        run.EndedAt,
				BucketsScanned: run.BucketsScanned,
				RowsWritten:    run.RowsWritten,
				BatchesDropped: run.BatchesDropped,
				RemoteErrors:   run.RemoteErrors,
				Error:          run.Error,
			})
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCheckManifest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, modpack.MaxManifestSize+1))
	if err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("could not read request body"))
		return
	}
	if int64(len(data)) > modpack.MaxManifestSize {
		respondWithError(w, r, apperrors.NewBadRequest("manifest too large"))
		return
	}

	m, err := modpack.LoadFromBytes(data)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	res, err := a.Checker.Check(r.Context(), m)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCheckProjectFile(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}
	res, err := a.Checker.CheckProjectFile(r.Context(), projectID, fileID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, r, apperrors.NewBadRequest(param+" must be a positive integer"))
		return 0, false
	}
	return id, true
}
