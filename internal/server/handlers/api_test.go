package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/CurseForgeCommunity/CFLookup/internal/errors"
	"github.com/CurseForgeCommunity/CFLookup/pkg/cache"
	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
	"github.com/CurseForgeCommunity/CFLookup/pkg/joblock"
	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
	"github.com/CurseForgeCommunity/CFLookup/pkg/syncstore"
)

type fakeStore struct {
	projects map[int64]syncstore.ProjectRow
	files    map[int64]syncstore.FileRow
	runs     map[string][]syncstore.SyncRun
}

func (f *fakeStore) GetProject(_ context.Context, projectID, _ int64) (*syncstore.ProjectRow, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return nil, syncstore.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) GetFile(_ context.Context, fileID int64) (*syncstore.FileRow, error) {
	fl, ok := f.files[fileID]
	if !ok {
		return nil, syncstore.ErrNotFound
	}
	return &fl, nil
}

func (f *fakeStore) ListProjectFileIDs(_ context.Context, projectID int64, _ int) ([]int64, error) {
	var ids []int64
	for id, fl := range f.files {
		if fl.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) CountProjects(context.Context) (int64, error) { return int64(len(f.projects)), nil }
func (f *fakeStore) CountFiles(context.Context) (int64, error)    { return int64(len(f.files)), nil }

func (f *fakeStore) ListSyncRuns(_ context.Context, job string, _ int) ([]syncstore.SyncRun, error) {
	return f.runs[job], nil
}

type fakeLookup struct {
	mods map[int64]curseforge.Mod
}

func (f *fakeLookup) Games(context.Context) ([]curseforge.Game, error) {
	return []curseforge.Game{{ID: 432, Name: "Minecraft", Slug: "minecraft"}}, nil
}

func (f *fakeLookup) Game(_ context.Context, id int64) (*curseforge.Game, error) {
	if id != 432 {
		return nil, curseforge.ErrNotFound
	}
	return &curseforge.Game{ID: 432, Name: "Minecraft"}, nil
}

func (f *fakeLookup) Categories(context.Context, int64) ([]curseforge.Category, error) {
	return nil, nil
}

func (f *fakeLookup) Mod(_ context.Context, id int64) (*curseforge.Mod, error) {
	m, ok := f.mods[id]
	if !ok {
		return nil, &curseforge.APIError{StatusCode: 404}
	}
	return &m, nil
}

func (f *fakeLookup) Mods(_ context.Context, ids []int64) ([]curseforge.Mod, error) {
	var out []curseforge.Mod
	for _, id := range ids {
		if m, ok := f.mods[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeLookup) FileInfo(context.Context, int64) (*cache.FileInfo, error) {
	return nil, &curseforge.APIError{StatusCode: 500, Message: "upstream"}
}

func (f *fakeLookup) ModBySlug(_ context.Context, game, class, slug string) (*curseforge.Mod, error) {
	if game == "minecraft" && class == "mc-mods" && slug == "jei" {
		m := f.mods[238222]
		return &m, nil
	}
	return nil, curseforge.ErrNotFound
}

type fakeLocks struct{}

func (fakeLocks) Inspect(_ context.Context, name string) (joblock.Info, error) {
	if name == "sync-files" {
		return joblock.Info{Name: name, Key: joblock.Key(name), Held: true, Owner: "worker-1", Remaining: 10 * time.Second}, nil
	}
	return joblock.Info{Name: name, Key: joblock.Key(name)}, nil
}

type fakeJobs struct{}

func (fakeJobs) JobNames() []string { return []string{"sync-files", "sync-projects"} }
func (fakeJobs) Pending() []string  { return []string{"sync-projects"} }

type fakeChecker struct{}

func (fakeChecker) Check(_ context.Context, m *modpack.Manifest) (*modpack.Result, error) {
	return &modpack.Result{Manifest: m, ProjectsChecked: len(m.Files)}, nil
}

func (fakeChecker) CheckProjectFile(context.Context, int64, int64) (*modpack.Result, error) {
	return nil, modpack.ErrNotDistributableModpack
}

func newTestRouter() http.Handler {
	ended := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &API{
		Store: &fakeStore{
			projects: map[int64]syncstore.ProjectRow{
				10: {
					ProjectID: 10, GameID: 432, Name: "Ten", Slug: "ten",
					Authors: syncstore.NewJSON([]curseforge.ModAuthor{{ID: 1, Name: "author"}}),
				},
			},
			files: map[int64]syncstore.FileRow{
				100: {FileID: 100, GameID: 432, ProjectID: 10, FileName: "ten.jar",
					GameVersions: syncstore.NewJSON([]string{"1.20.1"})},
			},
			runs: map[string][]syncstore.SyncRun{
				"sync-files": {{RunID: "r1", JobName: "sync-files", Status: syncstore.RunStatusSuccess, EndedAt: &ended, RowsWritten: 42}},
			},
		},
		Lookup: &fakeLookup{mods: map[int64]curseforge.Mod{
			238222: {ID: 238222, Name: "JEI", Slug: "jei"},
			1:      {ID: 1, Name: "One"},
		}},
		Locks:     fakeLocks{},
		Jobs:      fakeJobs{},
		Checker:   fakeChecker{},
		MaxModIDs: 3,
	}
	r := chi.NewRouter()
	r.Route("/api", api.Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPError {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAPIProjects(t *testing.T) {
	h := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/projects/10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p ProjectView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Ten", p.Name)
	assert.Equal(t, []int64{100}, p.FileIDs)
	require.Len(t, p.Authors, 1)
	assert.Equal(t, "author", p.Authors[0].Name)

	rec = do(t, h, http.MethodGet, "/api/projects/11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/projects/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/projects/10?gameId=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIFilesAndStats(t *testing.T) {
	h := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/files/100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var f FileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.Equal(t, "ten.jar", f.FileName)
	assert.Equal(t, []string{"1.20.1"}, f.GameVersions)

	rec = do(t, h, http.MethodGet, "/api/files/100/info", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"projects":1,"files":1}`, rec.Body.String())
}

func TestAPILookups(t *testing.T) {
	h := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Minecraft")

	rec = do(t, h, http.MethodGet, "/api/games/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/mods/238222", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"JEI"`)

	rec = do(t, h, http.MethodGet, "/api/mods/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/mods?ids=1,238222", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mods []curseforge.Mod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mods))
	assert.Len(t, mods, 2)

	rec = do(t, h, http.MethodGet, "/api/mods?ids=1,2,3,4", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/mods?ids=1,x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/slug/minecraft/mc-mods/jei", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"jei"`)
}

func TestAPIJobs(t *testing.T) {
	rec := do(t, newTestRouter(), http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)

	assert.Equal(t, "sync-files", jobs[0].Name)
	assert.True(t, jobs[0].Lock.Held)
	assert.Equal(t, "worker-1", jobs[0].Lock.Owner)
	assert.False(t, jobs[0].Pending)
	require.Len(t, jobs[0].RecentRuns, 1)
	assert.Equal(t, int64(42), jobs[0].RecentRuns[0].RowsWritten)

	assert.Equal(t, "sync-projects", jobs[1].Name)
	assert.True(t, jobs[1].Pending)
	assert.Empty(t, jobs[1].RecentRuns)
}

func TestAPIModpackCheck(t *testing.T) {
	h := newTestRouter()

	manifest := `{"manifestType":"minecraftModpack","manifestVersion":1,
		"minecraft":{"version":"1.20.1"},
		"files":[{"projectID":1,"fileID":2,"required":true}]}`
	rec := do(t, h, http.MethodPost, "/api/modpacks/check", manifest)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"projectsChecked":1`)

	rec = do(t, h, http.MethodPost, "/api/modpacks/check", `{"manifestType":"minecraftModpack"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperrors.CodeValidation, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/modpacks/10/files/100/check", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPIRoutesNeedDependencies(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/api", (&API{}).Routes)

	for _, path := range []string{"/api/games", "/api/projects/1", "/api/jobs"} {
		rec := do(t, r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
