package modpack

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

const validManifestJSON = `{
  "minecraft": {
    "version": "1.20.1",
    "modLoaders": [{"id": "forge-47.2.0", "primary": true}]
  },
  "manifestType": "minecraftModpack",
  "manifestVersion": 1,
  "name": "Test Pack",
  "version": "1.0.0",
  "author": "someone",
  "files": [
    {"projectID": 10, "fileID": 100, "required": true},
    {"projectID": 20, "fileID": 200, "required": true}
  ],
  "overrides": "overrides"
}`

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadFromBytes(t *testing.T) {
	t.Run("bare manifest", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON))
		require.NoError(t, err)
		assert.Equal(t, "Test Pack", m.Name)
		assert.Equal(t, "1.20.1", m.Minecraft.Version)
		assert.Equal(t, "forge-47.2.0", m.PrimaryLoader())
		require.Len(t, m.Files, 2)
		assert.Equal(t, int64(20), m.Files[1].ProjectID)
	})

	t.Run("zip archive", func(t *testing.T) {
		data := zipWith(t, map[string]string{
			ManifestFileName:         validManifestJSON,
			"overrides/config/a.cfg": "x=1",
		})
		m, err := LoadFromBytes(data)
		require.NoError(t, err)
		assert.Equal(t, int64(100), m.Files[0].FileID)
	})

	t.Run("zip without manifest", func(t *testing.T) {
		data := zipWith(t, map[string]string{"modlist.html": "<ul></ul>"})
		_, err := LoadFromBytes(data)
		assert.ErrorIs(t, err, ErrNoManifest)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := LoadFromBytes(nil)
		require.Error(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := LoadFromBytes([]byte(`{"manifestType": "minecraftModpack", "manifestVersion": 1}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("wrong manifest type", func(t *testing.T) {
		_, err := LoadFromBytes([]byte(`{"manifestType":"other","manifestVersion":1,"minecraft":{"version":"1.20.1"},"files":[]}`))
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "pack.zip")
	require.NoError(t, os.WriteFile(p, zipWith(t, map[string]string{ManifestFileName: validManifestJSON}), 0o644))
	m, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "Test Pack", m.Name)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest file not found")
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Path: "/files/0/projectID", Message: "must be >= 1"},
		{Message: "missing minecraft"},
	}
	assert.ErrorIs(t, errs, ErrValidationFailed)
	assert.Contains(t, errs.Error(), "2 errors")
	assert.Contains(t, errs.Error(), "/files/0/projectID: must be >= 1")
	assert.Equal(t, "missing minecraft", errs[1].Error())
}

type fakeAPI struct {
	curseforge.API

	mods     map[int64]curseforge.Mod
	files    map[int64]curseforge.File
	modCalls [][]int64
}

func (f *fakeAPI) GetModsByIDs(_ context.Context, ids []int64, _ bool) ([]curseforge.Mod, error) {
	f.modCalls = append(f.modCalls, append([]int64(nil), ids...))
	var out []curseforge.Mod
	for _, id := range ids {
		if m, ok := f.mods[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetFilesByIDs(_ context.Context, ids []int64) ([]curseforge.File, error) {
	var out []curseforge.File
	for _, id := range ids {
		if fl, ok := f.files[id]; ok {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetMod(_ context.Context, id int64) (*curseforge.Mod, error) {
	m, ok := f.mods[id]
	if !ok {
		return nil, curseforge.ErrNotFound
	}
	return &m, nil
}

func (f *fakeAPI) GetModFile(_ context.Context, _, fileID int64) (*curseforge.File, error) {
	fl, ok := f.files[fileID]
	if !ok {
		return nil, curseforge.ErrNotFound
	}
	return &fl, nil
}

func boolPtr(v bool) *bool { return &v }

func modpackAPI() *fakeAPI {
	modpacks := curseforge.ClassIDModpacks
	required := func(ids ...int64) []curseforge.FileDependency {
		deps := make([]curseforge.FileDependency, 0, len(ids))
		for _, id := range ids {
			deps = append(deps, curseforge.FileDependency{ModID: id, RelationType: curseforge.RelationRequiredDependency})
		}
		return deps
	}
	return &fakeAPI{
		mods: map[int64]curseforge.Mod{
			10: {ID: 10, Name: "A", IsAvailable: true},
			20: {ID: 20, Name: "B", IsAvailable: true},
			30: {ID: 30, Name: "Library", IsAvailable: true},
			40: {ID: 40, Name: "Blocked", IsAvailable: true, AllowModDistribution: boolPtr(false)},
			50: {ID: 50, Name: "Gone", IsAvailable: false},
			60: {ID: 60, Name: "Optional", IsAvailable: false},
			99: {ID: 99, Name: "Pack", IsAvailable: true, ClassID: &modpacks},
		},
		files: map[int64]curseforge.File{
			100: {ID: 100, ModID: 10, Dependencies: append(required(30, 20),
				curseforge.FileDependency{ModID: 60, RelationType: curseforge.RelationOptionalDependency})},
			200: {ID: 200, ModID: 20, Dependencies: required(10, 40)},
		},
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("walks required dependencies once", func(t *testing.T) {
		api := modpackAPI()
		api.files[100] = curseforge.File{ID: 100, ModID: 10, Dependencies: []curseforge.FileDependency{
			{ModID: 30, RelationType: curseforge.RelationRequiredDependency},
			{ModID: 50, RelationType: curseforge.RelationRequiredDependency},
		}}
		c := NewChecker(api, CheckerConfig{}, nil)

		m, err := LoadFromBytes([]byte(validManifestJSON))
		require.NoError(t, err)

		res, err := c.Check(ctx, m)
		require.NoError(t, err)
		assert.False(t, res.OK())
		require.Len(t, res.Unavailable, 2)
		assert.Equal(t, int64(40), res.Unavailable[0].ID)
		assert.Equal(t, int64(50), res.Unavailable[1].ID)
		assert.Equal(t, 5, res.ProjectsChecked)

		seen := map[int64]int{}
		for _, call := range api.modCalls {
			for _, id := range call {
				seen[id]++
			}
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "project %d fetched more than once", id)
		}
	})

	t.Run("optional dependencies are ignored", func(t *testing.T) {
		api := modpackAPI()
		c := NewChecker(api, CheckerConfig{}, nil)

		res, err := c.Check(ctx, &Manifest{Files: []FileRef{{ProjectID: 10, FileID: 100}}})
		require.NoError(t, err)
		assert.True(t, res.OK())
		// 10, plus its required 30 and 20. Dependencies carry no file, so
		// 20's own dependencies are not followed.
		assert.Equal(t, 3, res.ProjectsChecked)
	})

	t.Run("all available", func(t *testing.T) {
		c := NewChecker(modpackAPI(), CheckerConfig{}, nil)
		res, err := c.Check(ctx, &Manifest{Files: []FileRef{{ProjectID: 30}}})
		require.NoError(t, err)
		assert.True(t, res.OK())
		assert.Equal(t, 1, res.ProjectsChecked)
	})

	t.Run("nil manifest", func(t *testing.T) {
		_, err := NewChecker(modpackAPI(), CheckerConfig{}, nil).Check(ctx, nil)
		require.Error(t, err)
	})
}

func TestCheckProjectFile(t *testing.T) {
	ctx := context.Background()
	pack := zipWith(t, map[string]string{ManifestFileName: validManifestJSON})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/pack.zip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(pack)
	}))
	defer srv.Close()

	api := modpackAPI()
	url := srv.URL + "/files/pack.zip"
	api.files[900] = curseforge.File{ID: 900, ModID: 99, DownloadURL: &url}
	api.files[901] = curseforge.File{ID: 901, ModID: 99}
	missing := srv.URL + "/files/missing.zip"
	api.files[902] = curseforge.File{ID: 902, ModID: 99, DownloadURL: &missing}

	c := NewChecker(api, CheckerConfig{HTTPClient: srv.Client()}, nil)

	t.Run("downloads and checks the pack", func(t *testing.T) {
		res, err := c.CheckProjectFile(ctx, 99, 900)
		require.NoError(t, err)
		assert.Equal(t, "Test Pack", res.Manifest.Name)
		assert.False(t, res.OK())
	})

	t.Run("not a modpack", func(t *testing.T) {
		_, err := c.CheckProjectFile(ctx, 10, 100)
		assert.ErrorIs(t, err, ErrNotDistributableModpack)
	})

	t.Run("no download url", func(t *testing.T) {
		_, err := c.CheckProjectFile(ctx, 99, 901)
		assert.ErrorIs(t, err, ErrNoDownloadURL)
	})

	t.Run("download failure", func(t *testing.T) {
		_, err := c.CheckProjectFile(ctx, 99, 902)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 404")
	})

	t.Run("oversized download", func(t *testing.T) {
		small := NewChecker(api, CheckerConfig{HTTPClient: srv.Client(), MaxPackSize: 8}, nil)
		_, err := small.CheckProjectFile(ctx, 99, 900)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}
