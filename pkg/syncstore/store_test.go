package syncstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func ptr[T any](v T) *T { return &v }

func testMod(id int64) curseforge.Mod {
	created := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	return curseforge.Mod{
		ID:                 id,
		GameID:             432,
		Name:               "Test Mod",
		Slug:               "test-mod",
		Links:              curseforge.ModLinks{WebsiteURL: "https://example.com/test-mod"},
		Summary:            "a mod\x00 with a nul",
		Status:             curseforge.ModStatusApproved,
		DownloadCount:      1234,
		PrimaryCategoryID:  6,
		Categories:         []curseforge.Category{{ID: 6, GameID: 432, Name: "Tech"}},
		ClassID:            ptr(int64(6)),
		Authors:            []curseforge.ModAuthor{{ID: 1, Name: "author"}},
		MainFileID:         99,
		DateCreated:        created,
		DateModified:       created.Add(time.Hour),
		DateReleased:       created.Add(2 * time.Hour),
		GamePopularityRank: 10,
		IsAvailable:        true,
		ThumbsUpCount:      3,
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported driver", func(t *testing.T) {
		_, err := Open(ctx, Config{Driver: "oracle", DSN: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store driver")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Open(ctx, Config{})
		require.Error(t, err)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		_, err := Open(ctx, Config{Driver: "postgres"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dsn is required")
	})

	t.Run("file store creates directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "cflookup.db")
		s, err := Open(ctx, Config{Driver: "sqlite", DSN: path})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.Ping(ctx))
		assert.FileExists(t, path)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Migrate(ctx))

	v, err := s.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestMigrateUpgradesFromV1(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.DB().ExecContext(ctx, `UPDATE schema_meta SET schema_version = 1 WHERE id = 1`)
	require.NoError(t, err)

	// triggered_by already exists; the upgrade must tolerate that.
	require.NoError(t, s.Migrate(ctx))

	v, err := s.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestProjectUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := s.ProjectWriter()

	row, err := ProjectFromMod(testMod(42))
	require.NoError(t, err)
	assert.Equal(t, "a mod with a nul", row.Summary)

	require.NoError(t, w.WriteBatch(ctx, []ProjectRow{row}))
	first, err := s.GetProject(ctx, 42, 432)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		assert.Equal(t, "Test Mod", first.Name)
		assert.Equal(t, "test-mod", first.Slug)
		assert.Equal(t, "https://example.com/test-mod", first.Links.Data.WebsiteURL)
		assert.Equal(t, JSONSchemaVersion, first.Links.Version)
		require.Len(t, first.Categories.Data, 1)
		assert.Equal(t, "Tech", first.Categories.Data[0].Name)
		require.NotNil(t, first.ClassID)
		assert.Equal(t, int64(6), *first.ClassID)
		assert.Nil(t, first.AllowModDistribution)
		assert.Nil(t, first.Rating)
		assert.Nil(t, first.Logo.Data)
		assert.True(t, first.IsAvailable)
		assert.False(t, first.IsFeatured)
		assert.True(t, first.DateCreated.Equal(row.DateCreated))
		assert.False(t, first.LatestUpdate.IsZero())
	})

	t.Run("unchanged record leaves row identical except sync time", func(t *testing.T) {
		require.NoError(t, w.WriteBatch(ctx, []ProjectRow{row}))
		second, err := s.GetProject(ctx, 42, 432)
		require.NoError(t, err)

		assert.False(t, second.LatestUpdate.Before(first.LatestUpdate))
		a, b := *first, *second
		a.LatestUpdate, b.LatestUpdate = time.Time{}, time.Time{}
		assert.Equal(t, a, b)

		n, err := s.CountProjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("changed record updates changed columns", func(t *testing.T) {
		changed := row
		changed.Name = "Renamed Mod"
		changed.DownloadCount = 5000
		changed.Rating = ptr(4.5)
		changed.AllowModDistribution = ptr(false)
		require.NoError(t, w.WriteBatch(ctx, []ProjectRow{changed}))

		got, err := s.GetProject(ctx, 42, 0)
		require.NoError(t, err)
		assert.Equal(t, "Renamed Mod", got.Name)
		assert.Equal(t, int64(5000), got.DownloadCount)
		require.NotNil(t, got.Rating)
		assert.InDelta(t, 4.5, *got.Rating, 0.0001)
		require.NotNil(t, got.AllowModDistribution)
		assert.False(t, *got.AllowModDistribution)
		assert.Equal(t, first.Slug, got.Slug)
		assert.Equal(t, first.Authors, got.Authors)
	})

	t.Run("same project id in another game is a separate row", func(t *testing.T) {
		other := row
		other.GameID = 1
		require.NoError(t, w.WriteBatch(ctx, []ProjectRow{other}))

		n, err := s.CountProjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := s.GetProject(ctx, 7, 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestProjectFromModRejectsInvalidID(t *testing.T) {
	_, err := ProjectFromMod(curseforge.Mod{})
	require.Error(t, err)
}

func TestWriteBatchCancelledContext(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := s.ProjectWriter()

	good, err := ProjectFromMod(testMod(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, w.WriteBatch(ctx, []ProjectRow{good}))

	n, err := s.CountProjects(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, w.WriteBatch(context.Background(), nil))
}

func TestFileUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := s.FileWriter()

	fileDate := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	earlyEnd := fileDate.Add(72 * time.Hour)
	f := curseforge.File{
		ID:                   5000,
		GameID:               432,
		ModID:                42,
		IsAvailable:          true,
		DisplayName:          "Test 1.0",
		FileName:             "test-1.0.jar",
		ReleaseType:          curseforge.ReleaseTypeBeta,
		FileStatus:           4,
		Hashes:               []curseforge.FileHash{{Value: "abc", Algo: curseforge.HashAlgoSHA1}},
		FileDate:             fileDate,
		FileLength:           2048,
		DownloadCount:        10,
		GameVersions:         []string{"1.20.1", "Forge"},
		Dependencies:         []curseforge.FileDependency{{ModID: 7, RelationType: curseforge.RelationRequiredDependency}},
		IsServerPack:         ptr(false),
		IsEarlyAccessContent: ptr(true),
		EarlyAccessEndDate:   &earlyEnd,
		FileFingerprint:      123456789,
		Modules:              []curseforge.FileModule{{Name: "META-INF", Fingerprint: 1}},
	}

	row, err := FileFromAPI(f)
	require.NoError(t, err)
	assert.Empty(t, row.DownloadURL)

	require.NoError(t, w.WriteBatch(ctx, []FileRow{row, row}))

	got, err := s.GetFile(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ProjectID)
	assert.Equal(t, int(curseforge.ReleaseTypeBeta), got.ReleaseType)
	assert.Equal(t, []string{"1.20.1", "Forge"}, got.GameVersions.Data)
	require.Len(t, got.Dependencies.Data, 1)
	assert.Equal(t, curseforge.RelationRequiredDependency, got.Dependencies.Data[0].RelationType)
	assert.True(t, got.FileDate.Equal(fileDate))
	require.NotNil(t, got.EarlyAccessEndDate)
	assert.True(t, got.EarlyAccessEndDate.Equal(earlyEnd))
	require.NotNil(t, got.IsServerPack)
	assert.False(t, *got.IsServerPack)
	assert.Nil(t, got.FileSizeOnDisk)
	assert.Nil(t, got.ParentProjectFileID)

	ids, err := s.ListProjectFileIDs(ctx, 42, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{5000}, ids)

	maxID, err := s.MaxFileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), maxID)

	_, err = s.GetFile(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaxIDOnEmptyTables(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	maxProject, err := s.MaxProjectID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxProject)

	maxFile, err := s.MaxFileID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxFile)
}
