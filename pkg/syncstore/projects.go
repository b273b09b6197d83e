package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CurseForgeCommunity/CFLookup/pkg/curseforge"
)

// ProjectRow is one row of project_data.
type ProjectRow struct {
	ProjectID            int64
	GameID               int64
	Name                 string
	Slug                 string
	Links                JSON[curseforge.ModLinks]
	Summary              string
	Status               int
	DownloadCount        int64
	IsFeatured           bool
	PrimaryCategoryID    int64
	Categories           JSON[[]curseforge.Category]
	ClassID              *int64
	Authors              JSON[[]curseforge.ModAuthor]
	Logo                 JSON[*curseforge.ModAsset]
	Screenshots          JSON[[]curseforge.ModAsset]
	MainFileID           int64
	LatestFiles          JSON[[]curseforge.File]
	LatestFileIndexes    JSON[[]curseforge.FileIndex]
	DateCreated          time.Time
	DateModified         time.Time
	DateReleased         time.Time
	AllowModDistribution *bool
	GamePopularityRank   int64
	IsAvailable          bool
	ThumbsUpCount        int64
	Rating               *float64

	// LatestUpdate is set by the database on every upsert.
	LatestUpdate time.Time
}

var (
	projectKeys = []string{"projectid", "gameid"}
	projectCols = []string{
		"name", "slug", "links", "summary", "status", "downloadcount",
		"isfeatured", "primarycategoryid", "categories", "classid", "authors",
		"logo", "screenshots", "mainfileid", "latestfiles", "latestfileindexes",
		"datecreated", "datemodified", "datereleased", "allowmoddistribution",
		"gamepopularityrank", "isavailable", "thumbsupcount", "rating",
	}
)

// ProjectFromMod maps an API project to its row. NUL bytes are stripped
// from the summary since PostgreSQL text columns reject them.
func ProjectFromMod(m curseforge.Mod) (ProjectRow, error) {
	if m.ID <= 0 {
		return ProjectRow{}, fmt.Errorf("invalid project id %d", m.ID)
	}
	return ProjectRow{
		ProjectID:            m.ID,
		GameID:               m.GameID,
		Name:                 m.Name,
		Slug:                 m.Slug,
		Links:                NewJSON(m.Links),
		Summary:              strings.ReplaceAll(m.Summary, "\x00", ""),
		Status:               int(m.Status),
		DownloadCount:        m.DownloadCount,
		IsFeatured:           m.IsFeatured,
		PrimaryCategoryID:    m.PrimaryCategoryID,
		Categories:           NewJSON(m.Categories),
		ClassID:              m.ClassID,
		Authors:              NewJSON(m.Authors),
		Logo:                 NewJSON(m.Logo),
		Screenshots:          NewJSON(m.Screenshots),
		MainFileID:           m.MainFileID,
		LatestFiles:          NewJSON(m.LatestFiles),
		LatestFileIndexes:    NewJSON(m.LatestFilesIndexes),
		DateCreated:          m.DateCreated,
		DateModified:         m.DateModified,
		DateReleased:         m.DateReleased,
		AllowModDistribution: m.AllowModDistribution,
		GamePopularityRank:   m.GamePopularityRank,
		IsAvailable:          m.IsAvailable,
		ThumbsUpCount:        m.ThumbsUpCount,
		Rating:               m.Rating,
	}, nil
}

func (s *Store) projectArgs(r ProjectRow) []any {
	return []any{
		r.ProjectID, r.GameID,
		r.Name, r.Slug, r.Links, r.Summary, r.Status, r.DownloadCount,
		r.IsFeatured, r.PrimaryCategoryID, r.Categories, r.ClassID, r.Authors,
		r.Logo, r.Screenshots, r.MainFileID, r.LatestFiles, r.LatestFileIndexes,
		s.dialect.timeArg(r.DateCreated), s.dialect.timeArg(r.DateModified), s.dialect.timeArg(r.DateReleased),
		r.AllowModDistribution, r.GamePopularityRank, r.IsAvailable, r.ThumbsUpCount, r.Rating,
	}
}

// ProjectWriter upserts project rows. It satisfies ingest.Writer.
type ProjectWriter struct {
	store *Store
	query string
}

// ProjectWriter returns a writer for project_data.
func (s *Store) ProjectWriter() *ProjectWriter {
	return &ProjectWriter{store: s, query: upsertSQL(s.dialect, "project_data", projectKeys, projectCols)}
}

// WriteBatch upserts rows in one transaction.
func (w *ProjectWriter) WriteBatch(ctx context.Context, rows []ProjectRow) error {
	return batchUpsert(ctx, w.store, w.query, rows, w.store.projectArgs, func(r ProjectRow) string {
		return "project " + strconv.FormatInt(r.ProjectID, 10)
	})
}

// GetProject returns a stored project. When gameID is zero the first
// matching project in any game is returned.
func (s *Store) GetProject(ctx context.Context, projectID, gameID int64) (*ProjectRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT projectid, gameid, ` + strings.Join(projectCols, ", ") + `, latestupdate
		FROM project_data WHERE projectid = ?`
	args := []any{projectID}
	if gameID != 0 {
		query += ` AND gameid = ?`
		args = append(args, gameID)
	}
	query += ` ORDER BY gameid LIMIT 1`

	var r ProjectRow
	var created, modified, released, latest any
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(
		&r.ProjectID, &r.GameID,
		&r.Name, &r.Slug, &r.Links, &r.Summary, &r.Status, &r.DownloadCount,
		&r.IsFeatured, &r.PrimaryCategoryID, &r.Categories, &r.ClassID, &r.Authors,
		&r.Logo, &r.Screenshots, &r.MainFileID, &r.LatestFiles, &r.LatestFileIndexes,
		&created, &modified, &released,
		&r.AllowModDistribution, &r.GamePopularityRank, &r.IsAvailable, &r.ThumbsUpCount, &r.Rating,
		&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	for _, tc := range []struct {
		src any
		dst *time.Time
	}{
		{created, &r.DateCreated},
		{modified, &r.DateModified},
		{released, &r.DateReleased},
		{latest, &r.LatestUpdate},
	} {
		t, err := parseDBTime(tc.src)
		if err != nil {
			return nil, fmt.Errorf("get project: %w", err)
		}
		*tc.dst = t
	}

	return &r, nil
}

// CountProjects returns the number of stored projects.
func (s *Store) CountProjects(ctx context.Context) (int64, error) {
	return s.count(ctx, "project_data")
}

// MaxProjectID returns the highest stored project ID, or 0 when empty.
func (s *Store) MaxProjectID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, "project_data", "projectid")
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) maxID(ctx context.Context, table, col string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(`+col+`) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("max %s.%s: %w", table, col, err)
	}
	return n.Int64, nil
}
