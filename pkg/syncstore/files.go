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

// FileRow is one row of file_data.
type FileRow struct {
	FileID               int64
	GameID               int64
	ProjectID            int64
	IsAvailable          bool
	DisplayName          string
	FileName             string
	ReleaseType          int
	FileStatus           int
	Hashes               JSON[[]curseforge.FileHash]
	FileDate             time.Time
	FileLength           int64
	FileSizeOnDisk       *int64
	DownloadCount        int64
	DownloadURL          string
	GameVersions         JSON[[]string]
	SortableGameVersions JSON[[]curseforge.SortableGameVersion]
	Dependencies         JSON[[]curseforge.FileDependency]
	ExposeAsAlternative  *bool
	ParentProjectFileID  *int64
	AlternateFileID      *int64
	IsServerPack         *bool
	ServerPackFileID     *int64
	IsEarlyAccessContent *bool
	EarlyAccessEndDate   *time.Time
	FileFingerprint      int64
	Modules              JSON[[]curseforge.FileModule]

	LatestUpdate time.Time
}

var (
	fileKeys = []string{"fileid", "gameid", "projectid"}
	fileCols = []string{
		"isavailable", "displayname", "filename", "releasetype", "filestatus",
		"hashes", "filedate", "filelength", "filesizeondisk", "downloadcount",
		"downloadurl", "gameversions", "sortablegameversions", "dependencies",
		"exposeasalternative", "parentprojectfileid", "alternatefileid",
		"isserverpack", "serverpackfileid", "isearlyaccesscontent",
		"earlyaccessenddate", "filefingerprint", "modules",
	}
)

// FileFromAPI maps an API file to its row. A missing download URL is
// stored as the empty string.
func FileFromAPI(f curseforge.File) (FileRow, error) {
	if f.ID <= 0 {
		return FileRow{}, fmt.Errorf("invalid file id %d", f.ID)
	}
	var downloadURL string
	if f.DownloadURL != nil {
		downloadURL = *f.DownloadURL
	}
	return FileRow{
		FileID:               f.ID,
		GameID:               f.GameID,
		ProjectID:            f.ModID,
		IsAvailable:          f.IsAvailable,
		DisplayName:          strings.ReplaceAll(f.DisplayName, "\x00", ""),
		FileName:             f.FileName,
		ReleaseType:          int(f.ReleaseType),
		FileStatus:           int(f.FileStatus),
		Hashes:               NewJSON(f.Hashes),
		FileDate:             f.FileDate,
		FileLength:           f.FileLength,
		FileSizeOnDisk:       f.FileSizeOnDisk,
		DownloadCount:        f.DownloadCount,
		DownloadURL:          downloadURL,
		GameVersions:         NewJSON(f.GameVersions),
		SortableGameVersions: NewJSON(f.SortableGameVersions),
		Dependencies:         NewJSON(f.Dependencies),
		ExposeAsAlternative:  f.ExposeAsAlternative,
		ParentProjectFileID:  f.ParentProjectFileID,
		AlternateFileID:      f.AlternateFileID,
		IsServerPack:         f.IsServerPack,
		ServerPackFileID:     f.ServerPackFileID,
		IsEarlyAccessContent: f.IsEarlyAccessContent,
		EarlyAccessEndDate:   f.EarlyAccessEndDate,
		FileFingerprint:      f.FileFingerprint,
		Modules:              NewJSON(f.Modules),
	}, nil
}

func (s *Store) fileArgs(r FileRow) []any {
	return []any{
		r.FileID, r.GameID, r.ProjectID,
		r.IsAvailable, r.DisplayName, r.FileName, r.ReleaseType, r.FileStatus,
		r.Hashes, s.dialect.timeArg(r.FileDate), r.FileLength, r.FileSizeOnDisk, r.DownloadCount,
		r.DownloadURL, r.GameVersions, r.SortableGameVersions, r.Dependencies,
		r.ExposeAsAlternative, r.ParentProjectFileID, r.AlternateFileID,
		r.IsServerPack, r.ServerPackFileID, r.IsEarlyAccessContent,
		s.dialect.optionalTimeArg(r.EarlyAccessEndDate), r.FileFingerprint, r.Modules,
	}
}

// FileWriter upserts file rows. It satisfies ingest.Writer.
type FileWriter struct {
	store *Store
	query string
}

// FileWriter returns a writer for file_data.
func (s *Store) FileWriter() *FileWriter {
	return &FileWriter{store: s, query: upsertSQL(s.dialect, "file_data", fileKeys, fileCols)}
}

// WriteBatch upserts rows in one transaction.
func (w *FileWriter) WriteBatch(ctx context.Context, rows []FileRow) error {
	return batchUpsert(ctx, w.store, w.query, rows, w.store.fileArgs, func(r FileRow) string {
		return "file " + strconv.FormatInt(r.FileID, 10)
	})
}

// GetFile returns a stored file by ID.
func (s *Store) GetFile(ctx context.Context, fileID int64) (*FileRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var r FileRow
	var fileDate, earlyAccessEnd, latest any
	err := s.db.QueryRowContext(ctx, s.q(`SELECT fileid, gameid, projectid, `+strings.Join(fileCols, ", ")+`, latestupdate
		FROM file_data WHERE fileid = ? ORDER BY gameid, projectid LIMIT 1`), fileID).Scan(
		&r.FileID, &r.GameID, &r.ProjectID,
		&r.IsAvailable, &r.DisplayName, &r.FileName, &r.ReleaseType, &r.FileStatus,
		&r.Hashes, &fileDate, &r.FileLength, &r.FileSizeOnDisk, &r.DownloadCount,
		&r.DownloadURL, &r.GameVersions, &r.SortableGameVersions, &r.Dependencies,
		&r.ExposeAsAlternative, &r.ParentProjectFileID, &r.AlternateFileID,
		&r.IsServerPack, &r.ServerPackFileID, &r.IsEarlyAccessContent,
		&earlyAccessEnd, &r.FileFingerprint, &r.Modules,
		&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	if r.FileDate, err = parseDBTime(fileDate); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if r.EarlyAccessEndDate, err = parseOptionalDBTime(earlyAccessEnd); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if r.LatestUpdate, err = parseDBTime(latest); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	return &r, nil
}

// ListProjectFileIDs returns the IDs of a project's stored files, highest first.
func (s *Store) ListProjectFileIDs(ctx context.Context, projectID int64, limit int) ([]int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT fileid FROM file_data WHERE projectid = ? ORDER BY fileid DESC LIMIT ?`), projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return ids, nil
}

// CountFiles returns the number of stored files.
func (s *Store) CountFiles(ctx context.Context) (int64, error) {
	return s.count(ctx, "file_data")
}

// MaxFileID returns the highest stored file ID, or 0 when empty.
func (s *Store) MaxFileID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, "file_data", "fileid")
}
