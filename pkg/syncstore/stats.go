package syncstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ModStatsCounts maps a game version to per-loader project counts.
type ModStatsCounts map[string]map[string]int64

// ModStatsSnapshot is one hourly row of minecraft_mod_stats.
type ModStatsSnapshot struct {
	SnapshotID string
	RecordedAt time.Time
	Stats      JSON[ModStatsCounts]
}

// InsertModStatsSnapshot appends a snapshot stamped with the current time.
func (s *Store) InsertModStatsSnapshot(ctx context.Context, stats ModStatsCounts) (*ModStatsSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	snap := &ModStatsSnapshot{
		SnapshotID: "mcs_" + uuid.NewString(),
		RecordedAt: time.Now().UTC(),
		Stats:      NewJSON(stats),
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO minecraft_mod_stats (snapshot_id, recorded_at, stats) VALUES (?, ?, ?)`),
		snap.SnapshotID, s.dialect.timeArg(snap.RecordedAt), snap.Stats)
	if err != nil {
		return nil, fmt.Errorf("insert minecraft_mod_stats: %w", err)
	}
	return snap, nil
}

// ListModStatsSnapshots returns snapshots recorded at or after since,
// oldest first. A zero since lists every snapshot.
func (s *Store) ListModStatsSnapshots(ctx context.Context, since time.Time) ([]ModStatsSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT snapshot_id, recorded_at, stats FROM minecraft_mod_stats`
	var args []any
	if !since.IsZero() {
		query += ` WHERE recorded_at >= ?`
		args = append(args, s.dialect.timeArg(since))
	}
	query += ` ORDER BY recorded_at ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list minecraft_mod_stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ModStatsSnapshot
	for rows.Next() {
		var snap ModStatsSnapshot
		var recorded any
		if err := rows.Scan(&snap.SnapshotID, &recorded, &snap.Stats); err != nil {
			return nil, fmt.Errorf("scan minecraft_mod_stats: %w", err)
		}
		if snap.RecordedAt, err = parseDBTime(recorded); err != nil {
			return nil, fmt.Errorf("scan minecraft_mod_stats: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate minecraft_mod_stats: %w", err)
	}
	return out, nil
}

// FileProcessingStatus is the most recently updated file seen for a game.
type FileProcessingStatus struct {
	GameID       int64
	ModID        int64
	FileID       int64
	LastUpdated  time.Time
	LatestUpdate time.Time
}

var (
	fileProcessingKeys = []string{"gameid"}
	fileProcessingCols = []string{"modid", "fileid", "last_updated_utc"}
)

// UpsertFileProcessingStatus records the newest file for a game.
func (s *Store) UpsertFileProcessingStatus(ctx context.Context, st FileProcessingStatus) error {
	if ctx == nil {
		ctx = context.Background()
	}
	query := upsertSQL(s.dialect, "file_processing_status", fileProcessingKeys, fileProcessingCols)
	_, err := s.db.ExecContext(ctx, query,
		st.GameID, st.ModID, st.FileID, s.dialect.timeArg(st.LastUpdated))
	if err != nil {
		return fmt.Errorf("upsert file_processing_status %d: %w", st.GameID, err)
	}
	return nil
}

// ListFileProcessingStatus returns every game's newest file, most recent
// first.
func (s *Store) ListFileProcessingStatus(ctx context.Context) ([]FileProcessingStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT gameid, modid, fileid, last_updated_utc, latestupdate
		 FROM file_processing_status
		 ORDER BY last_updated_utc DESC, gameid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list file_processing_status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileProcessingStatus
	for rows.Next() {
		var st FileProcessingStatus
		var last, latest any
		if err := rows.Scan(&st.GameID, &st.ModID, &st.FileID, &last, &latest); err != nil {
			return nil, fmt.Errorf("scan file_processing_status: %w", err)
		}
		if st.LastUpdated, err = parseDBTime(last); err != nil {
			return nil, fmt.Errorf("scan file_processing_status: %w", err)
		}
		if st.LatestUpdate, err = parseDBTime(latest); err != nil {
			return nil, fmt.Errorf("scan file_processing_status: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file_processing_status: %w", err)
	}
	return out, nil
}
