package syncstore

import (
	"context"
	"fmt"
	"strings"
)

const SchemaVersion = 3

// Migrate creates (or upgrades) the store schema in-place.
//
// v1: project_data, file_data, sync_runs, sync_run_events
// v2: sync_runs.triggered_by (cron, chain, manual)
// v3: minecraft_mod_stats, file_processing_status
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}

	d := s.dialect
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		)`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING`,

		`CREATE TABLE IF NOT EXISTS project_data (
			projectid BIGINT NOT NULL,
			gameid BIGINT NOT NULL,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			links ` + d.jsonType() + `,
			summary TEXT NOT NULL,
			status INTEGER NOT NULL,
			downloadcount BIGINT NOT NULL,
			isfeatured ` + d.boolType() + ` NOT NULL,
			primarycategoryid BIGINT NOT NULL,
			categories ` + d.jsonType() + `,
			classid BIGINT,
			authors ` + d.jsonType() + `,
			logo ` + d.jsonType() + `,
			screenshots ` + d.jsonType() + `,
			mainfileid BIGINT NOT NULL,
			latestfiles ` + d.jsonType() + `,
			latestfileindexes ` + d.jsonType() + `,
			datecreated ` + d.timeType() + `,
			datemodified ` + d.timeType() + `,
			datereleased ` + d.timeType() + `,
			allowmoddistribution ` + d.boolType() + `,
			gamepopularityrank BIGINT NOT NULL,
			isavailable ` + d.boolType() + ` NOT NULL,
			thumbsupcount BIGINT NOT NULL,
			rating ` + d.floatType() + `,
			latestupdate ` + d.timeType() + ` NOT NULL,
			PRIMARY KEY (projectid, gameid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_data_gameid_classid ON project_data(gameid, classid)`,
		`CREATE INDEX IF NOT EXISTS idx_project_data_slug ON project_data(gameid, slug)`,

		`CREATE TABLE IF NOT EXISTS file_data (
			fileid BIGINT NOT NULL,
			gameid BIGINT NOT NULL,
			projectid BIGINT NOT NULL,
			isavailable ` + d.boolType() + ` NOT NULL,
			displayname TEXT NOT NULL,
			filename TEXT NOT NULL,
			releasetype INTEGER NOT NULL,
			filestatus INTEGER NOT NULL,
			hashes ` + d.jsonType() + `,
			filedate ` + d.timeType() + `,
			filelength BIGINT NOT NULL,
			filesizeondisk BIGINT,
			downloadcount BIGINT NOT NULL,
			downloadurl TEXT NOT NULL,
			gameversions ` + d.jsonType() + `,
			sortablegameversions ` + d.jsonType() + `,
			dependencies ` + d.jsonType() + `,
			exposeasalternative ` + d.boolType() + `,
			parentprojectfileid BIGINT,
			alternatefileid BIGINT,
			isserverpack ` + d.boolType() + `,
			serverpackfileid BIGINT,
			isearlyaccesscontent ` + d.boolType() + `,
			earlyaccessenddate ` + d.timeType() + `,
			filefingerprint BIGINT NOT NULL,
			modules ` + d.jsonType() + `,
			latestupdate ` + d.timeType() + ` NOT NULL,
			PRIMARY KEY (fileid, gameid, projectid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_data_projectid ON file_data(projectid)`,

		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			started_at ` + d.timeType() + ` NOT NULL,
			ended_at ` + d.timeType() + `,
			status TEXT NOT NULL,
			triggered_by TEXT,
			buckets_scanned BIGINT NOT NULL DEFAULT 0,
			rows_written BIGINT NOT NULL DEFAULT 0,
			batches_dropped BIGINT NOT NULL DEFAULT 0,
			remote_errors BIGINT NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_job_started ON sync_runs(job_name, started_at)`,

		`CREATE TABLE IF NOT EXISTS sync_run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			occurred_at ` + d.timeType() + ` NOT NULL,
			event_type TEXT NOT NULL,
			event_category TEXT NOT NULL,
			bucket_start BIGINT,
			detail TEXT,
			FOREIGN KEY(run_id) REFERENCES sync_runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_run_events_run_id ON sync_run_events(run_id)`,

		`CREATE TABLE IF NOT EXISTS minecraft_mod_stats (
			snapshot_id TEXT PRIMARY KEY,
			recorded_at ` + d.timeType() + ` NOT NULL,
			stats ` + d.jsonType() + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minecraft_mod_stats_recorded ON minecraft_mod_stats(recorded_at)`,

		`CREATE TABLE IF NOT EXISTS file_processing_status (
			gameid BIGINT PRIMARY KEY,
			modid BIGINT NOT NULL,
			fileid BIGINT NOT NULL,
			last_updated_utc ` + d.timeType() + ` NOT NULL,
			latestupdate ` + d.timeType() + ` NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current < 2 {
		alter := `ALTER TABLE sync_runs ADD COLUMN triggered_by TEXT`
		if d == Postgres {
			alter = `ALTER TABLE sync_runs ADD COLUMN IF NOT EXISTS triggered_by TEXT`
		}
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			msg := err.Error()
			// SQLite/libsql report duplicate columns as an error; treat as idempotent.
			if !strings.Contains(msg, "duplicate column name") && !strings.Contains(msg, "already exists") {
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE schema_meta SET schema_version=? WHERE id=1`), SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// CurrentSchemaVersion reads the recorded schema version.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
