package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL DEFAULT '{}',
		phase      TEXT NOT NULL DEFAULT 'intake',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS images (
		id         TEXT NOT NULL,
		project_id TEXT NOT NULL,
		url        TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT '',
		alt_text   TEXT NOT NULL DEFAULT '',
		position   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_images_project ON images(project_id, position);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		state      TEXT NOT NULL,
		phase      TEXT NOT NULL,
		turn_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id, id);

	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_project ON turns(project_id, id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil // already at v2+
	}

	schema := `
	CREATE TABLE IF NOT EXISTS publish_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		result     TEXT NOT NULL,
		missing    TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_publish_project ON publish_log(project_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2 (tables): %w", err)
	}

	// ALTER TABLE projects ADD COLUMN published_at (ignore if already exists)
	_, _ = s.db.Exec(`ALTER TABLE projects ADD COLUMN published_at INTEGER`)

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
