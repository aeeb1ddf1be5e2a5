package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	if err := s.migrateV2(); err != nil {
		return err
	}
	return s.migrateV3()
}

// migrateV1 creates identity, assembly state and conversation log tables.
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assembly_states (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES users(id),
		conversation_id TEXT NOT NULL DEFAULT '',
		project_id      TEXT NOT NULL DEFAULT '',
		project_info    TEXT NOT NULL DEFAULT '{}',
		tasks           TEXT NOT NULL DEFAULT '[]',
		team_members    TEXT NOT NULL DEFAULT '[]',
		required_fields TEXT NOT NULL DEFAULT '[]',
		optional_fields TEXT NOT NULL DEFAULT '[]',
		current_step    TEXT NOT NULL DEFAULT 'initializing',
		status          TEXT NOT NULL DEFAULT 'in_progress',
		committed_tasks INTEGER NOT NULL DEFAULT 0,
		committed_members INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_states_conversation
		ON assembly_states(user_id, conversation_id) WHERE conversation_id != '';
	CREATE INDEX IF NOT EXISTS idx_states_user ON assembly_states(user_id, status, updated_at);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

// migrateV2 adds committed projects, their members and tasks.
// projects.assembly_state_id is UNIQUE: a state can materialize one project.
func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil // already at v2+
	}

	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id                TEXT PRIMARY KEY,
		assembly_state_id TEXT UNIQUE,
		slug              TEXT NOT NULL UNIQUE,
		name              TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT 'general',
		priority          TEXT NOT NULL DEFAULT 'medium',
		status            TEXT NOT NULL DEFAULT 'active',
		owner_id          TEXT NOT NULL,
		due_date          TEXT NOT NULL DEFAULT '',
		edc_date          TEXT NOT NULL DEFAULT '',
		fud_date          TEXT NOT NULL DEFAULT '',
		cover_image_url   TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS project_members (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		name       TEXT NOT NULL,
		email      TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL DEFAULT 'viewer',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_project ON project_members(project_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL REFERENCES projects(id),
		parent_id   TEXT REFERENCES tasks(id),
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority    TEXT NOT NULL DEFAULT 'medium',
		status      TEXT NOT NULL DEFAULT 'todo',
		due_date    TEXT NOT NULL DEFAULT '',
		assignees   TEXT NOT NULL DEFAULT '[]',
		position    INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, position);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// migrateV3 adds voice sessions and the cover image job log.
func (s *Store) migrateV3() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "3" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS voice_sessions (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		conversation_id   TEXT NOT NULL DEFAULT '',
		language          TEXT NOT NULL DEFAULT '',
		processing_status TEXT NOT NULL DEFAULT 'recording',
		transcript        TEXT NOT NULL DEFAULT '',
		confidence        REAL,
		detected_language TEXT NOT NULL DEFAULT '',
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		error             TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_voice_status ON voice_sessions(processing_status, updated_at);

	CREATE TABLE IF NOT EXISTS image_jobs (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'queued',
		attempts    INTEGER NOT NULL DEFAULT 0,
		image_url   TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_image_jobs_project ON image_jobs(project_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v3: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '3')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
