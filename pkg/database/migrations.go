package database

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema change.
type migration struct {
	Version int
	Name    string
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "session_history",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				session_id TEXT PRIMARY KEY,
				guild_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				started_at INTEGER NOT NULL,
				ended_at INTEGER,
				end_reason TEXT,
				tracks_played INTEGER NOT NULL DEFAULT 0,
				errors INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS session_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				guild_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				track_title TEXT,
				source_url TEXT,
				error TEXT,
				created_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_guild ON sessions(guild_id);
			CREATE INDEX IF NOT EXISTS idx_session_events_guild ON session_events(guild_id, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "retention_indexes",
		UpSQL: `
			CREATE INDEX IF NOT EXISTS idx_session_events_created ON session_events(created_at);
			CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);
		`,
	},
}

// migrate applies every migration newer than the recorded schema version.
func migrate(db *sql.DB) (int, error) {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return current, fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, m.Version, m.Name, err)
		}
		current = m.Version
	}
	return current, nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.UpSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
