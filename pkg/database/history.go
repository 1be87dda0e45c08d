package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History is an append-only audit log of voice session lifecycle events,
// stored in SQLite. It never feeds state back into the bot.
type History struct {
	db     *sql.DB
	config *HistoryConfig

	mu     sync.RWMutex
	closed bool
}

// NewHistory opens (creating if needed) the history database and brings its
// schema up to date.
func NewHistory(config *HistoryConfig) (*History, error) {
	if config == nil {
		return nil, ErrInvalidDatabasePath
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", buildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &History{db: db, config: config}, nil
}

// buildConnectionString builds the SQLite connection string with options
func buildConnectionString(config *HistoryConfig) string {
	connStr := config.DatabasePath + "?"

	if config.WALMode {
		connStr += "_journal_mode=WAL&"
	}

	connStr += fmt.Sprintf("_synchronous=%s&", config.SynchronousMode)
	connStr += fmt.Sprintf("_busy_timeout=%d&", config.BusyTimeout.Milliseconds())
	connStr += "_foreign_keys=on"

	return connStr
}

// Record appends ev and updates the summary row of its session.
func (h *History) Record(ctx context.Context, ev *SessionEvent) error {
	if !validEventTypes[ev.EventType] {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, ev.EventType)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrSessionNotFound)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrDatabaseNotConnected
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	at := ev.CreatedAt.UnixMilli()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO session_events (session_id, guild_id, channel_id, event_type, track_title, source_url, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.GuildID, ev.ChannelID, ev.EventType,
		nullString(ev.TrackTitle), nullString(ev.SourceURL), nullString(ev.Error), at,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}

	// The first event of a session opens its row, whatever its type.
	if _, err := tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO sessions (session_id, guild_id, channel_id, started_at)
	VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.GuildID, ev.ChannelID, at,
	); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	var update string
	var args []interface{}
	switch {
	case ev.EventType == EventNowPlaying:
		update = "UPDATE sessions SET tracks_played = tracks_played + 1 WHERE session_id = ?"
		args = []interface{}{ev.SessionID}
	case ev.EventType == EventPlayFailed || ev.EventType == EventPlaybackError:
		update = "UPDATE sessions SET errors = errors + 1 WHERE session_id = ?"
		args = []interface{}{ev.SessionID}
	case endsSession(ev.EventType):
		update = "UPDATE sessions SET ended_at = ?, end_reason = ? WHERE session_id = ? AND ended_at IS NULL"
		args = []interface{}{at, ev.EventType, ev.SessionID}
	}
	if update != "" {
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
	}

	return tx.Commit()
}

// EventsByGuild returns the latest events of a guild, newest first.
func (h *History) EventsByGuild(ctx context.Context, guildID string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrDatabaseNotConnected
	}

	rows, err := h.db.QueryContext(ctx, `
	SELECT id, session_id, guild_id, channel_id, event_type,
		COALESCE(track_title, ''), COALESCE(source_url, ''), COALESCE(error, ''), created_at
	FROM session_events
	WHERE guild_id = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		var at int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.GuildID, &ev.ChannelID, &ev.EventType,
			&ev.TrackTitle, &ev.SourceURL, &ev.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetSession returns the summary of one session.
func (h *History) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrDatabaseNotConnected
	}

	var (
		rec       SessionRecord
		startedAt int64
		endedAt   sql.NullInt64
		endReason sql.NullString
	)
	err := h.db.QueryRowContext(ctx, `
	SELECT session_id, guild_id, channel_id, started_at, ended_at, end_reason, tracks_played, errors
	FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&rec.SessionID, &rec.GuildID, &rec.ChannelID, &startedAt, &endedAt, &endReason,
		&rec.TracksPlayed, &rec.Errors,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &t
	}
	rec.EndReason = endReason.String
	return &rec, nil
}

// Prune deletes events older than cutoff and sessions that ended before it.
// It returns the number of deleted events.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, ErrDatabaseNotConnected
	}

	res, err := h.db.ExecContext(ctx, "DELETE FROM session_events WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := h.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?", cutoff.UnixMilli(),
	); err != nil {
		return deleted, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return deleted, nil
}

// PruneExpired applies the configured retention.
func (h *History) PruneExpired(ctx context.Context) (int64, error) {
	return h.Prune(ctx, time.Now().Add(-h.config.Retention))
}

// Stats returns totals over the store.
func (h *History) Stats(ctx context.Context) (*HistoryStats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrDatabaseNotConnected
	}

	var stats HistoryStats
	err := h.db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL),
		(SELECT COUNT(*) FROM session_events)`).Scan(&stats.Sessions, &stats.ActiveSessions, &stats.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
