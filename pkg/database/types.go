package database

import (
	"fmt"
	"time"
)

// HistoryConfig holds configuration for the session history store
type HistoryConfig struct {
	DatabasePath    string        `json:"database_path"`
	Retention       time.Duration `json:"retention"`
	WALMode         bool          `json:"wal_mode"`
	SynchronousMode string        `json:"synchronous_mode"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
}

// DefaultHistoryConfig returns a configuration with sensible defaults
func DefaultHistoryConfig(path string) *HistoryConfig {
	return &HistoryConfig{
		DatabasePath:    path,
		Retention:       30 * 24 * time.Hour,
		WALMode:         true,
		SynchronousMode: "NORMAL",
		BusyTimeout:     5 * time.Second,
	}
}

// Validate validates the history configuration
func (c *HistoryConfig) Validate() error {
	if c.DatabasePath == "" {
		return ErrInvalidDatabasePath
	}
	if c.Retention <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRetention, c.Retention)
	}

	switch c.SynchronousMode {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSynchronousMode, c.SynchronousMode)
	}
	return nil
}

// Event types stored in the history. They match the names of the voice
// manager events.
const (
	EventJoined         = "joined"
	EventJoinFailed     = "join_failed"
	EventNowPlaying     = "now_playing"
	EventPlayFailed     = "play_failed"
	EventTrackEnded     = "track_ended"
	EventPlaybackError  = "playback_error"
	EventStopped        = "stopped"
	EventLeft           = "left"
	EventConnectionLost = "connection_lost"
)

var validEventTypes = map[string]bool{
	EventJoined: true, EventJoinFailed: true, EventNowPlaying: true,
	EventPlayFailed: true, EventTrackEnded: true, EventPlaybackError: true,
	EventStopped: true, EventLeft: true, EventConnectionLost: true,
}

// endsSession reports whether an event of this type closes its session.
func endsSession(eventType string) bool {
	switch eventType {
	case EventJoinFailed, EventLeft, EventConnectionLost:
		return true
	}
	return false
}

// SessionEvent is one entry of the audit log.
type SessionEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	GuildID    string    `json:"guild_id"`
	ChannelID  string    `json:"channel_id"`
	EventType  string    `json:"event_type"`
	TrackTitle string    `json:"track_title,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionRecord summarises one voice session from join to leave.
type SessionRecord struct {
	SessionID    string     `json:"session_id"`
	GuildID      string     `json:"guild_id"`
	ChannelID    string     `json:"channel_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndReason    string     `json:"end_reason,omitempty"`
	TracksPlayed int        `json:"tracks_played"`
	Errors       int        `json:"errors"`
}

// HistoryStats holds totals over the whole store.
type HistoryStats struct {
	Sessions       int64 `json:"sessions"`
	ActiveSessions int64 `json:"active_sessions"`
	Events         int64 `json:"events"`
}
