package voice

import "time"

// EventType identifies what happened to a session.
type EventType int

const (
	EventJoined EventType = iota
	EventJoinFailed
	EventNowPlaying
	EventPlayFailed
	EventTrackEnded
	EventPlaybackError
	EventStopped
	EventLeft
	EventConnectionLost
)

func (t EventType) String() string {
	switch t {
	case EventJoined:
		return "joined"
	case EventJoinFailed:
		return "join_failed"
	case EventNowPlaying:
		return "now_playing"
	case EventPlayFailed:
		return "play_failed"
	case EventTrackEnded:
		return "track_ended"
	case EventPlaybackError:
		return "playback_error"
	case EventStopped:
		return "stopped"
	case EventLeft:
		return "left"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is a state change of a guild session. ReplyTo is the text channel of
// the command that caused it, empty for changes nobody asked for.
type Event struct {
	Type      EventType
	GuildID   string
	ChannelID string
	ReplyTo   string
	SessionID string
	Track     *Track
	Err       error
	Timestamp time.Time
}
