package voice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/latoulicious/tarumae-voice/pkg/source"
)

// Track is the audio currently owned by a session.
type Track struct {
	SourceURL string
	Title     string
	Duration  time.Duration

	audio *source.Audio
}

func (t *Track) copy() *Track {
	if t == nil {
		return nil
	}
	c := *t
	c.audio = nil
	return &c
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	GuildID         string
	SessionID       string
	VoiceChannelID  string
	ConnectionState ConnectionState
	PlayerState     PlayerState
	Track           *Track
	Pending         string
	CreatedAt       time.Time
}

type playRequest struct {
	id      uint64
	input   string
	replyTo string
	cancel  context.CancelFunc
}

type playback struct {
	track   *Track
	replyTo string
	cancel  context.CancelFunc
	done    chan struct{}
}

// session is one guild's voice presence. Every field below mu is guarded by it.
type session struct {
	id        string
	guildID   string
	createdAt time.Time

	// ready is closed once the connection is established.
	ready chan struct{}
	// released is closed once the session no longer holds or awaits a voice
	// connection. The guild's next session connects only after it.
	released chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	channelID   string
	conn        Connection
	connState   ConnectionState
	playerState PlayerState
	current     *Track
	pending     *playRequest
	playback    *playback
	closed      bool
}

func newSession(parent context.Context, guildID, channelID string) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:        uuid.NewString(),
		guildID:   guildID,
		createdAt: time.Now(),
		ready:     make(chan struct{}),
		released:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		channelID: channelID,
		connState: Connecting,
	}
}

// detached is what is left of a session once it is out of the map: a
// connection to close once its playback goroutine is gone. released is set
// only when the connection was up; otherwise the connect goroutine still owns
// the release.
type detached struct {
	guildID  string
	conn     Connection
	playback *playback
	released chan struct{}
}

// detachLocked halts all work of the session and resets it to Disconnected.
// The caller must hold s.mu.
func (s *session) detachLocked() detached {
	d := detached{guildID: s.guildID, conn: s.conn, playback: s.playback}
	if s.conn != nil {
		d.released = s.released
	}

	s.closed = true
	s.cancel()
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
	if s.playback != nil {
		s.playback.cancel()
		s.playback = nil
	}

	s.current = nil
	s.conn = nil
	s.playerState = Idle
	s.connState = Disconnected
	return d
}

func (s *session) snapshotLocked() Snapshot {
	snap := Snapshot{
		GuildID:         s.guildID,
		SessionID:       s.id,
		VoiceChannelID:  s.channelID,
		ConnectionState: s.connState,
		PlayerState:     s.playerState,
		Track:           s.current.copy(),
		CreatedAt:       s.createdAt,
	}
	if s.pending != nil {
		snap.Pending = s.pending.input
	}
	return snap
}

func (s *session) eventLocked(t EventType, replyTo string, track *Track, err error) Event {
	return Event{
		Type:      t,
		GuildID:   s.guildID,
		ChannelID: s.channelID,
		ReplyTo:   replyTo,
		SessionID: s.id,
		Track:     track.copy(),
		Err:       err,
		Timestamp: time.Now(),
	}
}
