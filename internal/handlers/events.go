package handlers

import (
	"context"
	"time"

	"github.com/latoulicious/tarumae-voice/internal/commands"
	"github.com/latoulicious/tarumae-voice/pkg/database"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Recorder stores session events. *database.History implements it.
type Recorder interface {
	Record(ctx context.Context, ev *database.SessionEvent) error
}

// PresenceSyncer is implemented by *presence.PresenceManager.
type PresenceSyncer interface {
	Sync(snaps []voice.Snapshot)
}

// EventNotifier drains the voice manager's events: it answers the channel
// that issued the command, keeps the presence current and appends to the
// session history.
type EventNotifier struct {
	responder commands.Responder
	snapshots func() []voice.Snapshot
	presence  PresenceSyncer
	recorder  Recorder
	logger    pipeline.Logger

	recordTimeout time.Duration
}

// NewEventNotifier builds a notifier. presence and recorder may be nil.
func NewEventNotifier(responder commands.Responder, snapshots func() []voice.Snapshot, presence PresenceSyncer, recorder Recorder, logger pipeline.Logger) *EventNotifier {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	return &EventNotifier{
		responder:     responder,
		snapshots:     snapshots,
		presence:      presence,
		recorder:      recorder,
		logger:        logger.With(pipeline.String("component", "event_notifier")),
		recordTimeout: 5 * time.Second,
	}
}

// Run handles events until the channel is closed.
func (n *EventNotifier) Run(events <-chan voice.Event) {
	for ev := range events {
		n.handle(ev)
	}
}

func (n *EventNotifier) handle(ev voice.Event) {
	n.logger.Debug("Voice event",
		pipeline.String("type", ev.Type.String()),
		pipeline.String("guild_id", ev.GuildID),
		pipeline.String("session_id", ev.SessionID))

	if ev.ReplyTo != "" {
		if msg := commands.EventMessage(ev); msg != "" {
			if _, err := n.responder.ChannelMessageSend(ev.ReplyTo, msg); err != nil {
				n.logger.Warn("Failed to send event reply",
					pipeline.String("channel_id", ev.ReplyTo),
					pipeline.Error(err))
			}
		}
	}

	if n.presence != nil && affectsPresence(ev.Type) {
		n.presence.Sync(n.snapshots())
	}

	if n.recorder != nil {
		n.record(ev)
	}
}

func (n *EventNotifier) record(ev voice.Event) {
	rec := &database.SessionEvent{
		SessionID: ev.SessionID,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		EventType: ev.Type.String(),
		CreatedAt: ev.Timestamp,
	}
	if ev.Track != nil {
		rec.TrackTitle = ev.Track.Title
		rec.SourceURL = ev.Track.SourceURL
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.recordTimeout)
	defer cancel()
	if err := n.recorder.Record(ctx, rec); err != nil {
		n.logger.Warn("Failed to record session event",
			pipeline.String("type", rec.EventType),
			pipeline.String("session_id", rec.SessionID),
			pipeline.Error(err))
	}
}

func affectsPresence(t voice.EventType) bool {
	switch t {
	case voice.EventNowPlaying, voice.EventTrackEnded, voice.EventPlaybackError,
		voice.EventStopped, voice.EventLeft, voice.EventConnectionLost:
		return true
	}
	return false
}
