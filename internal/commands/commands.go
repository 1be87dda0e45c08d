package commands

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/pkg/database"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Responder is the subset of *discordgo.Session used to answer commands.
type Responder interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Voice is the session manager as seen by the command layer.
type Voice interface {
	Join(guildID, voiceChannelID, replyTo string) error
	Play(guildID, input, replyTo string) error
	Stop(guildID string) error
	Leave(guildID string) error
	Snapshot(guildID string) (voice.Snapshot, bool)
}

// HistoryReader is implemented by *database.History.
type HistoryReader interface {
	EventsByGuild(ctx context.Context, guildID string, limit int) ([]database.SessionEvent, error)
	GetSession(ctx context.Context, sessionID string) (*database.SessionRecord, error)
}

// Option configures a Router.
type Option func(*Router)

// WithHistory enables the history command.
func WithHistory(h HistoryReader) Option {
	return func(r *Router) {
		r.history = h
	}
}

// Invocation is one parsed command message.
type Invocation struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	// VoiceChannelID is the author's current voice channel, empty if none.
	VoiceChannelID string
	Args           []string
}

// Router dispatches parsed commands to the voice manager and answers in the
// invoking text channel.
type Router struct {
	prefix    string
	voice     Voice
	responder Responder
	logger    pipeline.Logger
	metrics   pipeline.MetricsCollector
	history   HistoryReader
}

func NewRouter(prefix string, voice Voice, responder Responder, logger pipeline.Logger, metrics pipeline.MetricsCollector, opts ...Option) *Router {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	if metrics == nil {
		metrics = pipeline.NewBasicMetricsCollector(nil)
	}
	r := &Router{
		prefix:    prefix,
		voice:     voice,
		responder: responder,
		logger:    logger.With(pipeline.String("component", "commands")),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch runs the named command and reports whether it was recognised.
func (r *Router) Dispatch(name string, inv Invocation) bool {
	switch strings.ToLower(name) {
	case "join", "j":
		r.Join(inv)
	case "play", "p":
		r.Play(inv)
	case "stop":
		r.Stop(inv)
	case "leave", "dc":
		r.Leave(inv)
	case "nowplaying", "np":
		r.NowPlaying(inv)
	case "history":
		r.History(inv)
	case "help", "h":
		r.Help(inv)
	default:
		return false
	}
	r.metrics.RecordCounter("commands.dispatched", 1, map[string]string{"command": strings.ToLower(name)})
	return true
}

func (r *Router) reply(channelID, content string) {
	if content == "" {
		return
	}
	if _, err := r.responder.ChannelMessageSend(channelID, content); err != nil {
		r.logger.Warn("Failed to send reply",
			pipeline.String("channel_id", channelID),
			pipeline.Error(err))
	}
}
