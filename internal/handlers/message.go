package handlers

import (
	"math/rand"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/internal/commands"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

var mentionResponses = []string{
	"I'm Hokko Tarumae, Tomakomai's Tourism Ambassador!★",
	"Hmm, would ah look cuter if ah was lookin' up more?",
	"A paper-winged migrating bird from the port in the north ♪ The name's Hokko Tarumae, Tomakomai's local-dol, eh! ...Yeah, maybe I should work on it more",
}

const msgSlowDown = "You're sending commands too fast. Please wait a moment."

// ParseCommand splits a prefixed message into its command name and
// arguments. ok is false when content is not a command.
func ParseCommand(prefix, content string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// MessageHandler turns prefixed guild messages into commands.
type MessageHandler struct {
	prefix    string
	router    *commands.Router
	responder commands.Responder
	limiter   *UserLimiter
	logger    pipeline.Logger
}

func NewMessageHandler(prefix string, router *commands.Router, responder commands.Responder, limiter *UserLimiter, logger pipeline.Logger) *MessageHandler {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	return &MessageHandler{
		prefix:    prefix,
		router:    router,
		responder: responder,
		limiter:   limiter,
		logger:    logger.With(pipeline.String("component", "message_handler")),
	}
}

// Handle is registered with discordgo for MessageCreate events.
func (h *MessageHandler) Handle(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || s.State == nil || s.State.User == nil {
		return
	}

	h.handle(s.State.User.ID, m.Message, func() string {
		vs, err := s.State.VoiceState(m.GuildID, m.Author.ID)
		if err != nil || vs == nil {
			return ""
		}
		return vs.ChannelID
	})
}

// handle processes m on behalf of bot botID. voiceChannel looks up the
// author's current voice channel and is only called for commands.
func (h *MessageHandler) handle(botID string, m *discordgo.Message, voiceChannel func() string) {
	// Ignore the bot itself and other bots
	if m.Author.ID == botID || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}

	for _, mention := range m.Mentions {
		if mention.ID == botID {
			h.send(m.ChannelID, mentionResponses[rand.Intn(len(mentionResponses))])
			return
		}
	}

	name, args, ok := ParseCommand(h.prefix, m.Content)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(m.Author.ID) {
		h.logger.Debug("Command rate limited",
			pipeline.String("user_id", m.Author.ID),
			pipeline.String("command", name))
		h.send(m.ChannelID, msgSlowDown)
		return
	}

	inv := commands.Invocation{
		GuildID:        m.GuildID,
		ChannelID:      m.ChannelID,
		AuthorID:       m.Author.ID,
		VoiceChannelID: voiceChannel(),
		Args:           args,
	}
	if !h.router.Dispatch(name, inv) {
		h.logger.Debug("Unknown command", pipeline.String("command", name))
	}
}

func (h *MessageHandler) send(channelID, content string) {
	if _, err := h.responder.ChannelMessageSend(channelID, content); err != nil {
		h.logger.Warn("Failed to send message", pipeline.String("channel_id", channelID), pipeline.Error(err))
	}
}
