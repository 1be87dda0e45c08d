package handlers

import (
	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

// ConnectionWatcher is implemented by *voice.Manager.
type ConnectionWatcher interface {
	ConnectionLost(guildID, channelID string)
}

// VoiceStateHandler reports the bot being removed from a voice channel by
// anything other than a leave command, such as a kick or a channel delete.
type VoiceStateHandler struct {
	watcher ConnectionWatcher
	logger  pipeline.Logger
}

func NewVoiceStateHandler(watcher ConnectionWatcher, logger pipeline.Logger) *VoiceStateHandler {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	return &VoiceStateHandler{watcher: watcher, logger: logger}
}

// Handle is registered with discordgo for VoiceStateUpdate events.
func (h *VoiceStateHandler) Handle(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || s.State == nil || s.State.User == nil {
		return
	}
	h.handle(s.State.User.ID, vs)
}

func (h *VoiceStateHandler) handle(botID string, vs *discordgo.VoiceStateUpdate) {
	if vs.UserID != botID || vs.ChannelID != "" {
		return
	}

	// Only a disconnect from a known channel is attributed to a session.
	if vs.BeforeUpdate == nil || vs.BeforeUpdate.ChannelID == "" {
		h.logger.Debug("Ignoring voice disconnect without previous channel",
			pipeline.String("guild_id", vs.GuildID))
		return
	}
	before := vs.BeforeUpdate.ChannelID
	h.logger.Info("Bot left voice channel",
		pipeline.String("guild_id", vs.GuildID),
		pipeline.String("channel_id", before))
	h.watcher.ConnectionLost(vs.GuildID, before)
}
