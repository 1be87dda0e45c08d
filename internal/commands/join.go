package commands

import (
	"errors"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Join connects the bot to the author's voice channel. Success is reported
// later from EventJoined.
func (r *Router) Join(inv Invocation) {
	err := r.voice.Join(inv.GuildID, inv.VoiceChannelID, inv.ChannelID)
	switch {
	case err == nil:
	case errors.Is(err, voice.ErrNotInVoiceChannel):
		r.reply(inv.ChannelID, msgNotInVoice)
	case errors.Is(err, voice.ErrManagerClosed):
		r.reply(inv.ChannelID, msgShuttingDown)
	default:
		r.logger.Error("Join failed",
			pipeline.String("guild_id", inv.GuildID),
			pipeline.String("voice_channel_id", inv.VoiceChannelID),
			pipeline.Error(err))
		r.reply(inv.ChannelID, msgJoinFailed)
	}
}
