package commands

import (
	"errors"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Leave halts playback and disconnects from the guild's voice channel.
func (r *Router) Leave(inv Invocation) {
	err := r.voice.Leave(inv.GuildID)
	switch {
	case err == nil:
		r.reply(inv.ChannelID, msgLeft)
	case errors.Is(err, voice.ErrNoActiveSession):
		r.reply(inv.ChannelID, msgNotConnected)
	default:
		r.logger.Error("Leave failed", pipeline.String("guild_id", inv.GuildID), pipeline.Error(err))
		r.reply(inv.ChannelID, msgNotConnected)
	}
}
