package commands

import (
	"errors"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

func (r *Router) Stop(inv Invocation) {
	err := r.voice.Stop(inv.GuildID)
	if err == nil {
		r.reply(inv.ChannelID, msgStopped)
		return
	}
	if !errors.Is(err, voice.ErrNotPlaying) && !errors.Is(err, voice.ErrNoActiveSession) {
		r.logger.Error("Stop failed", pipeline.String("guild_id", inv.GuildID), pipeline.Error(err))
	}
	r.reply(inv.ChannelID, msgNothingPlays)
}
