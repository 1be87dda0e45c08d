package commands

import (
	"errors"
	"strings"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Play starts a track from a URL or free-text search. The bot must already
// be in a voice channel.
func (r *Router) Play(inv Invocation) {
	input := strings.TrimSpace(strings.Join(inv.Args, " "))
	if input == "" {
		r.reply(inv.ChannelID, msgPlayUsage)
		return
	}

	err := r.voice.Play(inv.GuildID, input, inv.ChannelID)
	switch {
	case err == nil:
		r.reply(inv.ChannelID, attemptingMessage(input))
	case errors.Is(err, voice.ErrNoActiveSession):
		r.reply(inv.ChannelID, notJoinedMessage(r.prefix))
	case errors.Is(err, voice.ErrInvalidSource):
		r.logger.Debug("Rejected play input",
			pipeline.String("guild_id", inv.GuildID),
			pipeline.String("input", input),
			pipeline.Error(err))
		r.reply(inv.ChannelID, msgPlayFailed)
	default:
		r.logger.Error("Play failed",
			pipeline.String("guild_id", inv.GuildID),
			pipeline.Error(err))
		r.reply(inv.ChannelID, msgPlayFailed)
	}
}
