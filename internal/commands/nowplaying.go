package commands

import (
	"fmt"
	"time"

	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// NowPlaying shows the guild's current track.
func (r *Router) NowPlaying(inv Invocation) {
	snap, ok := r.voice.Snapshot(inv.GuildID)
	if !ok {
		r.reply(inv.ChannelID, notJoinedMessage(r.prefix))
		return
	}
	r.reply(inv.ChannelID, nowPlayingMessage(snap))
}

func nowPlayingMessage(snap voice.Snapshot) string {
	switch {
	case snap.ConnectionState == voice.Connecting:
		return "Still connecting to <#" + snap.VoiceChannelID + ">."
	case snap.PlayerState == voice.Playing && snap.Track != nil:
		msg := fmt.Sprintf("%s Now playing: **%s**", emojiPlaying, trackTitle(snap.Track))
		if snap.Track.Duration > 0 {
			msg += fmt.Sprintf(" (%s)", formatDuration(snap.Track.Duration))
		}
		return msg
	case snap.Pending != "":
		return "Loading: " + snap.Pending
	default:
		return msgNothingPlays
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
