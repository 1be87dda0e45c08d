package commands

import (
	"fmt"

	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

const (
	emojiYes     = "<a:Yes:1011614293420150805>"
	emojiWrong   = "<a:Wrong:1017416697168269372>"
	emojiPlaying = "<a:Playing_Audio:1011614261560221726>"
)

const (
	msgNotInVoice    = "You need to be in a voice channel to make me join!"
	msgJoinFailed    = emojiWrong + " There was an error trying to join the voice channel."
	msgPlayFailed    = emojiWrong + " There was an error trying to play the audio. Make sure the URL is valid."
	msgPlaybackError = "Playback stopped because of an error."
	msgStopped       = "Stopped current playback."
	msgNothingPlays  = emojiWrong + " Nothing is currently playing."
	msgLeft          = emojiYes + " Left the voice channel."
	msgNotConnected  = emojiWrong + " I am not in a voice channel."
	msgShuttingDown  = "The bot is shutting down."
	msgPlayUsage     = "Please provide a YouTube URL or search keywords."
)

func notJoinedMessage(prefix string) string {
	return fmt.Sprintf("%s I am not connected to a voice channel. Use `%sjoin` first.", emojiWrong, prefix)
}

func attemptingMessage(input string) string {
	return "Attempting to play: " + input
}

// EventMessage renders the asynchronous outcome of a command as the reply
// sent to the channel that issued it. Events that need no reply render as "".
func EventMessage(ev voice.Event) string {
	switch ev.Type {
	case voice.EventJoined:
		return fmt.Sprintf("%s Joined voice channel: **<#%s>**", emojiYes, ev.ChannelID)
	case voice.EventJoinFailed:
		return msgJoinFailed
	case voice.EventNowPlaying:
		return fmt.Sprintf("%s Now playing: **%s**", emojiPlaying, trackTitle(ev.Track))
	case voice.EventPlayFailed:
		return msgPlayFailed
	case voice.EventPlaybackError:
		return msgPlaybackError
	default:
		return ""
	}
}

func trackTitle(t *voice.Track) string {
	switch {
	case t == nil:
		return "Unknown"
	case t.Title != "":
		return t.Title
	default:
		return t.SourceURL
	}
}
