package voice

import "errors"

// Command outcomes reported back to the caller or carried by events.
var (
	ErrNotInVoiceChannel = errors.New("requester is not in a voice channel")
	ErrNoActiveSession   = errors.New("no active voice session")
	ErrNotPlaying        = errors.New("nothing is playing")
	ErrInvalidSource     = errors.New("invalid audio source")
	ErrConnectionFailed  = errors.New("voice connection failed")
	ErrConnectionLost    = errors.New("voice connection lost")
	ErrManagerClosed     = errors.New("voice manager closed")
)
