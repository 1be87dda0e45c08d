package voice

// ConnectionState represents the state of a guild's voice connection
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// PlayerState represents the state of a guild's audio player
type PlayerState int

const (
	Idle PlayerState = iota
	Playing
	// Paused is reserved; no command enters it yet.
	Paused
	Errored
)

func (s PlayerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}
