package voice

import (
	"context"

	"github.com/latoulicious/tarumae-voice/pkg/source"
)

// Connector opens voice connections. Connect blocks until the connection is
// ready to send audio or ctx is done.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Connection is a live voice connection to one channel.
type Connection interface {
	ChannelID() string
	Speaking(speaking bool) error
	// SendOpus queues one Opus frame, giving up when ctx is done.
	SendOpus(ctx context.Context, frame []byte) error
	Disconnect() error
}

// Player streams a resolved audio resource into a connection. Play blocks
// until the stream ends (nil), ctx is cancelled (ctx.Err()) or it fails.
type Player interface {
	Play(ctx context.Context, conn Connection, audio *source.Audio) error
}
