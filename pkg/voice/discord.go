package voice

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

// voiceJoiner is the part of *discordgo.Session used to open voice connections.
type voiceJoiner interface {
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// DiscordConnector joins Discord voice channels with retry, then waits for
// the connection to become ready.
type DiscordConnector struct {
	joiner       voiceJoiner
	attempts     int
	retryDelay   time.Duration
	pollInterval time.Duration
	logger       pipeline.Logger
}

// NewDiscordConnector creates a connector on top of a gateway session.
func NewDiscordConnector(s *discordgo.Session, cfg pipeline.DiscordConfig, logger pipeline.Logger) *DiscordConnector {
	return newDiscordConnector(s, cfg, logger)
}

func newDiscordConnector(joiner voiceJoiner, cfg pipeline.DiscordConfig, logger pipeline.Logger) *DiscordConnector {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	attempts := cfg.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &DiscordConnector{
		joiner:       joiner,
		attempts:     attempts,
		retryDelay:   cfg.ReconnectDelay,
		pollInterval: 100 * time.Millisecond,
		logger:       logger.With(pipeline.String("component", "discord_connector")),
	}
}

// Connect joins channelID deafened. Attempt i+1 waits i*retryDelay first.
func (c *DiscordConnector) Connect(ctx context.Context, guildID, channelID string) (Connection, error) {
	var (
		vc  *discordgo.VoiceConnection
		err error
	)

	for i := 0; i < c.attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "voice join cancelled")
		}

		vc, err = c.joiner.ChannelVoiceJoin(guildID, channelID, false, true)
		if err == nil {
			break
		}

		c.logger.Warn("Voice join attempt failed",
			pipeline.String("guild_id", guildID),
			pipeline.String("channel_id", channelID),
			pipeline.Int("attempt", i+1),
			pipeline.Int("max_attempts", c.attempts),
			pipeline.Error(err),
		)

		if i < c.attempts-1 {
			select {
			case <-time.After(time.Duration(i+1) * c.retryDelay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "voice join cancelled")
			}
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join voice channel after %d attempts", c.attempts)
	}

	if err := c.waitReady(ctx, vc); err != nil {
		// The manager holds back the guild's next join until Connect returns.
		if dErr := vc.Disconnect(); dErr != nil {
			c.logger.Warn("Failed to disconnect unready voice connection", pipeline.Error(dErr))
		}
		return nil, err
	}

	return &discordConnection{vc: vc, channelID: channelID}, nil
}

func (c *DiscordConnector) waitReady(ctx context.Context, vc *discordgo.VoiceConnection) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "voice connection timed out")
		case <-ticker.C:
		}
	}
}

type discordConnection struct {
	vc        *discordgo.VoiceConnection
	channelID string
}

func (d *discordConnection) ChannelID() string { return d.channelID }

func (d *discordConnection) Speaking(speaking bool) error {
	return d.vc.Speaking(speaking)
}

func (d *discordConnection) SendOpus(ctx context.Context, frame []byte) error {
	select {
	case d.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *discordConnection) Disconnect() error {
	return d.vc.Disconnect()
}
