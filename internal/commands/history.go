package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/pkg/database"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

const (
	historyLimit   = 10
	historyTimeout = 5 * time.Second

	msgHistoryDisabled = "Session history is not enabled."
	msgHistoryEmpty    = "No voice activity recorded for this server yet."
	msgHistoryFailed   = "Could not read the session history."
)

// History lists the guild's latest voice events and summarises the most
// recent session.
func (r *Router) History(inv Invocation) {
	if r.history == nil {
		r.reply(inv.ChannelID, msgHistoryDisabled)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	events, err := r.history.EventsByGuild(ctx, inv.GuildID, historyLimit)
	if err != nil {
		r.logger.Error("Failed to read history", pipeline.String("guild_id", inv.GuildID), pipeline.Error(err))
		r.reply(inv.ChannelID, msgHistoryFailed)
		return
	}
	if len(events) == 0 {
		r.reply(inv.ChannelID, msgHistoryEmpty)
		return
	}

	// A pruned session row is not fatal; the events still show.
	rec, err := r.history.GetSession(ctx, events[0].SessionID)
	if err != nil && !errors.Is(err, database.ErrSessionNotFound) {
		r.logger.Warn("Failed to read session summary", pipeline.String("session_id", events[0].SessionID), pipeline.Error(err))
	}

	if _, err := r.responder.ChannelMessageSendEmbed(inv.ChannelID, historyEmbed(events, rec)); err != nil {
		r.logger.Warn("Failed to send history", pipeline.Error(err))
	}
}

func historyEmbed(events []database.SessionEvent, rec *database.SessionRecord) *discordgo.MessageEmbed {
	var lines strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&lines, "<t:%d:R> `%s`", ev.CreatedAt.Unix(), ev.EventType)
		if ev.TrackTitle != "" {
			fmt.Fprintf(&lines, " %s", ev.TrackTitle)
		}
		lines.WriteString("\n")
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Recent voice activity",
		Description: lines.String(),
		Color:       0x00ff00,
	}
	if rec != nil {
		status := "active"
		if rec.EndedAt != nil {
			status = "ended (" + rec.EndReason + ")"
		}
		embed.Fields = []*discordgo.MessageEmbedField{{
			Name: "Latest session",
			Value: fmt.Sprintf("<#%s> since <t:%d:f>, %s\nTracks played: %d, errors: %d",
				rec.ChannelID, rec.StartedAt.Unix(), status, rec.TracksPlayed, rec.Errors),
		}}
	}
	return embed
}
