package commands

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

// HelpEmbed lists the available commands for the given prefix.
func HelpEmbed(prefix string) *discordgo.MessageEmbed {
	line := func(usage, desc string) string {
		return fmt.Sprintf("• `%s%s` - %s\n", prefix, usage, desc)
	}

	return &discordgo.MessageEmbed{
		Title:       "Hokko Tarumae",
		Description: "Here are all the available commands for the bot:",
		Color:       0x00ff00,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Hokko Tarumae | Created by latoulicious",
		},
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Voice Commands",
				Value: line("join", "Join your current voice channel") +
					line("play <url>", "Play a YouTube video by URL") +
					line("play <keywords>", "Search and play the first result") +
					line("stop", "Stop the current playback") +
					line("nowplaying", "Show the current track") +
					line("leave", "Leave the voice channel"),
			},
			{
				Name:  "Information Commands",
				Value: line("history", "Show recent voice activity in this server") + line("help", "Show this help message"),
			},
			{
				Name:  "Tips",
				Value: "• Join a voice channel **before** using `" + prefix + "join`\n• A new `play` replaces the current track",
			},
		},
	}
}

func (r *Router) Help(inv Invocation) {
	if _, err := r.responder.ChannelMessageSendEmbed(inv.ChannelID, HelpEmbed(r.prefix)); err != nil {
		r.logger.Warn("Failed to send help", pipeline.Error(err))
	}
}
