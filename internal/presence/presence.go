package presence

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

const (
	kindNone    = ""
	kindDefault = "default"
	kindMusic   = "music"
)

// statusClient is implemented by *discordgo.Session.
type statusClient interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// StatsFunc reports how many guilds and channels the bot can see.
type StatsFunc func() (guilds, channels int)

// StateStats counts guilds and channels from the gateway state cache.
func StateStats(state *discordgo.State) StatsFunc {
	return func() (int, int) {
		state.RLock()
		defer state.RUnlock()

		channels := 0
		for _, g := range state.Guilds {
			if g != nil {
				channels += len(g.Channels)
			}
		}
		return len(state.Guilds), channels
	}
}

// PresenceManager manages the bot's presence
type PresenceManager struct {
	client statusClient
	stats  StatsFunc
	logger pipeline.Logger

	mu      sync.Mutex
	current string
	title   string
}

// NewPresenceManager creates a new presence manager
func NewPresenceManager(client statusClient, stats StatsFunc, logger pipeline.Logger) *PresenceManager {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	return &PresenceManager{
		client: client,
		stats:  stats,
		logger: logger.With(pipeline.String("component", "presence")),
	}
}

// UpdateDefaultPresence shows server statistics
func (pm *PresenceManager) UpdateDefaultPresence() {
	guilds, channels := pm.stats()

	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  strconv.Itoa(channels) + " channels",
				Type:  discordgo.ActivityTypeWatching,
				State: "in " + strconv.Itoa(guilds) + " servers",
			},
		},
	}

	if err := pm.client.UpdateStatusComplex(presence); err != nil {
		pm.logger.Warn("Failed to update bot presence", pipeline.Error(err))
		return
	}

	pm.mu.Lock()
	pm.current = kindDefault
	pm.title = ""
	pm.mu.Unlock()
}

// UpdateMusicPresence shows the currently playing track
func (pm *PresenceManager) UpdateMusicPresence(songTitle string) {
	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  "to",
				Type:  discordgo.ActivityTypeListening,
				State: songTitle,
			},
		},
	}

	if err := pm.client.UpdateStatusComplex(presence); err != nil {
		pm.logger.Warn("Failed to update music presence", pipeline.Error(err))
		return
	}

	pm.mu.Lock()
	pm.current = kindMusic
	pm.title = songTitle
	pm.mu.Unlock()
}

// ClearMusicPresence returns to the default presence
func (pm *PresenceManager) ClearMusicPresence() {
	pm.UpdateDefaultPresence()
}

// GetCurrentPresence returns the current presence type
func (pm *PresenceManager) GetCurrentPresence() string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.current
}

// Sync shows the track of the first playing guild, or the default presence
// when nothing plays. Unchanged presences are not resent.
func (pm *PresenceManager) Sync(snaps []voice.Snapshot) {
	title, playing := nowPlaying(snaps)

	pm.mu.Lock()
	current, currentTitle := pm.current, pm.title
	pm.mu.Unlock()

	switch {
	case playing && (current != kindMusic || currentTitle != title):
		pm.UpdateMusicPresence(title)
	case !playing && current != kindDefault:
		pm.UpdateDefaultPresence()
	}
}

// Refresh re-sends the default presence so its statistics stay current. It
// leaves a music presence alone.
func (pm *PresenceManager) Refresh() {
	if pm.GetCurrentPresence() != kindMusic {
		pm.UpdateDefaultPresence()
	}
}

func nowPlaying(snaps []voice.Snapshot) (string, bool) {
	for _, s := range snaps {
		if s.PlayerState != voice.Playing || s.Track == nil {
			continue
		}
		if s.Track.Title != "" {
			return s.Track.Title, true
		}
		return s.Track.SourceURL, true
	}
	return "", false
}
