package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

var ErrDiscordTokenNotSet = errors.New("DISCORD_TOKEN is not set")

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	Prefix       string `env:"COMMAND_PREFIX" envDefault:"!"`

	ConnectTimeout time.Duration `env:"VOICE_CONNECT_TIMEOUT" envDefault:"15s"`
	ResolveTimeout time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"30s"`
	EventBuffer    int           `env:"EVENT_BUFFER" envDefault:"256"`

	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"1"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"3"`

	HistoryDBPath    string        `env:"HISTORY_DB_PATH"`
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`

	YouTubeProxy string `env:"YOUTUBE_PROXY"`

	Pipeline pipeline.PipelineConfig `envPrefix:"PIPELINE_"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// loadFromMap parses cfg from environ only, for tests.
func loadFromMap(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrDiscordTokenNotSet
	}
	if c.Prefix == "" {
		return errors.New("COMMAND_PREFIX cannot be empty")
	}
	if c.ConnectTimeout <= 0 || c.ResolveTimeout <= 0 {
		return errors.New("voice timeouts must be > 0")
	}
	if c.CommandRate <= 0 || c.CommandBurst <= 0 {
		return errors.New("COMMAND_RATE and COMMAND_BURST must be > 0")
	}
	if c.HistoryDBPath != "" && c.HistoryRetention <= 0 {
		return errors.New("HISTORY_RETENTION must be > 0")
	}
	return c.Pipeline.Validate()
}

// HistoryEnabled reports whether the session audit log is configured.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDBPath != ""
}
