package pipeline

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// PipelineConfig contains the tuning knobs of the audio path and of logging.
// Fields are read from PIPELINE_* environment variables when embedded in the
// bot configuration.
type PipelineConfig struct {
	FFmpeg  FFmpegConfig  `json:"ffmpeg" envPrefix:"FFMPEG_"`
	Opus    OpusConfig    `json:"opus" envPrefix:"OPUS_"`
	Discord DiscordConfig `json:"discord" envPrefix:"DISCORD_"`
	Logging LoggingConfig `json:"logging" envPrefix:"LOG_"`
}

// FFmpegConfig contains configuration for FFmpeg processing
type FFmpegConfig struct {
	BinaryPath        string `json:"binary_path" env:"PATH" envDefault:"ffmpeg"`
	BufferSize        string `json:"buffer_size" env:"BUFFER_SIZE" envDefault:"64k"`
	ReconnectDelayMax int    `json:"reconnect_delay_max" env:"RECONNECT_DELAY_MAX" envDefault:"5"`
}

// OpusConfig contains configuration for Opus encoding
type OpusConfig struct {
	SampleRate int `json:"sample_rate" env:"SAMPLE_RATE" envDefault:"48000"`
	Channels   int `json:"channels" env:"CHANNELS" envDefault:"2"`
	Bitrate    int `json:"bitrate" env:"BITRATE" envDefault:"128000"`
	FrameSize  int `json:"frame_size" env:"FRAME_SIZE" envDefault:"960"`
}

// DiscordConfig contains configuration for Discord integration
type DiscordConfig struct {
	ReconnectAttempts int           `json:"reconnect_attempts" env:"RECONNECT_ATTEMPTS" envDefault:"3"`
	ReconnectDelay    time.Duration `json:"reconnect_delay" env:"RECONNECT_DELAY" envDefault:"1s"`
	SendTimeout       time.Duration `json:"send_timeout" env:"SEND_TIMEOUT" envDefault:"100ms"`
}

// LoggingConfig contains configuration for logging
type LoggingConfig struct {
	Level  string `json:"level" env:"LEVEL" envDefault:"info"`
	Format string `json:"format" env:"FORMAT" envDefault:"console"`
	Output string `json:"output" env:"OUTPUT" envDefault:"stdout"`
}

// DefaultPipelineConfig returns a configuration with the defaults declared in
// the struct tags, ignoring the process environment.
func DefaultPipelineConfig() *PipelineConfig {
	c := &PipelineConfig{}
	if err := env.ParseWithOptions(c, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("pipeline: invalid default tags: %v", err))
	}
	return c
}

// FrameBytes is the size in bytes of one PCM s16le frame.
func (c OpusConfig) FrameBytes() int {
	return c.FrameSize * c.Channels * 2
}

// Validate validates the configuration and returns any errors
func (c *PipelineConfig) Validate() error {
	var errors []string

	if c.FFmpeg.BinaryPath == "" {
		errors = append(errors, "ffmpeg binary_path cannot be empty")
	}

	if c.FFmpeg.ReconnectDelayMax < 0 {
		errors = append(errors, "ffmpeg reconnect_delay_max must be >= 0")
	}

	if c.Opus.SampleRate <= 0 {
		errors = append(errors, "opus sample_rate must be > 0")
	}

	if c.Opus.Channels <= 0 || c.Opus.Channels > 2 {
		errors = append(errors, "opus channels must be 1 or 2")
	}

	if c.Opus.Bitrate <= 0 {
		errors = append(errors, "opus bitrate must be > 0")
	}

	if c.Opus.FrameSize <= 0 {
		errors = append(errors, "opus frame_size must be > 0")
	}

	if c.Discord.ReconnectAttempts <= 0 {
		errors = append(errors, "discord reconnect_attempts must be > 0")
	}

	if c.Discord.SendTimeout <= 0 {
		errors = append(errors, "discord send_timeout must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging level must be one of: debug, info, warn, error, fatal")
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging format must be one of: json, text, console")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}
