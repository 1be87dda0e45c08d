// Package stream plays resolved audio into a voice connection: ffmpeg decodes
// to PCM, gopus encodes 20ms Opus frames, frames go out at the connection's pace.
package stream

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"layeh.com/gopus"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/source"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

// Encoder turns one PCM frame into one Opus packet.
type Encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// NewOpusEncoder creates a gopus encoder tuned for music.
func NewOpusEncoder(cfg pipeline.OpusConfig) (Encoder, error) {
	encoder, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	encoder.SetBitrate(cfg.Bitrate)
	return encoder, nil
}

// Player implements voice.Player.
type Player struct {
	cfg         pipeline.PipelineConfig
	logger      pipeline.Logger
	metrics     pipeline.MetricsCollector
	open        PCMOpener
	newEncoder  func(pipeline.OpusConfig) (Encoder, error)
	readTimeout time.Duration
}

var _ voice.Player = (*Player)(nil)

// NewPlayer creates a player that decodes with ffmpeg and encodes with gopus.
func NewPlayer(cfg pipeline.PipelineConfig, logger pipeline.Logger, metrics pipeline.MetricsCollector) *Player {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	if metrics == nil {
		metrics = pipeline.NewBasicMetricsCollector(logger)
	}
	return &Player{
		cfg:         cfg,
		logger:      logger.With(pipeline.String("component", "player")),
		metrics:     metrics,
		open:        FFmpegOpener(cfg),
		newEncoder:  NewOpusEncoder,
		readTimeout: 10 * time.Second,
	}
}

// Play streams audio into conn until the decoder reaches the end, ctx is
// cancelled or decoding fails. Frames the connection does not take within
// the send timeout are dropped.
func (p *Player) Play(ctx context.Context, conn voice.Connection, audio *source.Audio) error {
	if audio == nil || audio.StreamURL == "" {
		return errors.New("no stream url to play")
	}

	encoder, err := p.newEncoder(p.cfg.Opus)
	if err != nil {
		return err
	}

	pcm, err := p.open(ctx, audio.StreamURL)
	if err != nil {
		return err
	}

	logger := p.logger.With(pipeline.String("title", audio.Title))

	if err := conn.Speaking(true); err != nil {
		logger.Warn("Failed to set speaking state", pipeline.Error(err))
	}
	defer func() {
		if err := conn.Speaking(false); err != nil {
			logger.Debug("Failed to clear speaking state", pipeline.Error(err))
		}
	}()

	quit := make(chan struct{})
	defer close(quit)
	frames, readErr := p.readFrames(pcm, quit)

	var sent, dropped int64
	defer func() {
		p.metrics.RecordCounter("voice.playback.frames_sent", sent, nil)
		p.metrics.RecordCounter("voice.playback.frames_dropped", dropped, nil)
		logger.Info("Playback finished",
			pipeline.Int64("frames_sent", sent),
			pipeline.Int64("frames_dropped", dropped),
		)
	}()

	samplesPerFrame := p.cfg.Opus.FrameSize * p.cfg.Opus.Channels
	samples := make([]int16, samplesPerFrame)

	idle := time.NewTimer(p.readTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = pcm.Close()
			return ctx.Err()

		case <-idle.C:
			_ = pcm.Close()
			return errors.New("timeout reading PCM data")

		case frame, ok := <-frames:
			if !ok {
				return p.finish(pcm, *readErr)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.readTimeout)

			bytesToInt16(frame, samples)
			packet, err := encoder.Encode(samples, p.cfg.Opus.FrameSize, len(frame))
			if err != nil {
				logger.Warn("Opus encoding error", pipeline.Error(err))
				dropped++
				continue
			}

			sendCtx, cancel := context.WithTimeout(ctx, p.cfg.Discord.SendTimeout)
			err = conn.SendOpus(sendCtx, packet)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					_ = pcm.Close()
					return ctx.Err()
				}
				dropped++
				if dropped%50 == 1 {
					logger.Warn("Voice connection is not keeping up, dropping frames", pipeline.Int64("dropped", dropped))
				}
				continue
			}

			sent++
			if sent%500 == 0 {
				logger.Debug("Streamed frames", pipeline.Int64("frames", sent))
			}
		}
	}
}

// readFrames reads fixed size PCM frames until the stream ends. The read
// error is valid once frames is closed. A short last frame is zero padded.
func (p *Player) readFrames(r io.Reader, quit <-chan struct{}) (<-chan []byte, *error) {
	frames := make(chan []byte, 8)
	var readErr error
	frameBytes := p.cfg.Opus.FrameBytes()

	go func() {
		defer close(frames)
		for {
			buf := make([]byte, frameBytes)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				select {
				case frames <- buf:
				case <-quit:
					return
				}
			}
			if err != nil {
				readErr = err
				return
			}
		}
	}()
	return frames, &readErr
}

func (p *Player) finish(pcm io.ReadCloser, readErr error) error {
	closeErr := pcm.Close()
	if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
		return closeErr
	}
	return errors.Wrap(readErr, "error reading PCM data")
}

func bytesToInt16(data []byte, samples []int16) {
	for i := range samples {
		if 2*i+1 >= len(data) {
			samples[i] = 0
			continue
		}
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}
