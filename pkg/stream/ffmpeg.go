package stream

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

// PCMOpener starts decoding streamURL into interleaved s16le PCM. Closing the
// returned stream stops the decoder; once the stream was read to EOF, Close
// reports whether the decoder exited cleanly.
type PCMOpener func(ctx context.Context, streamURL string) (io.ReadCloser, error)

func ffmpegArgs(cfg pipeline.PipelineConfig, streamURL string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(cfg.FFmpeg.ReconnectDelayMax),
		"-i", streamURL,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(cfg.Opus.SampleRate),
		"-ac", strconv.Itoa(cfg.Opus.Channels),
		"-bufsize", cfg.FFmpeg.BufferSize,
		"-loglevel", "warning",
		"pipe:1",
	}
}

// FFmpegOpener decodes with the ffmpeg binary configured in cfg.
func FFmpegOpener(cfg pipeline.PipelineConfig) PCMOpener {
	return func(ctx context.Context, streamURL string) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, cfg.FFmpeg.BinaryPath, ffmpegArgs(cfg, streamURL)...)

		stderr := &tailBuffer{max: 2048}
		cmd.Stderr = stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create stdout pipe")
		}
		if err := cmd.Start(); err != nil {
			return nil, errors.Wrap(err, "failed to start ffmpeg")
		}
		return &ffmpegStream{
			stdout: stdout,
			stderr: stderr,
			kill:   cmd.Process.Kill,
			wait:   cmd.Wait,
		}, nil
	}
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *tailBuffer
	kill   func() error
	wait   func() error

	mu       sync.Mutex
	eof      bool
	closed   bool
	closeErr error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
	}
	return n, err
}

func (s *ffmpegStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true

	if !s.eof {
		_ = s.kill()
	}
	// A pending Read must return before Wait may run.
	_ = s.stdout.Close()
	err := s.wait()
	if s.eof && err != nil {
		s.closeErr = errors.Wrapf(err, "ffmpeg: %s", s.stderr.String())
	}
	return s.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
