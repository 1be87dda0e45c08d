package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/pkg/errors"
)

const (
	ytdlpResolverName = "yt-dlp"
	ytdlpPrintFormat  = "%(webpage_url)s\t%(title)s\t%(duration)s\t%(url)s"
)

// ytdlpRunner runs yt-dlp with args and returns its output streams.
type ytdlpRunner func(ctx context.Context, args ...string) (stdout, stderr string, err error)

// YTDLPResolver resolves any http(s) URL yt-dlp supports, and free-text
// search terms through YouTube search.
type YTDLPResolver struct {
	proxy string
	run   ytdlpRunner
}

// NewYTDLPResolver creates a resolver. The yt-dlp binary must be on PATH.
func NewYTDLPResolver(proxy string) *YTDLPResolver {
	r := &YTDLPResolver{proxy: proxy}
	r.run = r.runYTDLP
	return r
}

func (r *YTDLPResolver) runYTDLP(ctx context.Context, args ...string) (string, string, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		Print(ytdlpPrintFormat)

	if r.proxy != "" {
		cmd.Proxy(r.proxy)
	}

	res, err := cmd.Run(ctx, args...)
	if res == nil {
		return "", "", err
	}
	return res.Stdout, res.Stderr, err
}

func (r *YTDLPResolver) Name() string { return ytdlpResolverName }

// Handles accepts everything: URLs go straight to yt-dlp, anything else is a search.
func (r *YTDLPResolver) Handles(input string) bool {
	return strings.TrimSpace(input) != ""
}

// Validate rejects empty or malformed inputs. Search terms are accepted as is.
func (r *YTDLPResolver) Validate(input string) error {
	return validateInput(ytdlpResolverName, input)
}

// Resolve runs yt-dlp for a single entry and reads its printed fields.
func (r *YTDLPResolver) Resolve(ctx context.Context, input string) (*Audio, error) {
	if err := r.Validate(input); err != nil {
		return nil, err
	}
	input = strings.TrimSpace(input)

	target := input
	if !IsURL(input) {
		target = "ytsearch1:" + input
	} else if u, err := ParseURL(input); err == nil {
		target = u.String()
	}

	args := []string{
		"--no-playlist",
		"--skip-download",
		"-f", "bestaudio/best",
		"--socket-timeout", "30",
		target,
	}

	stdout, stderr, err := r.run(ctx, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrExtractionFailed, ytdlpResolverName, input, ctx.Err())
		}
		return nil, newError(classifyYTDLPOutput(stderr), ytdlpResolverName, input,
			errors.Wrapf(err, "yt-dlp: %s", firstLine(stderr)))
	}

	audio, err := parseYTDLPOutput(stdout)
	if err != nil {
		return nil, newError(ErrExtractionFailed, ytdlpResolverName, input, err)
	}
	if audio.SourceURL == "" {
		audio.SourceURL = input
	}
	return audio, nil
}

func parseYTDLPOutput(stdout string) (*Audio, error) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) < 4 {
			continue
		}

		streamURL := strings.TrimSpace(parts[3])
		if streamURL == "" || streamURL == "NA" {
			continue
		}

		audio := &Audio{
			SourceURL: naToEmpty(parts[0]),
			Title:     naToEmpty(parts[1]),
			Duration:  parseSeconds(parts[2]),
			StreamURL: streamURL,
			Resolver:  ytdlpResolverName,
		}
		if audio.Title == "" {
			audio.Title = audio.SourceURL
		}
		return audio, nil
	}
	return nil, errors.New("yt-dlp returned no playable entry")
}

func classifyYTDLPOutput(stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "unsupported url"),
		strings.Contains(msg, "is not a valid url"),
		strings.Contains(msg, "incomplete youtube id"):
		return ErrInvalidURL
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "sign in to confirm"),
		strings.Contains(msg, "members-only"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "drm"),
		strings.Contains(msg, "requested format is not available"):
		return ErrUnsupportedContent
	default:
		return ErrExtractionFailed
	}
}

func parseSeconds(s string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func naToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
