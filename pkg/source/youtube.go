package source

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/pkg/errors"
)

const youtubeResolverName = "youtube"

// YouTubeResolver resolves YouTube video links with the kkdai client, without
// spawning any external process.
type YouTubeResolver struct {
	client *youtube.Client
}

// NewYouTubeResolver creates a resolver. proxy may be empty; only http(s)
// proxies are supported.
func NewYouTubeResolver(proxy string) *YouTubeResolver {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &YouTubeResolver{client: &youtube.Client{HTTPClient: httpClient}}
}

func (r *YouTubeResolver) Name() string { return youtubeResolverName }

// Handles reports whether input is a YouTube link.
func (r *YouTubeResolver) Handles(input string) bool {
	return IsYouTubeURL(strings.TrimSpace(input))
}

// Validate checks that input is a well formed YouTube link carrying a video id.
func (r *YouTubeResolver) Validate(input string) error {
	_, err := youTubeVideoID(input)
	return err
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// youTubeVideoID reads the video id from the places YouTube links carry it:
// the v query of /watch, the youtu.be path, or /shorts/, /embed/, /live/ and
// /v/ paths.
func youTubeVideoID(input string) (string, error) {
	if err := validateInput(youtubeResolverName, input); err != nil {
		return "", err
	}
	input = strings.TrimSpace(input)

	u, err := ParseURL(input)
	if err != nil {
		return "", newError(ErrInvalidURL, youtubeResolverName, input, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be":
		id = segments[0]
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		switch segments[0] {
		case "watch":
			id = u.Query().Get("v")
		case "shorts", "embed", "live", "v":
			if len(segments) > 1 {
				id = segments[1]
			}
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", newError(ErrInvalidURL, youtubeResolverName, input, errors.New("no video id in link"))
	}
	if _, err := youtube.ExtractVideoID(id); err != nil {
		return "", newError(ErrInvalidURL, youtubeResolverName, input, err)
	}
	return id, nil
}

// Resolve fetches the video metadata and picks an audio carrying format.
func (r *YouTubeResolver) Resolve(ctx context.Context, input string) (*Audio, error) {
	videoID, err := youTubeVideoID(input)
	if err != nil {
		return nil, err
	}
	input = strings.TrimSpace(input)

	video, err := r.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, newError(classifyYouTubeError(err), youtubeResolverName, input, errors.Wrap(err, "get video"))
	}

	audio := &Audio{
		SourceURL: input,
		Title:     video.Title,
		Duration:  video.Duration,
		Resolver:  youtubeResolverName,
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		// Live streams only expose an HLS manifest.
		if video.HLSManifestURL != "" {
			audio.StreamURL = video.HLSManifestURL
			return audio, nil
		}
		return nil, newError(ErrUnsupportedContent, youtubeResolverName, input, errors.New("no audio formats"))
	}

	format := pickAudioFormat(formats)
	streamURL, err := r.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, newError(ErrExtractionFailed, youtubeResolverName, input, errors.Wrap(err, "get stream url"))
	}
	audio.StreamURL = streamURL
	return audio, nil
}

// pickAudioFormat prefers audio-only formats, highest bitrate first.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil {
		best = &formats[0]
	}
	return best
}

func classifyYouTubeError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrExtractionFailed
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return ErrUnsupportedContent
	}
	return ErrExtractionFailed
}
