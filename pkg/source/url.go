package source

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const maxInputLength = 512

// IsURL checks if a string appears to be a URL
func IsURL(str string) bool {
	return strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://") ||
		strings.HasPrefix(str, "www.") || IsYouTubeURL(str)
}

// IsYouTubeURL checks if a URL appears to be from YouTube
func IsYouTubeURL(str string) bool {
	return strings.Contains(str, "youtube.com") || strings.Contains(str, "youtu.be")
}

// ParseURL normalises a URL-looking input and checks it is an absolute
// http(s) URL with a host.
func ParseURL(input string) (*url.URL, error) {
	if strings.HasPrefix(input, "www.") || (IsYouTubeURL(input) && !strings.Contains(input, "://")) {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	if u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// validateInput applies the checks shared by all resolvers: non-empty, bounded,
// printable and, when it looks like a URL, parseable.
func validateInput(resolver, input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return newError(ErrInvalidURL, resolver, input, nil)
	}
	if len(trimmed) > maxInputLength || !utf8.ValidString(trimmed) {
		return newError(ErrInvalidURL, resolver, input, nil)
	}
	if strings.Contains(trimmed, "://") || IsURL(trimmed) {
		if _, err := ParseURL(trimmed); err != nil {
			return newError(ErrInvalidURL, resolver, input, err)
		}
	}
	return nil
}
