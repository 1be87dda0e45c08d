// Package source turns a user supplied URL or search term into a streamable
// audio resource. Extraction itself is delegated to YouTube and yt-dlp; this
// package only defines the contract and the typed failures.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolution failure kinds.
var (
	ErrInvalidURL         = errors.New("invalid or unsupported url")
	ErrExtractionFailed   = errors.New("audio extraction failed")
	ErrUnsupportedContent = errors.New("content cannot be played")
)

// Audio is a resolved, streamable audio resource.
type Audio struct {
	SourceURL string // what the user asked for, or the search hit
	Title     string
	Duration  time.Duration // zero when unknown (live streams)
	StreamURL string        // direct media URL handed to the decoder
	Resolver  string
}

// Resolver resolves inputs into Audio. Resolve performs network I/O and must
// honour ctx cancellation.
type Resolver interface {
	Name() string
	Handles(input string) bool
	Validate(input string) error
	Resolve(ctx context.Context, input string) (*Audio, error)
}

// ResolveError carries the failure kind together with the underlying cause.
type ResolveError struct {
	Kind     error
	Input    string
	Resolver string
	Err      error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v (%q)", e.Resolver, e.Kind, e.Input)
	}
	return fmt.Sprintf("%s: %v (%q): %v", e.Resolver, e.Kind, e.Input, e.Err)
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, resolver, input string, err error) *ResolveError {
	return &ResolveError{Kind: kind, Input: input, Resolver: resolver, Err: err}
}

// Kind reports the failure kind of err, or nil if err is not a resolution failure.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidURL, ErrUnsupportedContent, ErrExtractionFailed} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
