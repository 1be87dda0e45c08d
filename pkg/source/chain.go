package source

import (
	"context"
	"errors"
)

// Chain tries its resolvers in order. A resolver that fails to extract hands
// over to the next one; invalid input and unplayable content stop the chain.
type Chain struct {
	resolvers []Resolver
}

// NewChain builds a chain. Order matters: put specific resolvers first.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Handles(input string) bool {
	for _, r := range c.resolvers {
		if r.Handles(input) {
			return true
		}
	}
	return false
}

// Validate uses the first resolver that handles input.
func (c *Chain) Validate(input string) error {
	for _, r := range c.resolvers {
		if r.Handles(input) {
			return r.Validate(input)
		}
	}
	return newError(ErrInvalidURL, c.Name(), input, nil)
}

func (c *Chain) Resolve(ctx context.Context, input string) (*Audio, error) {
	var lastErr error
	for _, r := range c.resolvers {
		if !r.Handles(input) {
			continue
		}

		audio, err := r.Resolve(ctx, input)
		if err == nil {
			return audio, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrUnsupportedContent) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, newError(ErrInvalidURL, c.Name(), input, nil)
	}
	return nil, lastErr
}
