package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoProviders reports an empty or fully exhausted fallback group.
var ErrNoProviders = errors.New("resilience: no provider succeeded")

// Provider is one candidate in a [FallbackGroup].
type Provider[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// FallbackGroup tries providers in order until one succeeds. Failures are
// logged per provider; only total exhaustion surfaces as an error.
type FallbackGroup[T any] struct {
	name      string
	log       *slog.Logger
	providers []Provider[T]
}

// NewFallbackGroup builds a group named name over providers, in priority
// order.
func NewFallbackGroup[T any](name string, log *slog.Logger, providers ...Provider[T]) *FallbackGroup[T] {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackGroup[T]{name: name, log: log, providers: providers}
}

// Do runs the group. On success it returns the result and the name of the
// provider that produced it. Context cancellation stops the chain
// immediately instead of falling through to the next provider.
func (g *FallbackGroup[T]) Do(ctx context.Context) (T, string, error) {
	var zero T
	var lastErr error
	for _, p := range g.providers {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, err := p.Call(ctx)
		if err == nil {
			return v, p.Name, nil
		}
		lastErr = err
		g.log.Warn("fallback provider failed", "group", g.name, "provider", p.Name, "error", err)
	}
	if lastErr != nil {
		return zero, "", fmt.Errorf("%w (%s): %w", ErrNoProviders, g.name, lastErr)
	}
	return zero, "", fmt.Errorf("%w (%s)", ErrNoProviders, g.name)
}
