// Package resilience provides small generic helpers for calling unreliable
// backends: deadline wrapping and ordered provider fallback.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout reports that an operation hit its deadline rather than
// failing on its own.
var ErrTimeout = errors.New("resilience: operation timed out")

// WithTimeout runs fn under a deadline. A deadline hit is reported as
// [ErrTimeout] so callers can distinguish slowness from real failures.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(tctx)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, fmt.Errorf("%w after %s: %v", ErrTimeout, d, err)
	}
	return v, err
}
