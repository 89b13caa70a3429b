package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout(t *testing.T) {
	t.Run("fast call passes through", func(t *testing.T) {
		v, err := WithTimeout(context.Background(), time.Second, func(_ context.Context) (int, error) {
			return 42, nil
		})
		if err != nil || v != 42 {
			t.Fatalf("got %d, %v", v, err)
		}
	})

	t.Run("deadline hit maps to ErrTimeout", func(t *testing.T) {
		_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})

	t.Run("provider error without deadline is preserved", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := WithTimeout(context.Background(), time.Second, func(_ context.Context) (int, error) {
			return 0, boom
		})
		if !errors.Is(err, boom) || errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
			return 0, ctx.Err()
		})
		if errors.Is(err, ErrTimeout) {
			t.Fatalf("parent cancellation reported as timeout: %v", err)
		}
	})
}

func TestFallbackGroup(t *testing.T) {
	t.Run("first success wins", func(t *testing.T) {
		g := NewFallbackGroup("test", nil,
			Provider[string]{Name: "a", Call: func(context.Context) (string, error) { return "from-a", nil }},
			Provider[string]{Name: "b", Call: func(context.Context) (string, error) {
				t.Error("second provider must not be called")
				return "", nil
			}},
		)
		v, name, err := g.Do(context.Background())
		if err != nil || v != "from-a" || name != "a" {
			t.Fatalf("got %q from %q, err %v", v, name, err)
		}
	})

	t.Run("falls through failures", func(t *testing.T) {
		g := NewFallbackGroup("test", nil,
			Provider[string]{Name: "a", Call: func(context.Context) (string, error) { return "", errors.New("down") }},
			Provider[string]{Name: "b", Call: func(context.Context) (string, error) { return "from-b", nil }},
		)
		v, name, err := g.Do(context.Background())
		if err != nil || v != "from-b" || name != "b" {
			t.Fatalf("got %q from %q, err %v", v, name, err)
		}
	})

	t.Run("exhaustion surfaces last error", func(t *testing.T) {
		last := errors.New("also down")
		g := NewFallbackGroup("test", nil,
			Provider[int]{Name: "a", Call: func(context.Context) (int, error) { return 0, errors.New("down") }},
			Provider[int]{Name: "b", Call: func(context.Context) (int, error) { return 0, last }},
		)
		_, _, err := g.Do(context.Background())
		if !errors.Is(err, ErrNoProviders) || !errors.Is(err, last) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("cancellation stops the chain", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		g := NewFallbackGroup("test", nil,
			Provider[int]{Name: "a", Call: func(context.Context) (int, error) {
				t.Error("provider called after cancellation")
				return 0, nil
			}},
		)
		if _, _, err := g.Do(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	})
}
