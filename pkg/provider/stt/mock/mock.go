// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/lektio/lektio/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider. TranscribeResult is
// returned from every call; set TranscribeError to inject failures.
type Provider struct {
	mu sync.Mutex

	TranscribeResult string
	TranscribeError  error

	// Clips records every transcribed clip in order.
	Clips []stt.Clip
}

func (p *Provider) Transcribe(_ context.Context, clip stt.Clip) (string, error) {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	p.mu.Unlock()
	if p.TranscribeError != nil {
		return "", p.TranscribeError
	}
	return p.TranscribeResult, nil
}

// CallCount returns the number of Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}
