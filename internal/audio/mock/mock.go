// Package mock provides test doubles for the audio interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/lektio/lektio/internal/audio"
)

// Player records every Play call.
type Player struct {
	mu        sync.Mutex
	PlayError error
	// PlayDelayCh, if set, blocks each Play until it receives or ctx ends.
	PlayDelayCh chan struct{}

	CallCount int
	Played    [][]audio.Frame
}

func (p *Player) Play(ctx context.Context, frames []audio.Frame) error {
	p.mu.Lock()
	p.CallCount++
	p.Played = append(p.Played, frames)
	ch := p.PlayDelayCh
	p.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.PlayError
}

// Calls returns the number of completed Play calls.
func (p *Player) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCount
}

// AssetSource resolves from a static hash-to-URL map and fetches from a
// URL-to-bytes map.
type AssetSource struct {
	mu sync.Mutex

	ResolveError error
	FetchError   error
	// URLs maps content hash to asset URL. TextURLs maps text hash to URL
	// for the any-voice fallback.
	URLs     map[string]string
	TextURLs map[string]string
	Assets   map[string][]byte

	ResolveCalls int
	FetchCalls   int
}

func (s *AssetSource) Resolve(_ context.Context, contentHash, textHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResolveCalls++
	if s.ResolveError != nil {
		return "", s.ResolveError
	}
	if url, ok := s.URLs[contentHash]; ok {
		return url, nil
	}
	return s.TextURLs[textHash], nil
}

func (s *AssetSource) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.FetchError != nil {
		return nil, s.FetchError
	}
	return s.Assets[url], nil
}

// Decoder passes asset bytes through as a single frame, so tests do not
// need real opus data.
type Decoder struct {
	DecodeError error
	CallCount   int
}

func (d *Decoder) Decode(data []byte) ([]audio.Frame, error) {
	d.CallCount++
	if d.DecodeError != nil {
		return nil, d.DecodeError
	}
	return []audio.Frame{{Data: data, SampleRate: 48000, Channels: 1}}, nil
}

// Synthesizer returns SynthesizeResult for every call.
type Synthesizer struct {
	SynthesizeResult []byte
	SynthesizeError  error
	CallCount        int
}

func (s *Synthesizer) Synthesize(_ context.Context, _, _, _ string) ([]byte, error) {
	s.CallCount++
	if s.SynthesizeError != nil {
		return nil, s.SynthesizeError
	}
	return s.SynthesizeResult, nil
}
