// Package audio implements the content-addressed playback queue for spoken
// lesson content: resolution through a two-tier cache (embedded store, then
// the remote asset store), strictly sequential in-call playback, dedup and
// in-flight tracking, and run-id based cancellation when a newer queue
// supersedes the current one.
//
// Audio is a supplementary affordance, never a correctness gate: an item
// that cannot be resolved at any tier is skipped silently, and a failure on
// one item never aborts the rest of the queue.
package audio

import (
	"context"
	"time"
)

// ItemKind distinguishes what a queue item voices. It drives UI highlighting
// only and is deliberately excluded from caching identity.
type ItemKind string

const (
	KindWord      ItemKind = "word"
	KindExample   ItemKind = "example"
	KindSituation ItemKind = "situation"
)

// Item is one spoken unit in a playback queue. Items are transient — they
// are constructed from message content and never persisted.
type Item struct {
	Text string
	Lang string
	Kind ItemKind

	// Meta carries presentation hints (e.g. the word index being voiced).
	Meta map[string]string
}

// Frame is a single frame of decoded PCM audio handed to the [Player].
type Frame struct {
	// Data is little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for the mono lesson voice assets.
	Channels int

	// Timestamp marks the frame's offset from the start of its asset.
	Timestamp time.Duration
}

// Player renders decoded PCM frames. Implementations must respect ctx: a
// cancelled context aborts playback promptly.
type Player interface {
	Play(ctx context.Context, frames []Frame) error
}

// AssetSource resolves and fetches audio assets from the remote store.
// Resolve receives both the full content hash (lang|voice|text) and the
// voice-independent text hash so the store can fall back from an
// exact-voice match to any voice carrying the same text. An empty URL with
// a nil error means no asset exists.
type AssetSource interface {
	Resolve(ctx context.Context, contentHash, textHash string) (url string, err error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Synthesizer produces an asset for text that no tier could resolve. It is
// optional: without one, a total miss is skipped silently.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// Decoder turns fetched asset bytes into playable PCM frames.
type Decoder interface {
	Decode(data []byte) ([]Frame, error)
}
