// Package content defines the persistence and realtime surfaces the lesson
// runtime talks to: a [Store] for scripts, transcripts and audio assets,
// and a [Subscriber] for server-pushed message and progress events.
package content

import (
	"context"
	"errors"

	"github.com/lektio/lektio/pkg/types"
)

// ErrNotFound reports that the requested record does not exist.
var ErrNotFound = errors.New("content: not found")

// ProgressEvent is a server-side progress notification for a lesson, pushed
// when another device or a backend job advances the same lesson.
type ProgressEvent struct {
	Key       types.LessonKey `json:"key"`
	Completed bool            `json:"completed"`
}

// Store is the durable backend for lesson content.
//
// ResolveAudioAsset receives both the full content hash (language, voice
// and text) and the voice-independent text hash; implementations should
// prefer an exact match and fall back to any voice carrying the same text.
// An empty URL with a nil error means no asset exists.
type Store interface {
	// LoadScript returns the raw script text for a lesson.
	LoadScript(ctx context.Context, key types.LessonKey) (string, error)

	// LoadMessages returns the confirmed transcript in display order.
	LoadMessages(ctx context.Context, key types.LessonKey) ([]types.Message, error)

	// SaveMessage persists one message. The server assigns the display
	// order; the confirmed record arrives back through the subscriber.
	SaveMessage(ctx context.Context, key types.LessonKey, msg types.Message) error

	ResolveAudioAsset(ctx context.Context, contentHash, textHash string) (string, error)
	FetchAudioBytes(ctx context.Context, url string) ([]byte, error)
}

// Subscriber delivers realtime events for a lesson. The returned function
// cancels the subscription; it is safe to call more than once.
type Subscriber interface {
	SubscribeMessages(ctx context.Context, key types.LessonKey, fn func(types.Message)) (func(), error)
	SubscribeProgress(ctx context.Context, key types.LessonKey, fn func(ProgressEvent)) (func(), error)
}
