package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lektio/lektio/internal/observe"
)

// DefaultGraceDelay is the pause between cancelling an active run and
// starting playback of the next one, so two voices never overlap at the
// device boundary.
const DefaultGraceDelay = 150 * time.Millisecond

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithSynthesizer makes the queue fill total cache misses by synthesizing
// the asset instead of skipping the item.
func WithSynthesizer(s Synthesizer) QueueOption {
	return func(q *Queue) { q.synth = s }
}

// WithGraceDelay overrides [DefaultGraceDelay].
func WithGraceDelay(d time.Duration) QueueOption {
	return func(q *Queue) { q.grace = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) QueueOption {
	return func(q *Queue) { q.log = log }
}

// WithMetrics attaches playback and cache instruments.
func WithMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// Queue plays lesson audio sequentially. At most one run is active at a
// time: starting a new run cancels the previous one. Items resolve through
// the cache, then the remote store, then (optionally) synthesis; anything
// unresolvable is skipped without failing the run.
type Queue struct {
	cache   Cache
	source  AssetSource
	decoder Decoder
	player  Player
	synth   Synthesizer
	voice   string
	grace   time.Duration
	log     *slog.Logger
	metrics *observe.Metrics

	fetch singleflight.Group

	mu          sync.Mutex
	runID       uint64
	cancelRun   context.CancelFunc
	interrupted bool
	played      map[string]struct{}
	inFlight    map[string]struct{}
	missLogged  map[string]struct{}
	signatures  map[string]struct{}
}

// NewQueue builds a queue playing through player with assets for voice.
func NewQueue(cache Cache, source AssetSource, decoder Decoder, player Player, voice string, opts ...QueueOption) *Queue {
	q := &Queue{
		cache:      cache,
		source:     source,
		decoder:    decoder,
		player:     player,
		voice:      voice,
		grace:      DefaultGraceDelay,
		log:        slog.Default(),
		played:     make(map[string]struct{}),
		inFlight:   make(map[string]struct{}),
		missLogged: make(map[string]struct{}),
		signatures: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Play cancels any active run and plays items in order. It returns once
// the run finishes, is cancelled by a newer run, or ctx ends.
//
// A non-empty dedupeKey makes the call one-shot: a key that already played
// successfully, or is in flight right now, is dropped immediately without
// touching the active run.
func (q *Queue) Play(ctx context.Context, items []Item, dedupeKey string) error {
	return q.play(ctx, items, dedupeKey)
}

// AutoPlay is Play for script-driven playback (situation scenes). On top of
// the key dedup, the item list is fingerprinted by content, so two messages
// carrying the same scene do not voice it twice.
func (q *Queue) AutoPlay(ctx context.Context, items []Item, dedupeKey string) error {
	sig := signature(items)
	q.mu.Lock()
	if _, seen := q.signatures[sig]; seen {
		q.mu.Unlock()
		return nil
	}
	q.signatures[sig] = struct{}{}
	q.mu.Unlock()
	return q.play(ctx, items, dedupeKey)
}

func (q *Queue) play(ctx context.Context, items []Item, key string) error {
	if key != "" {
		q.mu.Lock()
		_, done := q.played[key]
		_, busy := q.inFlight[key]
		if done || busy {
			q.mu.Unlock()
			return nil
		}
		q.inFlight[key] = struct{}{}
		q.mu.Unlock()
		defer func() {
			q.mu.Lock()
			delete(q.inFlight, key)
			q.mu.Unlock()
		}()
	}

	err := q.run(ctx, items)
	if key != "" && err == nil {
		// A cancelled or failed pass stays unmarked so the key can retry.
		q.mu.Lock()
		q.played[key] = struct{}{}
		q.mu.Unlock()
	}
	return err
}

// Cancel stops the active run, if any.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelRun != nil {
		q.cancelRun()
		q.cancelRun = nil
		q.interrupted = true
	}
}

// Reset cancels the active run and clears all dedup state. Called when the
// lesson restarts so the fresh session re-voices everything.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelRun != nil {
		q.cancelRun()
		q.cancelRun = nil
	}
	q.interrupted = false
	q.played = make(map[string]struct{})
	q.missLogged = make(map[string]struct{})
	q.signatures = make(map[string]struct{})
}

func (q *Queue) run(ctx context.Context, items []Item) error {
	runCtx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	if q.cancelRun != nil {
		q.cancelRun()
		q.interrupted = true
	}
	q.cancelRun = cancel
	q.runID++
	id := q.runID
	wasInterrupted := q.interrupted
	q.interrupted = false
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.runID == id {
			q.cancelRun = nil
		}
		q.mu.Unlock()
		cancel()
	}()

	if wasInterrupted && q.grace > 0 {
		select {
		case <-time.After(q.grace):
		case <-runCtx.Done():
			return runCtx.Err()
		}
	}

	for _, item := range items {
		if err := runCtx.Err(); err != nil {
			return err
		}
		q.playItem(runCtx, item)
	}
	return runCtx.Err()
}

// playItem resolves and plays one item. Failures are logged and swallowed;
// only cancellation propagates, via the context check in run.
func (q *Queue) playItem(ctx context.Context, item Item) {
	key := ContentHash(item.Text, item.Lang, q.voice)

	data, err := q.resolve(ctx, item, key)
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("audio: resolve failed", "lang", item.Lang, "kind", item.Kind, "error", err)
			q.recordPlayback(ctx, "failed")
		}
		return
	}
	if data == nil {
		q.logMissOnce(item)
		q.recordPlayback(ctx, "skipped")
		return
	}

	frames, err := q.decoder.Decode(data)
	if err != nil {
		q.log.Warn("audio: decode failed", "lang", item.Lang, "kind", item.Kind, "error", err)
		q.recordPlayback(ctx, "failed")
		return
	}

	if err := q.player.Play(ctx, frames); err != nil {
		if ctx.Err() == nil {
			q.log.Warn("audio: playback failed", "kind", item.Kind, "error", err)
			q.recordPlayback(ctx, "failed")
		} else {
			q.recordPlayback(ctx, "cancelled")
		}
		return
	}
	q.recordPlayback(ctx, "played")
}

// resolve returns asset bytes for item, or (nil, nil) when no tier has it.
// Concurrent requests for the same key share one fetch.
func (q *Queue) resolve(ctx context.Context, item Item, key string) ([]byte, error) {
	if data, ok, err := q.cache.Get(ctx, key); err != nil {
		return nil, fmt.Errorf("audio: cache get: %w", err)
	} else if ok {
		q.recordCacheLookup(ctx, true)
		return data, nil
	}
	q.recordCacheLookup(ctx, false)

	v, err, _ := q.fetch.Do(key, func() (any, error) {
		data, err := q.fetchRemote(ctx, item, key)
		if err != nil || data == nil {
			return data, err
		}
		if err := q.cache.Put(ctx, key, data); err != nil {
			q.log.Warn("audio: cache put failed", "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

func (q *Queue) fetchRemote(ctx context.Context, item Item, key string) ([]byte, error) {
	url, err := q.source.Resolve(ctx, key, TextHash(item.Text, item.Lang))
	if err != nil {
		return nil, fmt.Errorf("audio: resolve asset: %w", err)
	}
	if url == "" {
		if q.synth == nil {
			return nil, nil
		}
		data, err := q.synth.Synthesize(ctx, item.Text, item.Lang, q.voice)
		if err != nil {
			return nil, fmt.Errorf("audio: synthesize: %w", err)
		}
		return data, nil
	}
	data, err := q.source.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("audio: fetch asset: %w", err)
	}
	return data, nil
}

// logMissOnce logs a total miss once per normalized text to keep repeated
// renders of the same content from flooding the log.
func (q *Queue) logMissOnce(item Item) {
	norm := item.Lang + "|" + NormalizeText(item.Text)
	q.mu.Lock()
	_, seen := q.missLogged[norm]
	if !seen {
		q.missLogged[norm] = struct{}{}
	}
	q.mu.Unlock()
	if !seen {
		q.log.Info("audio: no asset for text", "lang", item.Lang, "kind", item.Kind)
	}
}

func (q *Queue) recordPlayback(ctx context.Context, result string) {
	if q.metrics != nil {
		q.metrics.RecordPlayback(ctx, result)
	}
}

func (q *Queue) recordCacheLookup(ctx context.Context, hit bool) {
	if q.metrics != nil {
		q.metrics.RecordCacheLookup(ctx, hit)
	}
}

// signature fingerprints an item list as the ordered sequence of
// kind:normalizedText pairs. Order is part of the identity: two scenes
// speaking the same turns in a different sequence are different scenes.
func signature(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, string(it.Kind)+":"+NormalizeText(it.Text))
	}
	return strings.Join(parts, "|")
}
