package content

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lektio/lektio/pkg/types"
)

const (
	reconnectMin = 500 * time.Millisecond
	reconnectMax = 30 * time.Second
)

// envelope is the realtime wire format. Type selects which payload field
// is set.
type envelope struct {
	Type     string          `json:"type"`
	Key      types.LessonKey `json:"key"`
	Message  *types.Message  `json:"message,omitempty"`
	Progress *ProgressEvent  `json:"progress,omitempty"`
}

// RealtimeOption configures a [Realtime].
type RealtimeOption func(*Realtime)

func WithRealtimeLogger(log *slog.Logger) RealtimeOption {
	return func(r *Realtime) { r.log = log }
}

// Realtime implements [Subscriber] over a websocket. One connection serves
// all subscriptions; it reconnects with exponential backoff and survives
// for the lifetime of the context passed to [Realtime.Run].
type Realtime struct {
	url string
	log *slog.Logger

	mu       sync.Mutex
	nextID   int
	msgSubs  map[string]map[int]func(types.Message)
	progSubs map[string]map[int]func(ProgressEvent)
}

// NewRealtime creates a subscriber connecting to url. Call [Realtime.Run]
// to start the connection loop.
func NewRealtime(url string, opts ...RealtimeOption) *Realtime {
	r := &Realtime{
		url:      url,
		log:      slog.Default(),
		msgSubs:  make(map[string]map[int]func(types.Message)),
		progSubs: make(map[string]map[int]func(ProgressEvent)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run dials and reads until ctx ends, reconnecting with backoff after
// every connection failure. It blocks; run it in its own goroutine.
func (r *Realtime) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		if err := r.readLoop(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("realtime: connection lost", "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func (r *Realtime) readLoop(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	r.log.Info("realtime: connected", "url", r.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			r.log.Warn("realtime: malformed event", "error", err)
			continue
		}
		r.dispatch(env)
	}
}

func (r *Realtime) dispatch(env envelope) {
	key := env.Key.String()
	r.mu.Lock()
	var msgFns []func(types.Message)
	var progFns []func(ProgressEvent)
	switch env.Type {
	case "message":
		for _, fn := range r.msgSubs[key] {
			msgFns = append(msgFns, fn)
		}
	case "progress":
		for _, fn := range r.progSubs[key] {
			progFns = append(progFns, fn)
		}
	}
	r.mu.Unlock()

	switch env.Type {
	case "message":
		if env.Message == nil {
			return
		}
		for _, fn := range msgFns {
			fn(*env.Message)
		}
	case "progress":
		if env.Progress == nil {
			return
		}
		for _, fn := range progFns {
			fn(*env.Progress)
		}
	default:
		r.log.Debug("realtime: unknown event type", "type", env.Type)
	}
}

func (r *Realtime) SubscribeMessages(_ context.Context, key types.LessonKey, fn func(types.Message)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key.String()
	if r.msgSubs[k] == nil {
		r.msgSubs[k] = make(map[int]func(types.Message))
	}
	id := r.nextID
	r.nextID++
	r.msgSubs[k][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.msgSubs[k], id)
	}, nil
}

func (r *Realtime) SubscribeProgress(_ context.Context, key types.LessonKey, fn func(ProgressEvent)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key.String()
	if r.progSubs[k] == nil {
		r.progSubs[k] = make(map[int]func(ProgressEvent))
	}
	id := r.nextID
	r.nextID++
	r.progSubs[k][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.progSubs[k], id)
	}, nil
}
