// Package mock provides in-memory test doubles for the content interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/lektio/lektio/internal/content"
	"github.com/lektio/lektio/pkg/types"
)

// Store is an in-memory [content.Store]. Zero value is usable.
type Store struct {
	mu sync.Mutex

	Scripts map[string]string
	// Messages is appended to by SaveMessage and returned by LoadMessages.
	Messages map[string][]types.Message
	// AssetURLs maps content hash to URL; AssetTextURLs maps text hash.
	AssetURLs     map[string]string
	AssetTextURLs map[string]string
	AssetBytes    map[string][]byte

	LoadScriptError   error
	LoadMessagesError error
	SaveMessageError  error

	SaveCalls int
	// SavedIDs records message ids in save order.
	SavedIDs []string
}

func (s *Store) LoadScript(_ context.Context, key types.LessonKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadScriptError != nil {
		return "", s.LoadScriptError
	}
	body, ok := s.Scripts[key.String()]
	if !ok {
		return "", content.ErrNotFound
	}
	return body, nil
}

func (s *Store) LoadMessages(_ context.Context, key types.LessonKey) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadMessagesError != nil {
		return nil, s.LoadMessagesError
	}
	return append([]types.Message(nil), s.Messages[key.String()]...), nil
}

func (s *Store) SaveMessage(_ context.Context, key types.LessonKey, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	s.SavedIDs = append(s.SavedIDs, msg.ID)
	if s.SaveMessageError != nil {
		return s.SaveMessageError
	}
	if s.Messages == nil {
		s.Messages = make(map[string][]types.Message)
	}
	k := key.String()
	msg.Order = int64(len(s.Messages[k]) + 1)
	s.Messages[k] = append(s.Messages[k], msg)
	return nil
}

func (s *Store) ResolveAudioAsset(_ context.Context, contentHash, textHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url, ok := s.AssetURLs[contentHash]; ok {
		return url, nil
	}
	return s.AssetTextURLs[textHash], nil
}

func (s *Store) FetchAudioBytes(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AssetBytes[url], nil
}

// Subscriber captures callbacks so tests can push events by hand.
type Subscriber struct {
	mu sync.Mutex

	msgFns  map[string][]func(types.Message)
	progFns map[string][]func(content.ProgressEvent)

	SubscribeError error
}

func (s *Subscriber) SubscribeMessages(_ context.Context, key types.LessonKey, fn func(types.Message)) (func(), error) {
	if s.SubscribeError != nil {
		return nil, s.SubscribeError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgFns == nil {
		s.msgFns = make(map[string][]func(types.Message))
	}
	s.msgFns[key.String()] = append(s.msgFns[key.String()], fn)
	return func() {}, nil
}

func (s *Subscriber) SubscribeProgress(_ context.Context, key types.LessonKey, fn func(content.ProgressEvent)) (func(), error) {
	if s.SubscribeError != nil {
		return nil, s.SubscribeError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progFns == nil {
		s.progFns = make(map[string][]func(content.ProgressEvent))
	}
	s.progFns[key.String()] = append(s.progFns[key.String()], fn)
	return func() {}, nil
}

// SaveCount returns the number of SaveMessage calls.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SaveCalls
}

// Saved returns a copy of the persisted messages for key.
func (s *Store) Saved(key types.LessonKey) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.Messages[key.String()]...)
}

// PushMessage delivers msg to every message subscriber for key.
func (s *Subscriber) PushMessage(key types.LessonKey, msg types.Message) {
	s.mu.Lock()
	fns := append(([]func(types.Message))(nil), s.msgFns[key.String()]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// PushProgress delivers ev to every progress subscriber for its key.
func (s *Subscriber) PushProgress(ev content.ProgressEvent) {
	s.mu.Lock()
	fns := append(([]func(content.ProgressEvent))(nil), s.progFns[ev.Key.String()]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
