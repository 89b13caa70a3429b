// Package gate derives which prefix of a lesson transcript is visible and
// which input affordance is offered, based on explicit learner actions that
// are persisted locally per lesson.
//
// Gate state is learner-local: it never syncs through the content store and
// is mutated only by the controller in response to explicit user actions.
package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lektio/lektio/pkg/types"
)

// State is the persisted per-lesson gate state.
type State struct {
	// Unlocked holds the stable keys of sections the learner has explicitly
	// revealed.
	Unlocked map[string]bool `json:"unlocked"`

	// GoalAcked is set once the learner acknowledges the lesson goal.
	// Acknowledgement is one-shot; re-acknowledging is a no-op.
	GoalAcked bool `json:"goal_acked"`

	// RevealIndex is how many vocabulary items have been shown. It only
	// grows, except on lesson restart.
	RevealIndex int `json:"reveal_index"`
}

func newState() *State {
	return &State{Unlocked: make(map[string]bool)}
}

// StateStore persists gate state as one JSON file per lesson namespace under
// a base directory. Files are written atomically (temp file + rename) so a
// crash never leaves a half-written state behind.
//
// Safe for concurrent use.
type StateStore struct {
	mu  sync.Mutex
	dir string
}

// NewStateStore creates a StateStore rooted at dir, creating it if needed.
func NewStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gate: create state dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// Load reads the state for key, returning a fresh zero state when none has
// been persisted yet.
func (s *StateStore) Load(key types.LessonKey) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: read state: %w", err)
	}

	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("gate: decode state: %w", err)
	}
	if state.Unlocked == nil {
		state.Unlocked = make(map[string]bool)
	}
	return state, nil
}

// Save persists state for key atomically.
func (s *StateStore) Save(key types.LessonKey, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("gate: encode state: %w", err)
	}

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("gate: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("gate: commit state: %w", err)
	}
	return nil
}

// Clear removes the persisted state for key. Used on lesson restart.
func (s *StateStore) Clear(key types.LessonKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("gate: clear state: %w", err)
	}
	return nil
}

// path maps a lesson key to its state file. The namespace includes day,
// lesson and language so switching lessons never cross-contaminates state.
func (s *StateStore) path(key types.LessonKey) string {
	name := sanitize(key.Day) + "_" + sanitize(key.Lesson) + "_" + sanitize(key.Language) + ".json"
	return filepath.Join(s.dir, name)
}

func sanitize(part string) string {
	if part == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, part)
}
