// Package transcript maintains the in-memory lesson transcript and the
// ordered persistence queue behind it.
//
// The transcript receives messages from three writers: optimistic local
// inserts (shown before the server round-trip completes), server-confirmed
// loads, and realtime pushes whose delivery is at-least-once and unordered.
// [Store.ApplyRemote] reconciles all three into one consistent transcript
// sorted by the server-assigned message order.
package transcript

import (
	"bytes"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lektio/lektio/pkg/types"
)

// ApplyOutcome classifies what [Store.ApplyRemote] did with a message.
// Outcomes feed the reconciliation metrics.
type ApplyOutcome string

const (
	// OutcomeInserted means the message was new and inserted in order.
	OutcomeInserted ApplyOutcome = "inserted"

	// OutcomeMerged means an entry with the same id existed and absorbed
	// the incoming fields.
	OutcomeMerged ApplyOutcome = "merged"

	// OutcomeUnchanged means the message matched an existing entry exactly;
	// nothing was modified (idempotent redelivery).
	OutcomeUnchanged ApplyOutcome = "unchanged"

	// OutcomeConfirmed means the message replaced an optimistic duplicate.
	OutcomeConfirmed ApplyOutcome = "confirmed"

	// OutcomeDuplicate means the message was a duplicate realtime delivery
	// and was discarded.
	OutcomeDuplicate ApplyOutcome = "duplicate"

	// OutcomeAnomaly means the message conflicted with an existing entry
	// (e.g. a different order for the same id); incoming data won and the
	// anomaly was logged.
	OutcomeAnomaly ApplyOutcome = "anomaly"
)

// Store is the in-memory ordered transcript for one lesson. It is the only
// mutation point for the transcript: all writers go through
// [Store.AppendOptimistic] or [Store.ApplyRemote].
//
// All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	msgs []types.Message
}

// NewStore creates an empty transcript store.
func NewStore() *Store {
	return &Store{}
}

// AppendOptimistic inserts msg at the tail with a locally generated
// identifier and no order, so the UI reflects the learner's action before
// persistence completes. The stored message (with its generated id) is
// returned.
func (s *Store) AppendOptimistic(msg types.Message) types.Message {
	if msg.ID == "" {
		msg.ID = types.OptimisticIDPrefix + string(msg.Role) + "-" + uuid.NewString()
	}
	msg.Order = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return msg
}

// ApplyRemote reconciles a server-confirmed or realtime-pushed message into
// the transcript. Applying the same message twice is a no-op.
func (s *Store) ApplyRemote(msg types.Message) ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Rule 1: same id — merge fields into the existing entry.
	if idx := s.indexByID(msg.ID); idx >= 0 {
		return s.merge(idx, msg)
	}

	// Rule 2: a byte-for-byte text+role duplicate that is still optimistic
	// is this message's unconfirmed counterpart — replace it.
	if idx := s.indexOptimisticDuplicate(msg); idx >= 0 {
		s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
		s.insertSorted(msg)
		return OutcomeConfirmed
	}

	// Rule 3: same (role, order) — a duplicate realtime delivery that was
	// assigned a fresh id somewhere along the way. Discard.
	if msg.Order > 0 {
		for _, existing := range s.msgs {
			if existing.Role == msg.Role && existing.Order == msg.Order {
				return OutcomeDuplicate
			}
		}
	}

	// Rule 4: plain insert preserving order.
	s.insertSorted(msg)
	return OutcomeInserted
}

// Snapshot returns a copy of the transcript sorted by message order, with
// unordered (optimistic) entries at the tail in insertion order.
func (s *Store) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the transcript.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset clears the transcript. Used on lesson restart.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

// ── Internals (callers hold s.mu) ─────────────────────────────────────────────

func (s *Store) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range s.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// indexOptimisticDuplicate finds an optimistic entry whose role and text
// match msg exactly. Covers both id-less optimistic entries and entries the
// server assigned a different id to.
func (s *Store) indexOptimisticDuplicate(msg types.Message) int {
	for i, m := range s.msgs {
		if (m.IsOptimistic() || m.ID == "") && m.Role == msg.Role && m.Text == msg.Text {
			return i
		}
	}
	return -1
}

// merge absorbs incoming into the entry at idx: incoming text/role win, the
// richer of the two step snapshots is kept, and the incoming order wins with
// an anomaly logged when both sides claim different orders.
func (s *Store) merge(idx int, incoming types.Message) ApplyOutcome {
	existing := &s.msgs[idx]

	anomaly := existing.Order > 0 && incoming.Order > 0 && existing.Order != incoming.Order
	if anomaly {
		slog.Warn("transcript: conflicting message order for same id, preferring incoming",
			"id", incoming.ID, "existing_order", existing.Order, "incoming_order", incoming.Order)
	}

	merged := *existing
	if incoming.Text != "" {
		merged.Text = incoming.Text
	}
	if incoming.Role.IsValid() {
		merged.Role = incoming.Role
	}
	if incoming.Order > 0 {
		merged.Order = incoming.Order
	}
	merged.Step = richerSnapshot(existing.Step, incoming.Step)

	if !anomaly && messagesEqual(*existing, merged) {
		// Deep-equal: nothing actually changed, skip the re-sort so callers
		// can suppress redundant re-renders.
		return OutcomeUnchanged
	}

	s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
	s.insertSorted(merged)
	if anomaly {
		return OutcomeAnomaly
	}
	return OutcomeMerged
}

// insertSorted places msg according to its order. Unordered messages go to
// the tail; ordered messages insert before the first entry with a greater
// order or no order at all.
func (s *Store) insertSorted(msg types.Message) {
	if msg.Order == 0 {
		s.msgs = append(s.msgs, msg)
		return
	}
	pos := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].Order == 0 || s.msgs[i].Order > msg.Order
	})
	s.msgs = append(s.msgs, types.Message{})
	copy(s.msgs[pos+1:], s.msgs[pos:])
	s.msgs[pos] = msg
}

func messagesEqual(a, b types.Message) bool {
	return a.ID == b.ID && a.Role == b.Role && a.Text == b.Text &&
		a.Order == b.Order && bytes.Equal(a.Step, b.Step)
}

// richerSnapshot prefers the longer non-empty snapshot; a longer snapshot
// carries more step context (index, awaiting flag).
func richerSnapshot(a, b []byte) []byte {
	if len(b) > len(a) {
		return b
	}
	return a
}
