package transcript

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/lektio/lektio/pkg/types"
)

func TestStore_AppendOptimistic(t *testing.T) {
	s := NewStore()
	msg := s.AppendOptimistic(types.Message{Role: types.RoleUser, Text: "hi"})

	if !strings.HasPrefix(msg.ID, types.OptimisticIDPrefix+"user-") {
		t.Errorf("unexpected optimistic id %q", msg.ID)
	}
	if msg.Order != 0 {
		t.Errorf("optimistic messages must be unordered, got order %d", msg.Order)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != msg.ID {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestStore_OptimisticCollapse(t *testing.T) {
	s := NewStore()
	s.AppendOptimistic(types.Message{Role: types.RoleUser, Text: "hi"})

	outcome := s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleUser, Text: "hi", Order: 5})
	if outcome != OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s", outcome)
	}

	got := s.Snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(got))
	}
	if got[0].ID != "srv-1" || got[0].Order != 5 {
		t.Errorf("unexpected surviving message: %+v", got[0])
	}
}

func TestStore_Idempotence(t *testing.T) {
	s := NewStore()
	msg := types.Message{ID: "srv-1", Role: types.RoleModel, Text: "task", Order: 3}

	if outcome := s.ApplyRemote(msg); outcome != OutcomeInserted {
		t.Fatalf("first apply: expected inserted, got %s", outcome)
	}
	if outcome := s.ApplyRemote(msg); outcome != OutcomeUnchanged {
		t.Fatalf("second apply: expected unchanged, got %s", outcome)
	}
	if got := s.Snapshot(); len(got) != 1 {
		t.Errorf("expected 1 message after redelivery, got %d", len(got))
	}
}

func TestStore_OrderInvariance(t *testing.T) {
	base := []types.Message{
		{ID: "m1", Role: types.RoleModel, Text: "one", Order: 1},
		{ID: "m2", Role: types.RoleUser, Text: "two", Order: 2},
		{ID: "m3", Role: types.RoleModel, Text: "three", Order: 3},
		{ID: "m4", Role: types.RoleUser, Text: "four", Order: 4},
		{ID: "m5", Role: types.RoleModel, Text: "five", Order: 5},
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		perm := rng.Perm(len(base))
		s := NewStore()
		for _, i := range perm {
			s.ApplyRemote(base[i])
		}
		got := s.Snapshot()
		if len(got) != len(base) {
			t.Fatalf("trial %d: expected %d messages, got %d", trial, len(base), len(got))
		}
		for i := range base {
			if got[i].ID != base[i].ID {
				t.Fatalf("trial %d (perm %v): position %d has %s, want %s",
					trial, perm, i, got[i].ID, base[i].ID)
			}
		}
	}
}

func TestStore_DuplicateRealtimeDelivery(t *testing.T) {
	s := NewStore()
	s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleUser, Text: "hi", Order: 2})

	// Same (role, order) under a fresh id is a duplicate delivery.
	outcome := s.ApplyRemote(types.Message{ID: "srv-1-redelivered", Role: types.RoleUser, Text: "hi", Order: 2})
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "srv-1" {
		t.Errorf("unexpected transcript: %+v", got)
	}
}

func TestStore_MergeKeepsRicherSnapshot(t *testing.T) {
	rich := json.RawMessage(`{"type":"constructor","block":1,"index":2,"awaiting":true}`)
	poor := json.RawMessage(`{"type":"constructor"}`)

	s := NewStore()
	s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleModel, Text: "t", Order: 1, Step: rich})

	outcome := s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleModel, Text: "t2", Order: 1, Step: poor})
	if outcome != OutcomeMerged {
		t.Fatalf("expected merged, got %s", outcome)
	}

	got := s.Snapshot()[0]
	if got.Text != "t2" {
		t.Errorf("incoming text must win, got %q", got.Text)
	}
	if string(got.Step) != string(rich) {
		t.Errorf("richer snapshot must be kept, got %s", got.Step)
	}
}

func TestStore_ConflictingOrderAnomaly(t *testing.T) {
	s := NewStore()
	s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleModel, Text: "t", Order: 3})

	outcome := s.ApplyRemote(types.Message{ID: "srv-1", Role: types.RoleModel, Text: "t", Order: 7})
	if outcome != OutcomeAnomaly {
		t.Fatalf("expected anomaly, got %s", outcome)
	}
	if got := s.Snapshot()[0]; got.Order != 7 {
		t.Errorf("incoming order must win, got %d", got.Order)
	}
}

func TestStore_UnorderedSortsLast(t *testing.T) {
	s := NewStore()
	s.AppendOptimistic(types.Message{Role: types.RoleUser, Text: "pending"})
	s.ApplyRemote(types.Message{ID: "srv-9", Role: types.RoleModel, Text: "late but ordered", Order: 9})

	got := s.Snapshot()
	if got[0].ID != "srv-9" {
		t.Errorf("ordered message must sort before unordered ones, got %+v", got)
	}
	if !got[1].IsOptimistic() {
		t.Errorf("optimistic message must be at the tail, got %+v", got)
	}
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	s.AppendOptimistic(types.Message{Role: types.RoleUser, Text: "hi"})
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("expected empty store after reset, got %d messages", s.Len())
	}
}
