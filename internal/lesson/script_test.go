package lesson

import (
	"errors"
	"testing"
)

const sampleScript = `[
	{"kind": "goal", "text": "Order food at a cafe"},
	{"kind": "vocabulary", "words": [
		{"text": "кофе", "translation": "coffee"},
		{"text": "счёт", "translation": "the bill"}
	]},
	{"kind": "grammar", "title": "Грамматика: родительный падеж", "body": "..."},
	{"kind": "find_mistake", "items": [
		{"prompt": "Which is correct?", "option_a": "Я хочу кофе", "option_b": "Я хотеть кофе", "answer": "A"}
	]}
]`

func TestParseScript(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		script, err := ParseScript(sampleScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(script.Blocks) != 4 {
			t.Fatalf("expected 4 blocks, got %d", len(script.Blocks))
		}
		if script.Blocks[0].Kind() != BlockGoal {
			t.Errorf("block 0: expected goal, got %s", script.Blocks[0].Kind())
		}
		vocab, ok := script.Blocks[1].(VocabularyBlock)
		if !ok {
			t.Fatalf("block 1: expected VocabularyBlock, got %T", script.Blocks[1])
		}
		if len(vocab.Words) != 2 || vocab.Words[0].Text != "кофе" {
			t.Errorf("unexpected vocabulary words: %+v", vocab.Words)
		}
	})

	t.Run("fenced JSON", func(t *testing.T) {
		script, err := ParseScript("```json\n" + sampleScript + "\n```")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(script.Blocks) != 4 {
			t.Errorf("expected 4 blocks, got %d", len(script.Blocks))
		}
	})

	t.Run("prose preamble", func(t *testing.T) {
		script, err := ParseScript("Here is the lesson script:\n" + sampleScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(script.Blocks) != 4 {
			t.Errorf("expected 4 blocks, got %d", len(script.Blocks))
		}
	})

	t.Run("doubly encoded", func(t *testing.T) {
		inner := `[{"kind":"dialogue","prompt":"Tell me about your day"}]`
		doubly := `"[{\"kind\":\"dialogue\",\"prompt\":\"Tell me about your day\"}]"`
		script, err := ParseScript(doubly)
		if err != nil {
			t.Fatalf("unexpected error parsing %q (inner %q): %v", doubly, inner, err)
		}
		if len(script.Blocks) != 1 || script.Blocks[0].Kind() != BlockDialogue {
			t.Errorf("unexpected blocks: %+v", script.Blocks)
		}
	})

	t.Run("blocks envelope", func(t *testing.T) {
		script, err := ParseScript(`{"blocks": [{"kind":"dialogue","prompt":"hi"}]}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(script.Blocks) != 1 {
			t.Errorf("expected 1 block, got %d", len(script.Blocks))
		}
	})

	t.Run("unknown block kind is preserved", func(t *testing.T) {
		script, err := ParseScript(`[{"kind":"hologram","stuff":1},{"kind":"dialogue","prompt":"hi"}]`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		unknown, ok := script.Blocks[0].(UnknownBlock)
		if !ok {
			t.Fatalf("expected UnknownBlock, got %T", script.Blocks[0])
		}
		if unknown.RawKind != "hologram" {
			t.Errorf("expected raw kind hologram, got %q", unknown.RawKind)
		}
	})

	t.Run("malformed input fails with ScriptError", func(t *testing.T) {
		for _, raw := range []string{"", "not json at all", `[{"kind":`, `[]`} {
			_, err := ParseScript(raw)
			if err == nil {
				t.Fatalf("expected error for %q", raw)
			}
			var scriptErr *ScriptError
			if !errors.As(err, &scriptErr) {
				t.Errorf("expected *ScriptError for %q, got %T", raw, err)
			}
		}
	})

	t.Run("invalid mistake answer rejected", func(t *testing.T) {
		_, err := ParseScript(`[{"kind":"find_mistake","items":[{"prompt":"p","option_a":"a","option_b":"b","answer":"C"}]}]`)
		if err == nil {
			t.Fatal("expected error for answer C")
		}
	})
}

func TestStepSnapshotRoundTrip(t *testing.T) {
	step := &Step{Type: StepConstructor, Block: 3, Index: 2, Awaiting: true}
	got, err := DecodeSnapshot(step.Snapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != *step {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, step)
	}

	if s, err := DecodeSnapshot(nil); err != nil || s != nil {
		t.Errorf("nil snapshot: got (%v, %v), want (nil, nil)", s, err)
	}
}

func TestParsePayload(t *testing.T) {
	p := Payload{Type: PayloadSection, SectionKind: "grammar", Title: "Cases"}
	got, ok := ParsePayload(p.Encode())
	if !ok {
		t.Fatal("expected payload to parse")
	}
	if got.SectionKind != "grammar" || got.Title != "Cases" {
		t.Errorf("unexpected payload: %+v", got)
	}

	if _, ok := ParsePayload("plain learner answer"); ok {
		t.Error("plain text must not parse as a payload")
	}
	if _, ok := ParsePayload(`{"no_type": true}`); ok {
		t.Error("object without type must not parse as a payload")
	}
}
