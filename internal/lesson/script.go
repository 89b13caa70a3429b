// Package lesson implements the static lesson script model and the pure
// step-advancement engine that drives a scripted tutoring conversation.
//
// A script is an ordered sequence of exercise blocks. Scripts arrive as
// semi-structured JSON — sometimes wrapped in markdown code fences, sometimes
// preceded by prose, sometimes doubly encoded as a JSON string — and are
// parsed into a tagged union with one variant per block kind. Unrecognised
// kinds parse into [UnknownBlock] so that a newer script never turns into a
// raw map passed around the runtime.
package lesson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BlockKind tags the variant of a script [Block].
type BlockKind string

const (
	BlockVocabulary  BlockKind = "vocabulary"
	BlockGrammar     BlockKind = "grammar"
	BlockConstructor BlockKind = "constructor"
	BlockMistake     BlockKind = "find_mistake"
	BlockSituation   BlockKind = "situation"
	BlockDialogue    BlockKind = "dialogue"
	BlockGoal        BlockKind = "goal"

	// BlockUnknown tags blocks whose kind the runtime does not recognise.
	BlockUnknown BlockKind = "unknown"
)

// ScriptError is returned when a lesson script is missing or cannot be
// parsed. It is fatal to the lesson session: callers must surface it and
// never substitute a default lesson.
type ScriptError struct {
	Reason string
	Err    error
}

func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lesson script: %s: %v", e.Reason, e.Err)
	}
	return "lesson script: " + e.Reason
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Script is the immutable per-lesson document. Blocks run in order.
type Script struct {
	Blocks []Block
}

// Block is one exercise block of a script.
type Block interface {
	Kind() BlockKind
}

// Word is a single vocabulary item.
type Word struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
	Example     string `json:"example,omitempty"`
}

// VocabularyBlock introduces a list of words revealed one at a time by the
// gating layer.
type VocabularyBlock struct {
	Words []Word `json:"words"`
}

func (VocabularyBlock) Kind() BlockKind { return BlockVocabulary }

// GrammarBlock is an explanation section. Its message is gated: content
// after it stays hidden until the learner explicitly continues.
type GrammarBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (GrammarBlock) Kind() BlockKind { return BlockGrammar }

// ConstructorTask is one sentence-construction exercise: the learner builds
// a sentence matching Answer from the Prompt.
type ConstructorTask struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// ConstructorBlock holds an ordered list of sentence-construction tasks.
type ConstructorBlock struct {
	Tasks []ConstructorTask `json:"tasks"`
}

func (ConstructorBlock) Kind() BlockKind { return BlockConstructor }

// MistakeItem is one find-the-mistake exercise. Answer is "A" or "B".
type MistakeItem struct {
	Prompt  string `json:"prompt"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
	Answer  string `json:"answer"`
}

// MistakeBlock holds an ordered list of find-the-mistake items.
type MistakeBlock struct {
	Items []MistakeItem `json:"items"`
}

func (MistakeBlock) Kind() BlockKind { return BlockMistake }

// Scenario is one situational role-play setting with the tutor's turns.
type Scenario struct {
	Setting string   `json:"setting"`
	Turns   []string `json:"turns,omitempty"`
}

// SituationBlock holds an ordered list of role-play scenarios.
type SituationBlock struct {
	Scenarios []Scenario `json:"scenarios"`
}

func (SituationBlock) Kind() BlockKind { return BlockSituation }

// DialogueBlock opens a free dialogue on the given prompt. The engine parks
// on it; replies are produced outside the script.
type DialogueBlock struct {
	Prompt string `json:"prompt"`
}

func (DialogueBlock) Kind() BlockKind { return BlockDialogue }

// GoalBlock announces the lesson goal. It must be acknowledged before any
// other content is revealed.
type GoalBlock struct {
	Text string `json:"text"`
}

func (GoalBlock) Kind() BlockKind { return BlockGoal }

// UnknownBlock preserves a block of an unrecognised kind. The engine skips
// it; it exists so that forward-compatible scripts never fail to parse.
type UnknownBlock struct {
	RawKind string
	Raw     json.RawMessage
}

func (UnknownBlock) Kind() BlockKind { return BlockUnknown }

// rawBlock is the envelope every script block shares.
type rawBlock struct {
	Kind string `json:"kind"`
}

// ParseScript parses a lesson script blob. It tolerates the delivery
// variants seen in production scripts:
//
//   - plain JSON array of blocks
//   - JSON wrapped in markdown code fences (``` or ```json)
//   - prose or labels before the first '[' or '{'
//   - the whole document doubly encoded as a JSON string
//
// Any failure returns a *[ScriptError]; callers must not fall back to a
// default lesson.
func ParseScript(raw string) (*Script, error) {
	cleaned := stripFences(raw)
	cleaned = stripPreamble(cleaned)
	if cleaned == "" {
		return nil, &ScriptError{Reason: "empty document"}
	}

	// Doubly-encoded scripts arrive as a JSON string containing the real
	// document. Unquote once and re-clean.
	if cleaned[0] == '"' {
		inner, err := strconv.Unquote(cleaned)
		if err != nil {
			var s string
			if jerr := json.Unmarshal([]byte(cleaned), &s); jerr != nil {
				return nil, &ScriptError{Reason: "unquote doubly-encoded document", Err: err}
			}
			inner = s
		}
		cleaned = stripPreamble(stripFences(inner))
	}

	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raws); err != nil {
		// Some authors wrap the array in {"blocks": [...]}.
		var doc struct {
			Blocks []json.RawMessage `json:"blocks"`
		}
		if derr := json.Unmarshal([]byte(cleaned), &doc); derr != nil || doc.Blocks == nil {
			return nil, &ScriptError{Reason: "decode block list", Err: err}
		}
		raws = doc.Blocks
	}
	if len(raws) == 0 {
		return nil, &ScriptError{Reason: "script has no blocks"}
	}

	blocks := make([]Block, 0, len(raws))
	for i, rb := range raws {
		block, err := parseBlock(rb)
		if err != nil {
			return nil, &ScriptError{Reason: fmt.Sprintf("block %d", i), Err: err}
		}
		blocks = append(blocks, block)
	}
	return &Script{Blocks: blocks}, nil
}

// parseBlock decodes one block based on its kind tag.
func parseBlock(raw json.RawMessage) (Block, error) {
	var env rawBlock
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode block envelope: %w", err)
	}

	switch BlockKind(env.Kind) {
	case BlockVocabulary:
		var b VocabularyBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode vocabulary block: %w", err)
		}
		if len(b.Words) == 0 {
			return nil, fmt.Errorf("vocabulary block has no words")
		}
		return b, nil
	case BlockGrammar:
		var b GrammarBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode grammar block: %w", err)
		}
		return b, nil
	case BlockConstructor:
		var b ConstructorBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode constructor block: %w", err)
		}
		if len(b.Tasks) == 0 {
			return nil, fmt.Errorf("constructor block has no tasks")
		}
		return b, nil
	case BlockMistake:
		var b MistakeBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode find-mistake block: %w", err)
		}
		for i, item := range b.Items {
			if item.Answer != "A" && item.Answer != "B" {
				return nil, fmt.Errorf("find-mistake item %d: answer must be A or B, got %q", i, item.Answer)
			}
		}
		if len(b.Items) == 0 {
			return nil, fmt.Errorf("find-mistake block has no items")
		}
		return b, nil
	case BlockSituation:
		var b SituationBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode situation block: %w", err)
		}
		if len(b.Scenarios) == 0 {
			return nil, fmt.Errorf("situation block has no scenarios")
		}
		return b, nil
	case BlockDialogue:
		var b DialogueBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode dialogue block: %w", err)
		}
		return b, nil
	case BlockGoal:
		var b GoalBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode goal block: %w", err)
		}
		return b, nil
	default:
		return UnknownBlock{RawKind: env.Kind, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// stripFences removes a leading/trailing markdown code fence pair, with or
// without a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line ("json", "javascript", …).
		first := strings.TrimSpace(s[:idx])
		if first != "" && !strings.ContainsAny(first, "[{\"") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stripPreamble drops any prose before the first JSON value. Scripts are
// occasionally delivered with a human-readable label line first.
func stripPreamble(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, "[{\"")
	if idx > 0 {
		s = s[idx:]
	}
	return s
}
