package lesson

import (
	"encoding/json"
	"fmt"
)

// StepType identifies which kind of block a [Step] points into.
type StepType string

const (
	StepWords       StepType = "words"
	StepGrammar     StepType = "grammar"
	StepConstructor StepType = "constructor"
	StepMistake     StepType = "find_mistake"
	StepSituation   StepType = "situation"
	StepDialogue    StepType = "dialogue"
	StepGoal        StepType = "goal"
)

// Step is a pointer into the script identifying the learner's current
// position. A snapshot of the step is embedded on every model-authored
// message so a stored transcript reconstructs its position without
// re-running the script from the start.
type Step struct {
	// Type is the step kind; it mirrors the kind of the block it points to.
	Type StepType `json:"type"`

	// Block is the index of the current block within the script.
	Block int `json:"block"`

	// Index is the position within the block (task, item, or scenario
	// index). Unused for words/grammar/dialogue steps.
	Index int `json:"index,omitempty"`

	// Awaiting is true when a task message has been issued and the engine
	// is waiting for the learner's answer to that exact item.
	Awaiting bool `json:"awaiting,omitempty"`
}

// Snapshot serialises the step for embedding on a message. Returns nil for a
// nil step.
func (s *Step) Snapshot() json.RawMessage {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Step has no unmarshalable fields; this cannot happen.
		return nil
	}
	return data
}

// DecodeSnapshot parses a step snapshot previously produced by
// [Step.Snapshot]. A nil or empty snapshot decodes to (nil, nil).
func DecodeSnapshot(raw json.RawMessage) (*Step, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s Step
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("lesson: decode step snapshot: %w", err)
	}
	if s.Type == "" {
		return nil, nil
	}
	return &s, nil
}
