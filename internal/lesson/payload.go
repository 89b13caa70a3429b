package lesson

import (
	"encoding/json"
	"strings"
)

// Payload types carried in the Text of model-authored messages. The gating
// layer dispatches on these; scripts authored before structured payloads
// existed carry plain text instead, which the gating layer handles via its
// legacy marker fallback.
const (
	PayloadWordsList = "words_list"
	PayloadSection   = "section"
	PayloadTask      = "task"
	PayloadFeedback  = "feedback"
	PayloadGoal      = "goal"
	PayloadSituation = "situation"
	PayloadComplete  = "complete"
)

// CompletionMarker is the lesson-completion signal. Its presence in any
// persisted message — not a separate flag — is the authoritative indicator
// that the lesson is finished.
const CompletionMarker = "[[lesson-complete]]"

// Payload is the structured content of a model message. Only the fields
// relevant to the payload's Type are populated.
type Payload struct {
	Type string `json:"type"`

	// SectionKind classifies section payloads ("grammar" for gated
	// explanation sections). Preferred over title matching.
	SectionKind string `json:"section_kind,omitempty"`

	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`

	// Words carries the full word list for words_list payloads. Only a
	// prefix up to the persisted reveal index is shown.
	Words []Word `json:"words,omitempty"`

	// Options carries the two candidates of a find-the-mistake task.
	Options []string `json:"options,omitempty"`

	// Turns carries the spoken tutor turns of a situation payload.
	Turns []string `json:"turns,omitempty"`

	// Correct is set on feedback payloads.
	Correct *bool `json:"correct,omitempty"`
}

// Encode renders the payload as message text.
func (p Payload) Encode() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// ParsePayload attempts to decode message text as a structured [Payload].
// It returns ok=false for plain-text messages (learner answers, legacy
// scripts); that is not an error condition.
func ParsePayload(text string) (Payload, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil || p.Type == "" {
		return Payload{}, false
	}
	return p, true
}

// ContainsCompletion reports whether text carries the completion marker,
// either inside a structured complete payload or inline.
func ContainsCompletion(text string) bool {
	return strings.Contains(text, CompletionMarker)
}
