package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/lektio/lektio/internal/lesson"
	"github.com/lektio/lektio/pkg/types"
)

// InputMode is the input affordance offered for the current transcript state.
type InputMode string

const (
	// InputHidden offers no input; the learner must act on a gate first.
	InputHidden InputMode = "hidden"

	// InputText offers a free-text (or binary choice) affordance.
	InputText InputMode = "text"

	// InputAudio offers a spoken-answer affordance.
	InputAudio InputMode = "audio"
)

// View is the derived visible state of a transcript: which prefix of
// messages is shown and which input affordance is offered.
type View struct {
	Visible []types.Message
	Input   InputMode

	// GoalPending is true while an unacknowledged goal message suppresses
	// input and vocabulary reveal.
	GoalPending bool
}

// Controller derives views from a transcript and owns all mutations of the
// persisted gate state. Given an identical transcript and identical
// persisted state, View always computes the same result.
//
// Safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	store *StateStore
	key   types.LessonKey
	state *State
}

// NewController hydrates a controller for the lesson identified by key.
func NewController(store *StateStore, key types.LessonKey) (*Controller, error) {
	state, err := store.Load(key)
	if err != nil {
		return nil, err
	}
	return &Controller{store: store, key: key, state: state}, nil
}

// View computes the visible prefix and input affordance for msgs.
func (c *Controller) View(msgs []types.Message) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := msgs

	// Grammar gate: the most recent locked grammar section hides everything
	// after it — unless it is the very last message, in which case there is
	// nothing to hide yet.
	if gi := latestGrammarSection(msgs); gi >= 0 && gi != len(msgs)-1 && !c.state.Unlocked[SectionKey(msgs[gi])] {
		return View{Visible: msgs[:gi+1], Input: InputHidden}
	}

	// Goal gate: an unacknowledged goal forces input off regardless of what
	// follows it.
	if goalPending(visible, c.state.GoalAcked) {
		return View{Visible: visible, Input: InputHidden, GoalPending: true}
	}

	return View{Visible: visible, Input: classifyInput(latestModelMessage(visible))}
}

// RevealCount returns how many of total vocabulary items are currently
// shown. Reveal is suppressed entirely while the goal is unacknowledged.
func (c *Controller) RevealCount(total int, goalPending bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if goalPending {
		return 0
	}
	if c.state.RevealIndex > total {
		return total
	}
	return c.state.RevealIndex
}

// RevealNext advances the vocabulary reveal index by one, up to total, and
// persists it. The index is monotonic: it never decreases except through
// [Controller.Reset]. Returns the new index.
func (c *Controller) RevealNext(total int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.RevealIndex >= total {
		return c.state.RevealIndex, nil
	}
	c.state.RevealIndex++
	return c.state.RevealIndex, c.store.Save(c.key, c.state)
}

// Unlock records the learner's explicit reveal of the section with the given
// stable key and persists it.
func (c *Controller) Unlock(sectionKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Unlocked[sectionKey] {
		return nil
	}
	c.state.Unlocked[sectionKey] = true
	return c.store.Save(c.key, c.state)
}

// AckGoal records the one-shot goal acknowledgement. Re-acknowledging is a
// no-op.
func (c *Controller) AckGoal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.GoalAcked {
		return nil
	}
	c.state.GoalAcked = true
	return c.store.Save(c.key, c.state)
}

// Reset clears the persisted gate state. Used on lesson restart; it is the
// only way the reveal index decreases.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(c.key); err != nil {
		return err
	}
	c.state = newState()
	return nil
}

// SectionKey derives a stable per-message key for the unlocked set. It is
// content-derived rather than id-derived so that an optimistic message and
// its server-confirmed counterpart share one key.
func SectionKey(msg types.Message) string {
	sum := sha256.Sum256([]byte(string(msg.Role) + "|" + msg.Text))
	return hex.EncodeToString(sum[:8])
}

// ── Classification ────────────────────────────────────────────────────────────

// latestGrammarSection returns the index of the most recent model message
// carrying a grammar section, or -1.
func latestGrammarSection(msgs []types.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleModel {
			continue
		}
		if p, ok := lesson.ParsePayload(msgs[i].Text); ok && isGrammarSection(p) {
			return i
		}
	}
	return -1
}

// isGrammarSection prefers the structured section kind; the title keyword
// match survives only for scripts authored before the structured flag
// existed. Those legacy titles are Russian-language, so non-Russian legacy
// sections do not gate — a known limitation of the legacy format.
func isGrammarSection(p lesson.Payload) bool {
	if p.Type != lesson.PayloadSection {
		return false
	}
	if p.SectionKind != "" {
		return p.SectionKind == "grammar"
	}
	title := strings.ToLower(p.Title)
	return strings.Contains(title, "грамматика") || strings.Contains(title, "grammar")
}

func goalPending(msgs []types.Message, acked bool) bool {
	if acked {
		return false
	}
	for _, m := range msgs {
		if p, ok := lesson.ParsePayload(m.Text); ok && p.Type == lesson.PayloadGoal {
			return true
		}
	}
	return false
}

func latestModelMessage(msgs []types.Message) *types.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleModel {
			return &msgs[i]
		}
	}
	return nil
}

// classifyInput derives the input affordance for the latest visible model
// message using a layered fallback chain, in priority order:
//
//  1. explicit structured payload type,
//  2. the step snapshot embedded on the message,
//  3. legacy inline textual markers.
//
// The legacy stage is intentional backward compatibility: transcripts
// persisted before structured payloads existed coexist with new ones, so
// all three stages must be preserved.
func classifyInput(msg *types.Message) InputMode {
	if msg == nil {
		return InputHidden
	}

	// Stage 1: structured payload.
	if p, ok := lesson.ParsePayload(msg.Text); ok {
		switch p.Type {
		case lesson.PayloadTask:
			return InputText
		case lesson.PayloadSituation:
			return InputAudio
		case lesson.PayloadWordsList, lesson.PayloadSection, lesson.PayloadGoal, lesson.PayloadComplete:
			return InputHidden
		}
		// Feedback payloads fall through: the affordance follows the step
		// the learner is retrying, not the feedback itself.
	}

	// Stage 2: step snapshot.
	if step, err := lesson.DecodeSnapshot(msg.Step); err == nil && step != nil {
		switch step.Type {
		case lesson.StepConstructor, lesson.StepMistake:
			return InputText
		case lesson.StepSituation, lesson.StepDialogue:
			return InputAudio
		case lesson.StepWords, lesson.StepGrammar, lesson.StepGoal:
			return InputHidden
		}
	}

	// Stage 3: legacy inline markers.
	text := strings.ToLower(msg.Text)
	switch {
	case strings.Contains(text, "___"), strings.Contains(text, "выберите"), strings.Contains(text, "составьте"):
		return InputText
	case strings.Contains(text, "🎤"), strings.Contains(text, "скажите"), strings.Contains(text, "say it aloud"):
		return InputAudio
	}
	return InputHidden
}
