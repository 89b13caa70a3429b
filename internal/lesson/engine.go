package lesson

import (
	"fmt"
	"strings"

	"github.com/lektio/lektio/pkg/types"
)

// Grade is a correctness/feedback pair computed by an external grader for a
// free-text answer. The engine never grades free text itself.
type Grade struct {
	Correct  bool
	Feedback string
}

// Input carries the learner's action for one [Engine.Advance] call. Exactly
// one of the fields is meaningful per step type: free text plus its Grade
// for constructor/situation steps, Choice for find-the-mistake steps, and
// WordsComplete to leave the vocabulary step.
type Input struct {
	Text          string
	Choice        string
	WordsComplete bool
	Grade         *Grade
}

// Advance is the result of one engine step: the model messages to append to
// the transcript and the next step. A nil Next means the lesson script is
// exhausted; the emitted completion message is the authoritative signal.
type Advance struct {
	Messages []types.Message
	Next     *Step
}

// Engine is the pure step-advancement state machine over one script. It
// performs no I/O: callers append the returned messages to the transcript
// and queue their persistence themselves.
//
// Engine is safe for concurrent use — it holds no mutable state.
type Engine struct {
	script *Script
}

// NewEngine creates an Engine over script. The script must have been
// produced by [ParseScript]; a nil or empty script is rejected.
func NewEngine(script *Script) (*Engine, error) {
	if script == nil || len(script.Blocks) == 0 {
		return nil, &ScriptError{Reason: "engine requires a non-empty script"}
	}
	return &Engine{script: script}, nil
}

// Advance computes the next batch of model messages and the next step from
// the current step and the learner's input. Passing a nil current step
// seeds the lesson from the first block.
func (e *Engine) Advance(current *Step, input Input) (Advance, error) {
	if current == nil {
		return e.enter(0), nil
	}
	if current.Block < 0 || current.Block >= len(e.script.Blocks) {
		return Advance{}, fmt.Errorf("lesson: step block %d out of range (script has %d blocks)", current.Block, len(e.script.Blocks))
	}

	switch current.Type {
	case StepWords:
		if !input.WordsComplete {
			// Learner is still revealing words; position is unchanged.
			return Advance{Next: current}, nil
		}
		return e.enter(current.Block + 1), nil

	case StepConstructor:
		return e.advanceConstructor(current, input)

	case StepMistake:
		return e.advanceMistake(current, input)

	case StepSituation:
		return e.advanceSituation(current, input)

	case StepDialogue:
		// Free dialogue replies are produced outside the script; the step
		// only moves on lesson restart.
		return Advance{Next: current}, nil

	default:
		return Advance{}, fmt.Errorf("lesson: cannot advance from step type %q", current.Type)
	}
}

// enter walks the script from block index from, emitting the intro message
// of every pass-through block (goal, grammar — which the gating layer hides
// until acknowledged/unlocked) until it reaches a block that takes learner
// input, or the end of the script.
func (e *Engine) enter(from int) Advance {
	var msgs []types.Message

	for i := from; i < len(e.script.Blocks); i++ {
		switch b := e.script.Blocks[i].(type) {
		case GoalBlock:
			msgs = append(msgs, modelMessage(Payload{Type: PayloadGoal, Body: b.Text}, nil))

		case GrammarBlock:
			msgs = append(msgs, modelMessage(Payload{
				Type:        PayloadSection,
				SectionKind: "grammar",
				Title:       b.Title,
				Body:        b.Body,
			}, nil))

		case UnknownBlock:
			// Forward compatibility: unrecognised blocks are skipped.

		case VocabularyBlock:
			step := &Step{Type: StepWords, Block: i}
			msgs = append(msgs, modelMessage(Payload{Type: PayloadWordsList, Words: b.Words}, step))
			return Advance{Messages: msgs, Next: step}

		case ConstructorBlock:
			step := &Step{Type: StepConstructor, Block: i, Index: 0, Awaiting: true}
			msgs = append(msgs, modelMessage(taskPayload(b.Tasks[0]), step))
			return Advance{Messages: msgs, Next: step}

		case MistakeBlock:
			step := &Step{Type: StepMistake, Block: i, Index: 0, Awaiting: true}
			msgs = append(msgs, modelMessage(mistakePayload(b.Items[0]), step))
			return Advance{Messages: msgs, Next: step}

		case SituationBlock:
			step := &Step{Type: StepSituation, Block: i, Index: 0, Awaiting: true}
			msgs = append(msgs, modelMessage(situationPayload(b.Scenarios[0]), step))
			return Advance{Messages: msgs, Next: step}

		case DialogueBlock:
			step := &Step{Type: StepDialogue, Block: i}
			msgs = append(msgs, modelMessage(Payload{Type: PayloadTask, Body: b.Prompt}, step))
			return Advance{Messages: msgs, Next: step}
		}
	}

	// No blocks remain: emit the completion marker. Its presence in any
	// persisted message is the sole lesson-completion signal.
	msgs = append(msgs, modelMessage(Payload{Type: PayloadComplete, Body: CompletionMarker}, nil))
	return Advance{Messages: msgs, Next: nil}
}

func (e *Engine) advanceConstructor(current *Step, input Input) (Advance, error) {
	block, ok := e.script.Blocks[current.Block].(ConstructorBlock)
	if !ok {
		return Advance{}, fmt.Errorf("lesson: step points at block %d which is not a constructor block", current.Block)
	}
	if current.Index >= len(block.Tasks) {
		return Advance{}, fmt.Errorf("lesson: constructor task index %d out of range", current.Index)
	}
	if input.Grade == nil {
		return Advance{}, fmt.Errorf("lesson: constructor step requires a graded answer")
	}

	feedback := feedbackMessage(input.Grade.Correct, input.Grade.Feedback, current)
	if !input.Grade.Correct {
		return Advance{Messages: []types.Message{feedback}, Next: current}, nil
	}
	return e.afterItem(current, feedback, len(block.Tasks), func(next *Step) Payload {
		return taskPayload(block.Tasks[next.Index])
	}), nil
}

func (e *Engine) advanceMistake(current *Step, input Input) (Advance, error) {
	block, ok := e.script.Blocks[current.Block].(MistakeBlock)
	if !ok {
		return Advance{}, fmt.Errorf("lesson: step points at block %d which is not a find-mistake block", current.Block)
	}
	if current.Index >= len(block.Items) {
		return Advance{}, fmt.Errorf("lesson: find-mistake item index %d out of range", current.Index)
	}
	if input.Choice != "A" && input.Choice != "B" {
		return Advance{}, fmt.Errorf("lesson: find-mistake step requires choice A or B, got %q", input.Choice)
	}

	item := block.Items[current.Index]
	correct := input.Choice == item.Answer
	text := "Not quite — look again."
	if correct {
		text = "Correct!"
	}
	feedback := feedbackMessage(correct, text, current)
	if !correct {
		return Advance{Messages: []types.Message{feedback}, Next: current}, nil
	}
	return e.afterItem(current, feedback, len(block.Items), func(next *Step) Payload {
		return mistakePayload(block.Items[next.Index])
	}), nil
}

func (e *Engine) advanceSituation(current *Step, input Input) (Advance, error) {
	block, ok := e.script.Blocks[current.Block].(SituationBlock)
	if !ok {
		return Advance{}, fmt.Errorf("lesson: step points at block %d which is not a situation block", current.Block)
	}
	if current.Index >= len(block.Scenarios) {
		return Advance{}, fmt.Errorf("lesson: scenario index %d out of range", current.Index)
	}
	if input.Grade == nil {
		return Advance{}, fmt.Errorf("lesson: situation step requires a graded answer")
	}

	feedback := feedbackMessage(input.Grade.Correct, input.Grade.Feedback, current)
	if !input.Grade.Correct {
		return Advance{Messages: []types.Message{feedback}, Next: current}, nil
	}
	return e.afterItem(current, feedback, len(block.Scenarios), func(next *Step) Payload {
		return situationPayload(block.Scenarios[next.Index])
	}), nil
}

// afterItem emits feedback and moves to the next item in the same block, or
// into the next block when the current one is exhausted.
func (e *Engine) afterItem(current *Step, feedback types.Message, total int, payloadFor func(*Step) Payload) Advance {
	if current.Index+1 < total {
		next := &Step{Type: current.Type, Block: current.Block, Index: current.Index + 1, Awaiting: true}
		return Advance{
			Messages: []types.Message{feedback, modelMessage(payloadFor(next), next)},
			Next:     next,
		}
	}
	cont := e.enter(current.Block + 1)
	cont.Messages = append([]types.Message{feedback}, cont.Messages...)
	return cont
}

// ── Message construction ──────────────────────────────────────────────────────

func modelMessage(p Payload, step *Step) types.Message {
	return types.Message{
		Role: types.RoleModel,
		Text: p.Encode(),
		Step: step.Snapshot(),
	}
}

func feedbackMessage(correct bool, text string, step *Step) types.Message {
	c := correct
	return modelMessage(Payload{Type: PayloadFeedback, Body: text, Correct: &c}, step)
}

func taskPayload(t ConstructorTask) Payload {
	return Payload{Type: PayloadTask, Body: t.Prompt}
}

func mistakePayload(item MistakeItem) Payload {
	return Payload{Type: PayloadTask, Body: item.Prompt, Options: []string{item.OptionA, item.OptionB}}
}

func situationPayload(s Scenario) Payload {
	return Payload{Type: PayloadSituation, Body: s.Setting, Turns: s.Turns}
}

// TaskInfo describes the prompt and reference answer of an input-taking
// step, for handing to a grader.
type TaskInfo struct {
	Prompt   string
	Expected string
}

// TaskInfo returns the grading context for step. Only constructor and
// situation steps carry one; other step types are graded structurally by
// [Engine.Advance] itself.
func (e *Engine) TaskInfo(step *Step) (TaskInfo, error) {
	if step == nil || step.Block < 0 || step.Block >= len(e.script.Blocks) {
		return TaskInfo{}, fmt.Errorf("lesson: no task at step %+v", step)
	}
	switch b := e.script.Blocks[step.Block].(type) {
	case ConstructorBlock:
		if step.Index >= len(b.Tasks) {
			return TaskInfo{}, fmt.Errorf("lesson: constructor task index %d out of range", step.Index)
		}
		t := b.Tasks[step.Index]
		return TaskInfo{Prompt: t.Prompt, Expected: t.Answer}, nil
	case SituationBlock:
		if step.Index >= len(b.Scenarios) {
			return TaskInfo{}, fmt.Errorf("lesson: scenario index %d out of range", step.Index)
		}
		s := b.Scenarios[step.Index]
		return TaskInfo{Prompt: s.Setting, Expected: strings.Join(s.Turns, " ")}, nil
	default:
		return TaskInfo{}, fmt.Errorf("lesson: step type %q carries no gradable task", step.Type)
	}
}

// IsComplete reports whether any message in the transcript carries the
// completion marker.
func IsComplete(msgs []types.Message) bool {
	for _, m := range msgs {
		if ContainsCompletion(m.Text) {
			return true
		}
	}
	return false
}
