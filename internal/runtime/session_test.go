package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lektio/lektio/internal/content"
	contentmock "github.com/lektio/lektio/internal/content/mock"
	"github.com/lektio/lektio/internal/gate"
	"github.com/lektio/lektio/internal/grader"
	"github.com/lektio/lektio/internal/lesson"
	"github.com/lektio/lektio/pkg/provider/stt"
	sttmock "github.com/lektio/lektio/pkg/provider/stt/mock"
	"github.com/lektio/lektio/pkg/types"
)

const testScript = `[
  {"kind": "goal", "text": "Today you learn greetings."},
  {"kind": "vocabulary", "words": [
    {"text": "hola", "translation": "hello"},
    {"text": "adiós", "translation": "goodbye"}
  ]},
  {"kind": "find_mistake", "items": [
    {"prompt": "Which greeting is correct?", "option_a": "hola", "option_b": "holla", "answer": "A"}
  ]},
  {"kind": "constructor", "tasks": [
    {"prompt": "Say hello", "answer": "hola"}
  ]}
]`

var testKey = types.LessonKey{Day: "day-01", Lesson: "greetings", Level: "A1", Language: "es"}

// acceptAll grades every answer correct.
type acceptAll struct{}

func (acceptAll) Grade(_ context.Context, _ grader.Task) (grader.Result, error) {
	return grader.Result{Correct: true, Feedback: "Well done!"}, nil
}

// rejectAll grades every answer wrong.
type rejectAll struct{}

func (rejectAll) Grade(_ context.Context, _ grader.Task) (grader.Result, error) {
	return grader.Result{Correct: false, Feedback: "Try again."}, nil
}

func newTestSession(t *testing.T, deps Deps) (*Session, *contentmock.Store) {
	t.Helper()
	store := deps.Store
	if store == nil {
		store = &contentmock.Store{Scripts: map[string]string{testKey.String(): testScript}}
		deps.Store = store
	}
	if deps.Gate == nil {
		gs, err := gate.NewStateStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewStateStore: %v", err)
		}
		ctrl, err := gate.NewController(gs, testKey)
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		deps.Gate = ctrl
	}
	s, err := NewSession(testKey, deps)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, deps.Store.(*contentmock.Store)
}

func waitForSaves(t *testing.T, store *contentmock.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.SaveCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("save calls = %d, want at least %d", store.SaveCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func payloadTypes(msgs []types.Message) []string {
	var out []string
	for _, m := range msgs {
		if p, ok := lesson.ParsePayload(m.Text); ok {
			out = append(out, p.Type)
		} else {
			out = append(out, "text")
		}
	}
	return out
}

func TestSessionStartSeedsEmptyLesson(t *testing.T) {
	s, store := newTestSession(t, Deps{Grader: acceptAll{}})
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs := s.Messages()
	got := payloadTypes(msgs)
	// Goal passes through, then the vocabulary step parks the engine.
	want := []string{lesson.PayloadGoal, lesson.PayloadWordsList}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payloads = %v, want %v", got, want)
		}
	}

	// Seeded messages are persisted in order.
	waitForSaves(t, store, 2)

	// Goal gates the view until acknowledged.
	view := s.View()
	if !view.GoalPending {
		t.Fatal("goal should be pending before AckGoal")
	}
	if err := s.AckGoal(); err != nil {
		t.Fatalf("AckGoal: %v", err)
	}
	if s.View().GoalPending {
		t.Fatal("goal still pending after AckGoal")
	}
}

func TestSessionStartResumesFromTranscript(t *testing.T) {
	// A transcript already parked on the find-mistake step.
	step := &lesson.Step{Type: lesson.StepMistake, Block: 2, Index: 0, Awaiting: true}
	prior := []types.Message{
		{ID: "srv-1", Role: types.RoleModel, Text: lesson.Payload{Type: lesson.PayloadGoal, Body: "goal"}.Encode(), Order: 1},
		{ID: "srv-2", Role: types.RoleModel, Text: lesson.Payload{Type: lesson.PayloadTask, Body: "Which greeting is correct?", Options: []string{"hola", "holla"}}.Encode(), Order: 2, Step: step.Snapshot()},
	}
	store := &contentmock.Store{
		Scripts:  map[string]string{testKey.String(): testScript},
		Messages: map[string][]types.Message{testKey.String(): prior},
	}
	s, _ := newTestSession(t, Deps{Store: store, Grader: acceptAll{}})
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(s.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2 (no reseed)", got)
	}

	// The resumed step accepts a choice and advances into the constructor.
	if err := s.SubmitChoice(context.Background(), "A"); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	msgs := s.Messages()
	last, ok := lesson.ParsePayload(msgs[len(msgs)-1].Text)
	if !ok || last.Type != lesson.PayloadTask || last.Body != "Say hello" {
		t.Fatalf("last payload = %+v", last)
	}
}

func TestSessionTextAnswerFlow(t *testing.T) {
	s, store := newTestSession(t, Deps{Grader: acceptAll{}})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.ContinueWords(ctx); err != nil {
		t.Fatalf("ContinueWords: %v", err)
	}
	if err := s.SubmitChoice(ctx, "A"); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}

	// Now on the constructor step; a correct text answer finishes the
	// lesson.
	if err := s.SubmitText(ctx, "hola"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if !s.Completed() {
		t.Fatalf("lesson not complete; payloads %v", payloadTypes(s.Messages()))
	}

	// User answer and completion marker both reach the store.
	waitForSaves(t, store, 5)
	foundUser := false
	for _, m := range store.Saved(testKey) {
		if m.Role == types.RoleUser && m.Text == "hola" {
			foundUser = true
		}
	}
	if !foundUser {
		t.Fatal("user answer was not persisted")
	}
}

func TestSessionWrongAnswerKeepsStep(t *testing.T) {
	s, _ := newTestSession(t, Deps{Grader: rejectAll{}})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.ContinueWords(ctx); err != nil {
		t.Fatalf("ContinueWords: %v", err)
	}
	if err := s.SubmitChoice(ctx, "A"); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	before := len(s.Messages())

	if err := s.SubmitText(ctx, "wrong"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	msgs := s.Messages()
	// Wrong answer appends the user message and a feedback message only.
	if len(msgs) != before+2 {
		t.Fatalf("messages = %d, want %d", len(msgs), before+2)
	}
	p, ok := lesson.ParsePayload(msgs[len(msgs)-1].Text)
	if !ok || p.Type != lesson.PayloadFeedback || p.Correct == nil || *p.Correct {
		t.Fatalf("last payload = %+v", p)
	}
	if s.Completed() {
		t.Fatal("lesson must not complete on a wrong answer")
	}

	// The same step accepts a retry.
	if err := s.SubmitText(ctx, "still wrong"); err != nil {
		t.Fatalf("retry SubmitText: %v", err)
	}
}

func TestSessionSpeechAnswer(t *testing.T) {
	sp := &sttmock.Provider{TranscribeResult: "hola"}
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}, STT: sp})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.ContinueWords(ctx); err != nil {
		t.Fatalf("ContinueWords: %v", err)
	}
	if err := s.SubmitChoice(ctx, "A"); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}

	if err := s.SubmitSpeech(ctx, testClip()); err != nil {
		t.Fatalf("SubmitSpeech: %v", err)
	}
	if !s.Completed() {
		t.Fatal("spoken correct answer should complete the lesson")
	}
	if sp.CallCount() != 1 {
		t.Fatalf("transcribe calls = %d", sp.CallCount())
	}
}

func TestSessionSpeechUnrecognized(t *testing.T) {
	sp := &sttmock.Provider{TranscribeResult: ""}
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}, STT: sp})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := len(s.Messages())
	err := s.SubmitSpeech(ctx, testClip())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if len(s.Messages()) != before {
		t.Fatal("unrecognized speech must not touch the transcript")
	}
}

func TestSessionRealtimeConfirmsOptimisticWrites(t *testing.T) {
	sub := &contentmock.Subscriber{}
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}, Subscriber: sub})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	msgs := s.Messages()
	if !msgs[0].IsOptimistic() {
		t.Fatalf("seeded message should be optimistic, got id %q", msgs[0].ID)
	}

	// The server confirms the first message with its assigned order.
	sub.PushMessage(testKey, types.Message{
		ID:    "srv-100",
		Role:  msgs[0].Role,
		Text:  msgs[0].Text,
		Order: 1,
		Step:  msgs[0].Step,
	})

	msgs = s.Messages()
	if msgs[0].ID != "srv-100" || msgs[0].Order != 1 {
		t.Fatalf("optimistic message not confirmed: %+v", msgs[0])
	}
	if got := len(msgs); got != 2 {
		t.Fatalf("messages = %d, want 2 (no duplicate)", got)
	}
}

func TestSessionRestart(t *testing.T) {
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.AckGoal(); err != nil {
		t.Fatalf("AckGoal: %v", err)
	}
	if err := s.ContinueWords(ctx); err != nil {
		t.Fatalf("ContinueWords: %v", err)
	}

	if err := s.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	msgs := s.Messages()
	got := payloadTypes(msgs)
	if len(got) != 2 || got[0] != lesson.PayloadGoal || got[1] != lesson.PayloadWordsList {
		t.Fatalf("payloads after restart = %v", got)
	}
	if !s.View().GoalPending {
		t.Fatal("goal acknowledgement should be wiped by restart")
	}
}

func TestSessionRevealNextWord(t *testing.T) {
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.AckGoal(); err != nil {
		t.Fatalf("AckGoal: %v", err)
	}

	n, err := s.RevealNextWord(ctx)
	if err != nil {
		t.Fatalf("RevealNextWord: %v", err)
	}
	if n != 1 {
		t.Fatalf("reveal count = %d, want 1", n)
	}
	// Revealing past the end caps at the word count.
	s.RevealNextWord(ctx)
	n, err = s.RevealNextWord(ctx)
	if err != nil {
		t.Fatalf("RevealNextWord: %v", err)
	}
	if n != 2 {
		t.Fatalf("reveal count = %d, want cap at 2", n)
	}
}

func TestSessionStartFailsOnMissingScript(t *testing.T) {
	store := &contentmock.Store{Scripts: map[string]string{}}
	s, _ := newTestSession(t, Deps{Store: store, Grader: acceptAll{}})
	defer s.Close()

	err := s.Start(context.Background())
	if !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionActionsBeforeStart(t *testing.T) {
	s, _ := newTestSession(t, Deps{Grader: acceptAll{}})
	defer s.Close()
	if err := s.SubmitChoice(context.Background(), "A"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
	if err := s.SubmitText(context.Background(), "hola"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestSessionGradingErrorSurfaces(t *testing.T) {
	s, _ := newTestSession(t, Deps{Grader: failingGrader{}})
	defer s.Close()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.ContinueWords(ctx); err != nil {
		t.Fatalf("ContinueWords: %v", err)
	}
	if err := s.SubmitChoice(ctx, "A"); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}

	err := s.SubmitText(ctx, "hola")
	if err == nil || !strings.Contains(err.Error(), "grade answer") {
		t.Fatalf("err = %v", err)
	}
	// The failed submission leaves the transcript untouched.
	for _, m := range s.Messages() {
		if m.Role == types.RoleUser {
			t.Fatal("user message appended despite grading failure")
		}
	}
}

type failingGrader struct{}

func (failingGrader) Grade(_ context.Context, _ grader.Task) (grader.Result, error) {
	return grader.Result{}, errors.New("grader offline")
}

func testClip() stt.Clip {
	return stt.Clip{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1, Language: "es"}
}
