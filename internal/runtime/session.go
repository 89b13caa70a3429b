// Package runtime wires the lesson pieces into a live session: it loads
// the script and transcript, keeps the transcript reconciled against
// realtime events, routes learner input through grading into the step
// engine, queues persistence, and drives gated rendering and audio.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lektio/lektio/internal/audio"
	"github.com/lektio/lektio/internal/content"
	"github.com/lektio/lektio/internal/gate"
	"github.com/lektio/lektio/internal/grader"
	"github.com/lektio/lektio/internal/lesson"
	"github.com/lektio/lektio/internal/observe"
	"github.com/lektio/lektio/internal/resilience"
	"github.com/lektio/lektio/internal/transcript"
	"github.com/lektio/lektio/pkg/provider/stt"
	"github.com/lektio/lektio/pkg/types"
)

// transcribeTimeout caps a single transcription round trip. A stalled
// speech backend surfaces as [resilience.ErrTimeout] instead of hanging
// the answer flow.
const transcribeTimeout = 30 * time.Second

// ErrNoSpeech reports that a spoken answer contained no recognizable
// speech. The caller should prompt the learner to try again; nothing was
// appended to the transcript.
var ErrNoSpeech = errors.New("runtime: no speech recognized")

// ErrNotStarted reports a learner action before Start.
var ErrNotStarted = errors.New("runtime: session not started")

// Deps carries the session's collaborators. Store and Gate are required;
// the rest degrade gracefully when nil (no realtime, no audio, phonetic
// grading only, no speech input).
type Deps struct {
	Store      content.Store
	Subscriber content.Subscriber
	Gate       *gate.Controller
	Audio      *audio.Queue
	Grader     grader.Grader
	STT        stt.Provider
	Logger     *slog.Logger
	Metrics    *observe.Metrics
}

// Session is one learner's live view of one lesson. All exported methods
// are safe for concurrent use.
type Session struct {
	key     types.LessonKey
	store   content.Store
	sub     content.Subscriber
	gate    *gate.Controller
	audio   *audio.Queue
	grader  grader.Grader
	stt     stt.Provider
	log     *slog.Logger
	metrics *observe.Metrics

	mu         sync.Mutex
	engine     *lesson.Engine
	transcript *transcript.Store
	saves      *transcript.SaveQueue
	step       *lesson.Step
	unsubs     []func()
	started    bool
}

// NewSession creates a session for key. Call [Session.Start] before any
// learner action.
func NewSession(key types.LessonKey, deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("runtime: Deps.Store is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("runtime: Deps.Gate is required")
	}
	g := deps.Grader
	if g == nil {
		g = grader.NewPhoneticGrader()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		key:        key,
		store:      deps.Store,
		sub:        deps.Subscriber,
		gate:       deps.Gate,
		audio:      deps.Audio,
		grader:     g,
		stt:        deps.STT,
		log:        log,
		metrics:    deps.Metrics,
		transcript: transcript.NewStore(),
	}, nil
}

// Start loads the script and transcript, subscribes to realtime events and
// seeds the first step when the transcript is empty. ctx also scopes the
// background save queue: cancel it only at shutdown.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("runtime: session already started")
	}

	raw, err := s.store.LoadScript(ctx, s.key)
	if err != nil {
		return fmt.Errorf("runtime: load script: %w", err)
	}
	script, err := lesson.ParseScript(raw)
	if err != nil {
		return fmt.Errorf("runtime: parse script: %w", err)
	}
	engine, err := lesson.NewEngine(script)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	s.engine = engine

	msgs, err := s.store.LoadMessages(ctx, s.key)
	if err != nil {
		return fmt.Errorf("runtime: load messages: %w", err)
	}
	for _, m := range msgs {
		s.applyRemoteLocked(ctx, m)
	}
	s.step = latestStep(s.transcript.Snapshot())

	s.saves = transcript.NewSaveQueue(ctx, transcript.WithFailureHook(func(err error) {
		s.log.Error("lesson save failed", "lesson", s.key, "error", err)
		if s.metrics != nil {
			s.metrics.RecordSaveFailure(ctx)
		}
	}))
	if s.metrics != nil {
		if err := s.metrics.RegisterSaveDepth(func() int64 { return int64(s.saves.Depth()) }); err != nil {
			s.log.Warn("save depth gauge unavailable", "error", err)
		}
	}

	if s.sub != nil {
		unsub, err := s.sub.SubscribeMessages(ctx, s.key, func(m types.Message) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.applyRemoteLocked(ctx, m)
		})
		if err != nil {
			return fmt.Errorf("runtime: subscribe messages: %w", err)
		}
		s.unsubs = append(s.unsubs, unsub)

		unsub, err = s.sub.SubscribeProgress(ctx, s.key, func(ev content.ProgressEvent) {
			s.log.Info("lesson progress event", "lesson", ev.Key, "completed", ev.Completed)
		})
		if err != nil {
			return fmt.Errorf("runtime: subscribe progress: %w", err)
		}
		s.unsubs = append(s.unsubs, unsub)
	}

	s.started = true

	if s.transcript.Len() == 0 {
		adv, err := s.engine.Advance(nil, lesson.Input{})
		if err != nil {
			return fmt.Errorf("runtime: seed lesson: %w", err)
		}
		s.applyAdvanceLocked(ctx, adv)
	}
	return nil
}

// View returns the gated rendering of the current transcript.
func (s *Session) View() gate.View {
	s.mu.Lock()
	msgs := s.transcript.Snapshot()
	s.mu.Unlock()
	return s.gate.View(msgs)
}

// Messages returns the full reconciled transcript, ungated.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Snapshot()
}

// Completed reports whether the lesson has emitted its completion marker.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lesson.IsComplete(s.transcript.Snapshot())
}

// SubmitText handles a typed answer for the current step.
func (s *Session) SubmitText(ctx context.Context, text string) error {
	return s.submitAnswer(ctx, text, false)
}

// SubmitSpeech transcribes a recorded answer and grades it like typed
// input. A clip with no recognizable speech returns [ErrNoSpeech] without
// touching the transcript.
func (s *Session) SubmitSpeech(ctx context.Context, clip stt.Clip) error {
	if s.stt == nil {
		return errors.New("runtime: no speech provider configured")
	}
	start := time.Now()
	text, err := resilience.WithTimeout(ctx, transcribeTimeout, func(ctx context.Context) (string, error) {
		return s.stt.Transcribe(ctx, clip)
	})
	if s.metrics != nil {
		s.metrics.RecordTranscription(ctx, time.Since(start), "stt", err == nil)
	}
	if err != nil {
		return fmt.Errorf("runtime: transcribe: %w", err)
	}
	if text == "" {
		return ErrNoSpeech
	}
	return s.submitAnswer(ctx, text, true)
}

// SubmitChoice handles an option tap on a find-the-mistake step.
func (s *Session) SubmitChoice(ctx context.Context, choice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	adv, err := s.engine.Advance(s.step, lesson.Input{Choice: choice})
	if err != nil {
		return err
	}
	s.applyAdvanceLocked(ctx, adv)
	return nil
}

// ContinueWords leaves the vocabulary step once every word is revealed.
func (s *Session) ContinueWords(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	adv, err := s.engine.Advance(s.step, lesson.Input{WordsComplete: true})
	if err != nil {
		return err
	}
	s.applyAdvanceLocked(ctx, adv)
	return nil
}

// RevealNextWord advances the persisted word reveal index and returns the
// new count. The word itself is voiced when audio is configured.
func (s *Session) RevealNextWord(ctx context.Context) (int, error) {
	s.mu.Lock()
	words := latestWords(s.transcript.Snapshot())
	s.mu.Unlock()
	if len(words) == 0 {
		return 0, errors.New("runtime: no vocabulary step in progress")
	}

	n, err := s.gate.RevealNext(len(words))
	if err != nil {
		return 0, err
	}
	if s.audio != nil && n > 0 && n <= len(words) {
		w := words[n-1]
		items := []audio.Item{{Text: w.Text, Lang: s.key.Language, Kind: audio.KindWord}}
		if w.Example != "" {
			items = append(items, audio.Item{Text: w.Example, Lang: s.key.Language, Kind: audio.KindExample})
		}
		if err := s.audio.Play(ctx, items, ""); err != nil && ctx.Err() == nil {
			s.log.Warn("word playback interrupted", "error", err)
		}
	}
	return n, nil
}

// UnlockSection marks a gated section as read.
func (s *Session) UnlockSection(sectionKey string) error {
	return s.gate.Unlock(sectionKey)
}

// AckGoal acknowledges the lesson goal message.
func (s *Session) AckGoal() error {
	return s.gate.AckGoal()
}

// Restart wipes all learner-local lesson state and reseeds the first step.
// Server-side history is not touched.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	// Gate state, transcript and step must be cleared before playback is
	// cancelled, then the lesson reseeds.
	if err := s.gate.Reset(); err != nil {
		return fmt.Errorf("runtime: reset gate state: %w", err)
	}
	s.transcript.Reset()
	s.step = nil
	if s.audio != nil {
		s.audio.Reset()
	}

	adv, err := s.engine.Advance(nil, lesson.Input{})
	if err != nil {
		return fmt.Errorf("runtime: reseed lesson: %w", err)
	}
	s.applyAdvanceLocked(ctx, adv)
	return nil
}

// Close cancels subscriptions and drains pending saves.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	saves := s.saves
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if s.audio != nil {
		s.audio.Cancel()
	}
	if saves != nil {
		saves.Close()
	}
}

func (s *Session) submitAnswer(ctx context.Context, text string, spoken bool) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	step := s.step
	engine := s.engine
	s.mu.Unlock()

	info, err := engine.TaskInfo(step)
	if err != nil {
		return err
	}

	res, err := s.grader.Grade(ctx, grader.Task{
		Prompt:   info.Prompt,
		Expected: info.Expected,
		Answer:   text,
		Language: s.key.Language,
		Spoken:   spoken,
	})
	if err != nil {
		return fmt.Errorf("runtime: grade answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !stepEqual(s.step, step) {
		// A realtime event moved the lesson while grading ran; the answer
		// no longer applies to the current step.
		return errors.New("runtime: lesson advanced during grading, answer discarded")
	}

	user := s.transcript.AppendOptimistic(types.Message{Role: types.RoleUser, Text: text})
	s.enqueueSaveLocked(user)

	adv, err := engine.Advance(step, lesson.Input{
		Text:  text,
		Grade: &lesson.Grade{Correct: res.Correct, Feedback: res.Feedback},
	})
	if err != nil {
		return err
	}
	s.applyAdvanceLocked(ctx, adv)
	return nil
}

// applyAdvanceLocked appends the advance's messages optimistically, queues
// their persistence, updates the step and triggers scripted audio.
func (s *Session) applyAdvanceLocked(ctx context.Context, adv lesson.Advance) {
	for _, m := range adv.Messages {
		stored := s.transcript.AppendOptimistic(m)
		s.enqueueSaveLocked(stored)
		s.autoPlayLocked(ctx, stored)
	}
	s.step = adv.Next
}

func (s *Session) enqueueSaveLocked(msg types.Message) {
	if s.saves == nil {
		return
	}
	s.saves.Enqueue(func(ctx context.Context) error {
		return s.store.SaveMessage(ctx, s.key, msg)
	})
}

// autoPlayLocked voices situation payloads as they appear. Other payloads
// play on demand only.
func (s *Session) autoPlayLocked(ctx context.Context, msg types.Message) {
	if s.audio == nil {
		return
	}
	p, ok := lesson.ParsePayload(msg.Text)
	if !ok || p.Type != lesson.PayloadSituation || len(p.Turns) == 0 {
		return
	}
	items := make([]audio.Item, 0, len(p.Turns))
	for _, turn := range p.Turns {
		items = append(items, audio.Item{Text: turn, Lang: s.key.Language, Kind: audio.KindSituation})
	}
	go func() {
		if err := s.audio.AutoPlay(ctx, items, msg.ID); err != nil && ctx.Err() == nil {
			s.log.Warn("situation playback interrupted", "error", err)
		}
	}()
}

func (s *Session) applyRemoteLocked(ctx context.Context, msg types.Message) {
	outcome := s.transcript.ApplyRemote(msg)
	if s.metrics != nil {
		s.metrics.RecordReconciliation(ctx, string(outcome))
	}
	// Confirmed messages may carry a step snapshot newer than ours, e.g.
	// when another device advanced the lesson.
	if next := latestStep(s.transcript.Snapshot()); next != nil {
		s.step = next
	}
}

func stepEqual(a, b *lesson.Step) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type == b.Type && a.Block == b.Block && a.Index == b.Index
}

// latestStep decodes the step snapshot of the newest model message that
// carries one. A transcript containing the completion marker has no
// current step.
func latestStep(msgs []types.Message) *lesson.Step {
	if lesson.IsComplete(msgs) {
		return nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleModel || len(msgs[i].Step) == 0 {
			continue
		}
		step, err := lesson.DecodeSnapshot(msgs[i].Step)
		if err != nil {
			continue
		}
		return step
	}
	return nil
}

// latestWords returns the word list of the newest words_list payload.
func latestWords(msgs []types.Message) []lesson.Word {
	for i := len(msgs) - 1; i >= 0; i-- {
		p, ok := lesson.ParsePayload(msgs[i].Text)
		if ok && p.Type == lesson.PayloadWordsList {
			return p.Words
		}
	}
	return nil
}
