// Package grader evaluates lesson answers. The primary grader asks a
// language model for a structured verdict; a phonetic grader based on
// Double Metaphone and Jaro-Winkler similarity serves as the offline
// fallback for spoken answers, where transcription noise makes exact
// comparison useless.
package grader

import (
	"context"
	"time"

	"github.com/lektio/lektio/internal/observe"
	"github.com/lektio/lektio/internal/resilience"
)

// Task describes what the learner was asked and what they answered.
type Task struct {
	// Prompt is the exercise prompt shown to the learner.
	Prompt string

	// Expected is the reference answer from the script.
	Expected string

	// Answer is the learner's response, typed or transcribed.
	Answer string

	// Language is the BCP-47 code of the target language.
	Language string

	// Spoken marks answers that arrived through transcription.
	Spoken bool
}

// Result is a grading verdict.
type Result struct {
	Correct  bool
	Feedback string
}

// Grader evaluates one task.
type Grader interface {
	Grade(ctx context.Context, task Task) (Result, error)
}

// Chain grades with graders in priority order, falling back on failure.
// Each attempt runs under its own deadline so a stalled backend degrades
// to the next grader instead of stalling the lesson.
type Chain struct {
	entries []NamedGrader
	metrics *observe.Metrics
	timeout time.Duration
}

// ChainOption configures a [Chain].
type ChainOption func(*Chain)

// WithTimeout sets the per-grader deadline. Default 15s.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

// WithMetrics attaches grading instruments.
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain builds a chain over named graders in priority order.
func NewChain(opts []ChainOption, graders ...NamedGrader) *Chain {
	c := &Chain{timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = graders
	return c
}

// NamedGrader pairs a grader with the name reported in logs and metrics.
type NamedGrader struct {
	Name   string
	Grader Grader
}

// Grade implements [Grader].
func (c *Chain) Grade(ctx context.Context, task Task) (Result, error) {
	providers := make([]resilience.Provider[Result], 0, len(c.entries))
	for _, e := range c.entries {
		e := e
		providers = append(providers, resilience.Provider[Result]{
			Name: e.Name,
			Call: func(ctx context.Context) (Result, error) {
				start := time.Now()
				res, err := resilience.WithTimeout(ctx, c.timeout, func(ctx context.Context) (Result, error) {
					return e.Grader.Grade(ctx, task)
				})
				if c.metrics != nil {
					c.metrics.RecordGrade(ctx, time.Since(start), e.Name, err == nil)
				}
				return res, err
			},
		})
	}
	group := resilience.NewFallbackGroup("grader", nil, providers...)
	res, _, err := group.Do(ctx)
	return res, err
}
