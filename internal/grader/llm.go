package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lektio/lektio/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the grading instruction. The target language is
// interpolated at call time.
const systemPromptTemplate = `You are a language tutor grading a learner's answer in %s.

Rules:
- Judge meaning, not surface form. Accept synonyms, minor typos, missing accents and different word order when the meaning matches the expected answer.
- For spoken answers, tolerate transcription noise: homophones and phonetically close words count as matches.
- Feedback must be one to two short sentences, encouraging, and written for a beginner.
- When the answer is wrong, the feedback names what was wrong without giving the full solution away.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"correct": <true|false>, "feedback": "<short feedback>"}`

// llmResult is the expected JSON structure returned by the model.
type llmResult struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

var _ Grader = (*LLMGrader)(nil)

// LLMOption is a functional option for configuring an [LLMGrader].
type LLMOption func(*LLMGrader)

// WithTemperature sets the sampling temperature. Lower values produce more
// consistent verdicts. Default: 0.1.
func WithTemperature(temp float64) LLMOption {
	return func(g *LLMGrader) { g.temperature = temp }
}

// LLMGrader asks an [llm.Provider] for a structured grading verdict. It is
// safe for concurrent use.
type LLMGrader struct {
	llm         llm.Provider
	temperature float64
}

// NewLLMGrader returns a grader backed by provider.
func NewLLMGrader(provider llm.Provider, opts ...LLMOption) *LLMGrader {
	g := &LLMGrader{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Grade implements [Grader]. Network and cancellation errors surface so
// the chain can fall through; an unparseable model response does not, it
// degrades to a correct verdict with generic feedback because blocking the
// learner on a formatting bug would be worse than over-crediting one
// answer.
func (g *LLMGrader) Grade(ctx context.Context, task Task) (Result, error) {
	userMsg := fmt.Sprintf("Exercise: %s\nExpected answer: %s\nLearner answer: %s",
		task.Prompt, task.Expected, task.Answer)
	if task.Spoken {
		userMsg += "\n(The answer was transcribed from speech.)"
	}

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, languageName(task.Language)),
		Temperature:  g.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	}

	resp, err := g.llm.Complete(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("grader: complete: %w", err)
	}

	var parsed llmResult
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &parsed); err != nil {
		return Result{Correct: true, Feedback: "Looks good, keep going!"}, nil
	}
	return Result{Correct: parsed.Correct, Feedback: parsed.Feedback}, nil
}

// languageName maps common BCP-47 codes to names the model grades best
// with; unknown codes pass through unchanged.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "it":
		return "Italian"
	case "pt":
		return "Portuguese"
	case "ru":
		return "Russian"
	case "en", "":
		return "English"
	default:
		return code
	}
}

// stripMarkdown removes optional code fences (```json ... ```) that some
// models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
