package grader

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// jaroWinklerThreshold accepts answers whose string similarity to the
	// expected text is at least this high.
	jaroWinklerThreshold = 0.88

	// metaphoneThreshold accepts answers whose phonetic codes match on at
	// least this fraction of tokens.
	metaphoneThreshold = 0.8
)

var _ Grader = (*PhoneticGrader)(nil)

// PhoneticGrader grades by phonetic and string similarity. It never calls
// out, so it serves as the offline fallback when the LLM grader is
// unreachable. Primarily tuned for spoken answers where transcripts carry
// homophone noise.
type PhoneticGrader struct{}

func NewPhoneticGrader() *PhoneticGrader {
	return &PhoneticGrader{}
}

// Grade implements [Grader].
func (g *PhoneticGrader) Grade(_ context.Context, task Task) (Result, error) {
	answer := normalizeAnswer(task.Answer)
	expected := normalizeAnswer(task.Expected)

	if answer == "" {
		return Result{Correct: false, Feedback: "I couldn't hear an answer. Try again."}, nil
	}
	if answer == expected {
		return Result{Correct: true, Feedback: "Exactly right!"}, nil
	}

	if matchr.JaroWinkler(answer, expected, false) >= jaroWinklerThreshold {
		return Result{Correct: true, Feedback: "Close enough, well done!"}, nil
	}
	if task.Spoken && metaphoneScore(answer, expected) >= metaphoneThreshold {
		return Result{Correct: true, Feedback: "That sounds right!"}, nil
	}

	return Result{Correct: false, Feedback: "Not quite. Listen again and give it another try."}, nil
}

// metaphoneScore compares the answers token by token on their Double
// Metaphone codes and returns the fraction of expected tokens matched.
func metaphoneScore(answer, expected string) float64 {
	ansTokens := strings.Fields(answer)
	expTokens := strings.Fields(expected)
	if len(expTokens) == 0 {
		return 0
	}

	ansCodes := make(map[string]struct{}, len(ansTokens)*2)
	for _, t := range ansTokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			ansCodes[p] = struct{}{}
		}
		if s != "" {
			ansCodes[s] = struct{}{}
		}
	}

	matched := 0
	for _, t := range expTokens {
		p, s := matchr.DoubleMetaphone(t)
		if _, ok := ansCodes[p]; ok && p != "" {
			matched++
			continue
		}
		if _, ok := ansCodes[s]; ok && s != "" {
			matched++
		}
	}
	return float64(matched) / float64(len(expTokens))
}

func normalizeAnswer(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
