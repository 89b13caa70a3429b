package grader

import (
	"context"
	"errors"
	"testing"

	"github.com/lektio/lektio/pkg/provider/llm"
	llmmock "github.com/lektio/lektio/pkg/provider/llm/mock"
)

func TestLLMGrader(t *testing.T) {
	task := Task{
		Prompt:   "Say hello",
		Expected: "hola",
		Answer:   "ola",
		Language: "es",
		Spoken:   true,
	}

	t.Run("parses structured verdict", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: `{"correct": true, "feedback": "Nice, minor spelling slip."}`,
		}}
		res, err := NewLLMGrader(p).Grade(context.Background(), task)
		if err != nil {
			t.Fatalf("Grade: %v", err)
		}
		if !res.Correct || res.Feedback != "Nice, minor spelling slip." {
			t.Fatalf("result = %+v", res)
		}
		if p.CallCount() != 1 {
			t.Fatalf("complete calls = %d", p.CallCount())
		}
		req := p.CompleteCalls[0].Req
		if req.SystemPrompt == "" || len(req.Messages) != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}
	})

	t.Run("strips code fences", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"correct\": false, \"feedback\": \"Almost.\"}\n```",
		}}
		res, err := NewLLMGrader(p).Grade(context.Background(), task)
		if err != nil {
			t.Fatalf("Grade: %v", err)
		}
		if res.Correct || res.Feedback != "Almost." {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("unparseable response degrades without error", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: "Sure! The answer looks correct to me.",
		}}
		res, err := NewLLMGrader(p).Grade(context.Background(), task)
		if err != nil {
			t.Fatalf("Grade: %v", err)
		}
		if !res.Correct {
			t.Fatalf("degraded verdict should credit the learner: %+v", res)
		}
	})

	t.Run("provider error surfaces", func(t *testing.T) {
		p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
		if _, err := NewLLMGrader(p).Grade(context.Background(), task); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPhoneticGrader(t *testing.T) {
	g := NewPhoneticGrader()

	cases := []struct {
		name    string
		task    Task
		correct bool
	}{
		{"exact match", Task{Expected: "buenos días", Answer: "buenos días"}, true},
		{"punctuation and case ignored", Task{Expected: "buenos días", Answer: "Buenos Días!"}, true},
		{"near spelling accepted", Task{Expected: "buenos dias", Answer: "buenos diaz"}, true},
		{"homophone accepted when spoken", Task{Expected: "right here", Answer: "write here", Spoken: true}, true},
		{"wrong answer rejected", Task{Expected: "buenos días", Answer: "hasta luego"}, false},
		{"empty answer rejected", Task{Expected: "hola", Answer: ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(context.Background(), tc.task)
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if res.Correct != tc.correct {
				t.Fatalf("correct = %v, want %v (feedback %q)", res.Correct, tc.correct, res.Feedback)
			}
			if res.Feedback == "" {
				t.Fatal("feedback must never be empty")
			}
		})
	}
}

func TestChainFallsBackToPhonetic(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	chain := NewChain(nil,
		NamedGrader{Name: "llm", Grader: NewLLMGrader(p)},
		NamedGrader{Name: "phonetic", Grader: NewPhoneticGrader()},
	)

	res, err := chain.Grade(context.Background(), Task{
		Expected: "hola",
		Answer:   "hola",
		Language: "es",
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !res.Correct {
		t.Fatalf("fallback verdict = %+v", res)
	}
	if p.CallCount() != 1 {
		t.Fatalf("llm attempts = %d, want 1", p.CallCount())
	}
}

func TestChainPrefersFirstGrader(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"correct": false, "feedback": "Not this time."}`,
	}}
	chain := NewChain(nil,
		NamedGrader{Name: "llm", Grader: NewLLMGrader(p)},
		NamedGrader{Name: "phonetic", Grader: NewPhoneticGrader()},
	)

	// The phonetic grader would accept this exact match, but the LLM
	// verdict comes first and wins.
	res, err := chain.Grade(context.Background(), Task{Expected: "hola", Answer: "hola"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Correct {
		t.Fatalf("result = %+v, want the llm verdict", res)
	}
}
