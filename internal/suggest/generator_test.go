package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"agenttune/internal/types"
)

// stubClient returns canned responses for generator tests.
type stubClient struct {
	response string
	err      error
	prompt   string
	system   string
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.prompt = prompt
	return c.response, c.err
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.system = systemPrompt
	c.prompt = userPrompt
	return c.response, c.err
}

func TestGenerate_ParsesJSONArray(t *testing.T) {
	client := &stubClient{response: `Here are my suggestions:
[
  {
    "mutation_type": "code",
    "description": "remove blocking sleep",
    "current_implementation": "time.Sleep(time.Second)",
    "suggested_implementation": "",
    "confidence": 0.9,
    "priority": "high"
  },
  {
    "mutation_type": "prompt",
    "description": "tighten instructions",
    "current_implementation": "be helpful",
    "suggested_implementation": "answer concisely and cite sources",
    "confidence": 0.8,
    "priority": "medium"
  }
]`}

	g := NewLLMGenerator(client)
	suggs, err := g.Generate(context.Background(), Request{AgentID: "A", Goals: types.NewGoalSet(types.GoalPerformance)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// The first suggestion is inert (empty replacement) and must be dropped.
	if len(suggs) != 1 {
		t.Fatalf("got %d suggestions, want 1 (inert dropped)", len(suggs))
	}
	if suggs[0].MutationType != types.MutationPrompt || suggs[0].Confidence != 0.8 {
		t.Errorf("suggestion = %+v", suggs[0])
	}
}

func TestGenerate_WrappedObjectAccepted(t *testing.T) {
	client := &stubClient{response: `{"suggestions": [
		{"mutation_type": "code", "description": "d",
		 "current_implementation": "a", "suggested_implementation": "b",
		 "confidence": 0.75, "priority": "low"}
	]}`}

	g := NewLLMGenerator(client)
	suggs, err := g.Generate(context.Background(), Request{AgentID: "A"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(suggs) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(suggs))
	}
}

func TestGenerate_CallErrorMeansNoSuggestions(t *testing.T) {
	client := &stubClient{err: errors.New("deadline exceeded")}

	g := NewLLMGenerator(client)
	suggs, err := g.Generate(context.Background(), Request{AgentID: "A"})
	if err != nil {
		t.Fatalf("transient failure must not surface an error, got %v", err)
	}
	if len(suggs) != 0 {
		t.Errorf("got %d suggestions, want 0", len(suggs))
	}
}

func TestGenerate_HeuristicFallback(t *testing.T) {
	client := &stubClient{response: `I couldn't produce JSON, but here is what I would change.

CURRENT:
fetchPage(1)

SUGGESTED:
fetchAllPages()

`}

	g := NewLLMGenerator(client)
	suggs, err := g.Generate(context.Background(), Request{AgentID: "A"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(suggs) != 1 {
		t.Fatalf("got %d suggestions, want 1 from heuristic extractor", len(suggs))
	}
	if suggs[0].CurrentImplementation != "fetchPage(1)" {
		t.Errorf("CurrentImplementation = %q", suggs[0].CurrentImplementation)
	}
	if suggs[0].SuggestedImplementation != "fetchAllPages()" {
		t.Errorf("SuggestedImplementation = %q", suggs[0].SuggestedImplementation)
	}
	if suggs[0].Confidence != heuristicConfidence {
		t.Errorf("Confidence = %v, want %v", suggs[0].Confidence, heuristicConfidence)
	}
}

func TestGenerate_GarbageMeansNoSuggestions(t *testing.T) {
	client := &stubClient{response: "I'm sorry, I cannot help with that."}

	g := NewLLMGenerator(client)
	suggs, err := g.Generate(context.Background(), Request{AgentID: "A"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(suggs) != 0 {
		t.Errorf("got %d suggestions from garbage, want 0", len(suggs))
	}
}

func TestBuildPrompt_IncludesContext(t *testing.T) {
	m := types.NewAgentMetrics("A")
	m.SuccessRate = 0.6
	m.ResponseTimes = []float64{100, 200, 300, 400, 500, 600}

	client := &stubClient{response: "[]"}
	g := NewLLMGenerator(client)
	_, _ = g.Generate(context.Background(), Request{
		AgentID:    "A",
		SourceText: "the source body",
		Goals:      types.NewGoalSet(types.GoalResponseTime),
		Metrics:    m,
		History: []types.OptimizationRecord{
			{MutationType: types.MutationPrompt, Description: "earlier tweak"},
		},
	})

	for _, want := range []string{"the source body", "responseTime", "0.60", "earlier tweak"} {
		if !strings.Contains(client.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	// Only the trailing window of response times is included.
	if strings.Contains(client.prompt, "100") && !strings.Contains(client.prompt, "600") {
		t.Error("prompt should include the most recent samples")
	}
}

func TestExtractJSON_BalancedWithStrings(t *testing.T) {
	text := `prefix {"a": "has } brace and \" escape", "b": [1, 2]} suffix {"ignored": true}`
	got := extractJSON(text)
	want := `{"a": "has } brace and \" escape", "b": [1, 2]}`
	if got != want {
		t.Errorf("extractJSON = %q, want %q", got, want)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	if got := extractJSON("plain prose"); got != "{}" {
		t.Errorf("extractJSON = %q, want {}", got)
	}
}
