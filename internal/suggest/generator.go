// Package suggest produces candidate mutations for an agent's source text.
// The core pipeline depends only on the Generator contract; the default
// implementation asks an LLM and recovers from unparseable output with a
// heuristic text-pattern extractor. A timeout or empty result means
// "no suggestions", never a failed cycle.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agenttune/internal/logging"
	"agenttune/internal/types"
)

// Request carries everything the generator needs to propose mutations.
type Request struct {
	AgentID    string
	SourceText string
	Goals      types.GoalSet
	Metrics    *types.AgentMetrics
	History    []types.OptimizationRecord
}

// Generator proposes candidate mutations. Implementations must treat
// transient failures as "no suggestions" rather than surfacing an error
// for the whole cycle.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]types.Suggestion, error)
}

// LLMClient defines the minimal interface the generator uses to call an LLM.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMGenerator is the default LLM-backed Generator.
type LLMGenerator struct {
	client LLMClient
}

// NewLLMGenerator creates a generator over the given client.
func NewLLMGenerator(client LLMClient) *LLMGenerator {
	return &LLMGenerator{client: client}
}

// Generate asks the LLM for suggestions. Call errors (including timeouts)
// and unparseable output degrade to the heuristic extractor and finally to
// an empty result; the returned error is always nil for transient failures.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) ([]types.Suggestion, error) {
	prompt := buildPrompt(req)

	resp, err := g.client.CompleteWithSystem(ctx, suggestionSystemPrompt, prompt)
	if err != nil {
		logging.Get(logging.CategoryGenerator).Warn("LLM call failed for %s, no suggestions: %v", req.AgentID, err)
		return nil, nil
	}

	suggestions := parseSuggestions(resp)
	if len(suggestions) == 0 {
		suggestions = heuristicExtract(resp)
		if len(suggestions) > 0 {
			logging.Generator("recovered %d suggestions via heuristic extractor for %s", len(suggestions), req.AgentID)
		}
	}

	logging.Generator("generated %d suggestions for %s (goals=%v)", len(suggestions), req.AgentID, req.Goals.Slice())
	return suggestions, nil
}

// buildPrompt assembles the user prompt from source, metrics, history, and goals.
func buildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("Propose improvements to this agent implementation.\n\n")
	fmt.Fprintf(&sb, "Agent: %s\n", req.AgentID)
	fmt.Fprintf(&sb, "Improvement goals: %v\n\n", req.Goals.Slice())

	if req.Metrics != nil {
		sb.WriteString("Current metrics:\n")
		fmt.Fprintf(&sb, "- success rate: %.2f\n", req.Metrics.SuccessRate)
		fmt.Fprintf(&sb, "- error rate: %.2f\n", req.Metrics.ErrorRate)
		fmt.Fprintf(&sb, "- user feedback: %.1f/5\n", req.Metrics.UserFeedbackScore)
		if n := len(req.Metrics.ResponseTimes); n > 0 {
			fmt.Fprintf(&sb, "- recent response times (ms): %v\n", tail(req.Metrics.ResponseTimes, 5))
		}
		sb.WriteString("\n")
	}

	if len(req.History) > 0 {
		sb.WriteString("Recent optimizations (avoid repeating):\n")
		for i, rec := range req.History {
			if i >= 3 {
				fmt.Fprintf(&sb, "... and %d more\n", len(req.History)-3)
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", rec.MutationType, rec.Description)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Current implementation:\n```\n%s\n```\n", req.SourceText)

	sb.WriteString(`
Return a JSON array of suggestions:
[{
  "mutation_type": "prompt|code|configuration",
  "description": "what this change does",
  "current_implementation": "exact fragment to replace",
  "suggested_implementation": "replacement fragment",
  "confidence": 0.0-1.0,
  "priority": "low|medium|high",
  "expected_improvement": "what should get better"
}]
`)
	return sb.String()
}

var suggestionSystemPrompt = `You are an agent-behavior optimizer. You propose minimal, targeted mutations to an agent's implementation to improve its measured performance.

Rules:
1. current_implementation must be an EXACT substring of the provided source
2. Keep each change small and independently applicable
3. Only propose changes you are confident improve the stated goals
4. Set confidence honestly: below 0.7 means "do not apply automatically"

Return only the JSON array, no commentary.`

// parseSuggestions extracts and decodes the JSON array from an LLM response,
// dropping inert entries.
func parseSuggestions(resp string) []types.Suggestion {
	jsonStr := extractJSON(resp)

	var suggestions []types.Suggestion
	if err := json.Unmarshal([]byte(jsonStr), &suggestions); err != nil {
		// Some models wrap the array in an object.
		var wrapped struct {
			Suggestions []types.Suggestion `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(jsonStr), &wrapped); err != nil {
			return nil
		}
		suggestions = wrapped.Suggestions
	}

	valid := suggestions[:0]
	for _, s := range suggestions {
		if s.Inert() {
			continue
		}
		if s.MutationType == "" {
			s.MutationType = types.MutationCode
		}
		valid = append(valid, s)
	}
	return valid
}

// extractJSON finds the first balanced JSON object or array in text,
// respecting string literals and escapes.
func extractJSON(text string) string {
	start := strings.IndexAny(text, "[{")
	if start == -1 {
		return "{}"
	}

	startChar := text[start]
	endChar := byte('}')
	if startChar == '[' {
		endChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 && ch == endChar {
				return text[start : i+1]
			}
		}
	}
	return "{}"
}

func tail(series []float64, n int) []float64 {
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}
