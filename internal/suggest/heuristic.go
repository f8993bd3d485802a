// This file implements the fallback text-pattern extractor used when the
// LLM response carries no parseable JSON. It scans for CURRENT/SUGGESTED
// block pairs, which several models emit when asked for structured output
// but drifting into prose.
package suggest

import (
	"regexp"
	"strings"

	"agenttune/internal/types"
)

// heuristicConfidence is assigned to extracted pairs: above the apply gate
// but below anything the model scored itself.
const heuristicConfidence = 0.7

var (
	// Matches "CURRENT:" ... "SUGGESTED:" block pairs, with or without
	// fenced code blocks around the fragments.
	blockPairPattern = regexp.MustCompile(
		`(?is)current(?:\s+implementation)?\s*:\s*` + "(?:```[a-z]*\n?)?" + `(.*?)` + "(?:```)?" +
			`\s*suggested(?:\s+implementation)?\s*:\s*` + "(?:```[a-z]*\n?)?" + `(.*?)` + "(?:```)?" +
			`\s*(?:\n\s*\n|$)`)
)

// heuristicExtract scavenges suggestion pairs from free-form LLM output.
// Yielding nothing is fine; the caller treats that as "no suggestions".
func heuristicExtract(resp string) []types.Suggestion {
	matches := blockPairPattern.FindAllStringSubmatch(resp, -1)
	if len(matches) == 0 {
		return nil
	}

	var suggestions []types.Suggestion
	for _, m := range matches {
		current := strings.TrimSpace(strings.Trim(m[1], "`"))
		suggested := strings.TrimSpace(strings.Trim(m[2], "`"))
		if current == "" || suggested == "" {
			continue
		}
		suggestions = append(suggestions, types.Suggestion{
			MutationType:            types.MutationCode,
			Description:             "heuristically extracted improvement",
			CurrentImplementation:   current,
			SuggestedImplementation: suggested,
			Confidence:              heuristicConfidence,
			Priority:                types.PriorityLow,
		})
	}
	return suggestions
}
