// Package mutation gates candidate suggestions by confidence and applies the
// accepted ones to source text. The default Mutator substitutes literal
// patterns; any strategy must preserve the contract: confidence-gated,
// idempotent, and revertible via the safety layer.
package mutation

import (
	"fmt"
	"regexp"
	"strings"

	"agenttune/internal/logging"
	"agenttune/internal/types"
)

// MinConfidence is the gate below which suggestions are never applied.
// A suggestion at exactly this confidence is applied.
const MinConfidence = 0.7

// Mutator applies suggestions to source text and reports what changed.
type Mutator interface {
	Apply(source string, suggestions []types.Suggestion) (string, []types.AppliedChange)
}

// PatternMutator is the default pattern-substitution Mutator.
type PatternMutator struct{}

// NewPatternMutator creates the default mutator.
func NewPatternMutator() *PatternMutator { return &PatternMutator{} }

// Apply iterates suggestions in the order supplied. Inert suggestions and
// those below the confidence gate are skipped. Accepted suggestions replace
// the first occurrence of their current-implementation fragment; a suggestion
// that matches nothing produces no change and is silently dropped, which also
// makes re-applying an already-applied suggestion a no-op.
func (p *PatternMutator) Apply(source string, suggestions []types.Suggestion) (string, []types.AppliedChange) {
	text := source
	var applied []types.AppliedChange

	for i, s := range suggestions {
		if s.Inert() {
			logging.MutationDebug("suggestion %d dropped: missing implementation fragment", i)
			continue
		}
		if s.Confidence < MinConfidence {
			logging.MutationDebug("suggestion %d skipped: confidence %.2f < %.2f", i, s.Confidence, MinConfidence)
			continue
		}

		mutated, err := substitute(text, s.CurrentImplementation, s.SuggestedImplementation)
		if err != nil {
			// Pathological pattern input; fall back to a plain string replace.
			logging.Get(logging.CategoryMutation).Warn("pattern substitution failed (%v), using plain replace", err)
			mutated = strings.Replace(text, s.CurrentImplementation, s.SuggestedImplementation, 1)
		}

		if mutated == text {
			logging.MutationDebug("suggestion %d matched nothing, dropped", i)
			continue
		}

		text = mutated
		applied = append(applied, types.AppliedChange{
			MutationType:        s.MutationType,
			Description:         s.Description,
			ExpectedImprovement: s.ExpectedImprovement,
		})
		logging.Mutation("applied %s mutation (confidence %.2f): %s", s.MutationType, s.Confidence, s.Description)
	}

	return text, applied
}

// substitute replaces the first occurrence of the literal fragment using an
// escaped, multiline-safe pattern. Panics from the regexp engine on
// pathological input are converted to errors so the caller can fall back.
func substitute(text, current, replacement string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("regexp engine panic: %v", r)
		}
	}()

	pattern, err := regexp.Compile("(?s)" + regexp.QuoteMeta(current))
	if err != nil {
		return "", fmt.Errorf("failed to compile pattern: %w", err)
	}

	loc := pattern.FindStringIndex(text)
	if loc == nil {
		return text, nil
	}
	return text[:loc[0]] + replacement + text[loc[1]:], nil
}
