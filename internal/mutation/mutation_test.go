package mutation

import (
	"strings"
	"testing"

	"agenttune/internal/types"
)

func suggestion(current, replacement string, confidence float64) types.Suggestion {
	return types.Suggestion{
		MutationType:            types.MutationCode,
		Description:             "test change",
		CurrentImplementation:   current,
		SuggestedImplementation: replacement,
		Confidence:              confidence,
	}
}

func TestApply_ConfidenceGate(t *testing.T) {
	m := NewPatternMutator()
	source := "alpha beta gamma"

	// 0.69 is never applied.
	out, applied := m.Apply(source, []types.Suggestion{suggestion("beta", "BETA", 0.69)})
	if out != source || len(applied) != 0 {
		t.Errorf("confidence 0.69 was applied: out=%q applied=%d", out, len(applied))
	}

	// 0.70 is applied when the fragment is found verbatim.
	out, applied = m.Apply(source, []types.Suggestion{suggestion("beta", "BETA", 0.70)})
	if out != "alpha BETA gamma" {
		t.Errorf("out = %q, want %q", out, "alpha BETA gamma")
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %d changes, want 1", len(applied))
	}
	if applied[0].MutationType != types.MutationCode || applied[0].Description != "test change" {
		t.Errorf("applied change = %+v", applied[0])
	}
}

func TestApply_InertSuggestionDiscarded(t *testing.T) {
	m := NewPatternMutator()
	source := "alpha beta"

	out, applied := m.Apply(source, []types.Suggestion{
		{MutationType: types.MutationCode, CurrentImplementation: "alpha", Confidence: 0.9},
		{MutationType: types.MutationCode, SuggestedImplementation: "x", Confidence: 0.9},
	})
	if out != source || len(applied) != 0 {
		t.Errorf("inert suggestions must be discarded: out=%q applied=%d", out, len(applied))
	}
}

func TestApply_Idempotent(t *testing.T) {
	m := NewPatternMutator()
	source := "func slow() { time.Sleep(time.Second) }"
	suggs := []types.Suggestion{suggestion("time.Sleep(time.Second)", "// removed blocking sleep", 0.9)}

	once, applied := m.Apply(source, suggs)
	if len(applied) != 1 {
		t.Fatalf("first application: %d changes, want 1", len(applied))
	}

	twice, applied2 := m.Apply(once, suggs)
	if twice != once {
		t.Errorf("second application changed text:\nfirst:  %q\nsecond: %q", once, twice)
	}
	if len(applied2) != 0 {
		t.Errorf("second application recorded %d changes, want 0", len(applied2))
	}
}

func TestApply_NoMatchIsSilentlyDropped(t *testing.T) {
	m := NewPatternMutator()
	source := "alpha beta"

	out, applied := m.Apply(source, []types.Suggestion{suggestion("nonexistent", "x", 0.9)})
	if out != source {
		t.Errorf("out = %q, want unchanged source", out)
	}
	if len(applied) != 0 {
		t.Errorf("no-match suggestion recorded a change")
	}
}

func TestApply_MultilineFragment(t *testing.T) {
	m := NewPatternMutator()
	source := "header\nline one\nline two\nfooter"
	current := "line one\nline two"

	out, applied := m.Apply(source, []types.Suggestion{suggestion(current, "merged line", 0.8)})
	if out != "header\nmerged line\nfooter" {
		t.Errorf("out = %q", out)
	}
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
}

func TestApply_RegexMetacharactersAreLiteral(t *testing.T) {
	m := NewPatternMutator()
	source := `result := re.FindAll(".*[a-z]+(?P<x>.*)", -1)`
	current := `".*[a-z]+(?P<x>.*)"`

	out, applied := m.Apply(source, []types.Suggestion{suggestion(current, `pattern`, 0.9)})
	if !strings.Contains(out, "re.FindAll(pattern, -1)") {
		t.Errorf("metacharacters not treated literally: %q", out)
	}
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
}

func TestApply_OrderPreservedAndCumulative(t *testing.T) {
	m := NewPatternMutator()
	source := "aaa bbb ccc"

	out, applied := m.Apply(source, []types.Suggestion{
		suggestion("aaa", "111", 0.9),
		suggestion("111 bbb", "222", 0.9), // depends on the first having applied
		suggestion("ccc", "333", 0.5),     // gated out
	})
	if out != "222 ccc" {
		t.Errorf("out = %q, want %q", out, "222 ccc")
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
}

func TestApply_FirstOccurrenceOnly(t *testing.T) {
	m := NewPatternMutator()
	source := "dup dup dup"

	out, _ := m.Apply(source, []types.Suggestion{suggestion("dup", "uniq", 0.9)})
	if out != "uniq dup dup" {
		t.Errorf("out = %q, want first occurrence replaced only", out)
	}
}
