package workflow

import "testing"

func TestInterpolateSubstitutesKnownVariable(t *testing.T) {
	vars := map[string]Variable{"query": {Value: "widget"}}
	got := Interpolate("search for {{query}} now", vars)
	want := "search for widget now"
	if got != want {
		t.Errorf("Interpolate() = %q, want %q", got, want)
	}
}

func TestInterpolateLeavesUnknownPlaceholder(t *testing.T) {
	vars := map[string]Variable{"query": {Value: "widget"}}
	got := Interpolate("search for {{missing}}", vars)
	want := "search for {{missing}}"
	if got != want {
		t.Errorf("Interpolate() = %q, want %q", got, want)
	}
}

func TestInterpolateStepAllFields(t *testing.T) {
	vars := map[string]Variable{"site": {Value: "example.com"}, "n": {Value: "5"}}
	d := StepDefinition{
		Target:      "https://{{site}}",
		Value:       "{{n}}",
		Description: "navigate to {{site}}",
		Condition:   "{{n}} > 10",
	}
	got := InterpolateStep(d, vars)
	if got.Target != "https://example.com" {
		t.Errorf("Target = %q", got.Target)
	}
	if got.Value != "5" {
		t.Errorf("Value = %q", got.Value)
	}
	if got.Condition != "5 > 10" {
		t.Errorf("Condition = %q", got.Condition)
	}
}

func TestInterpolateNoPlaceholdersNoAlloc(t *testing.T) {
	s := "plain text"
	if got := Interpolate(s, nil); got != s {
		t.Errorf("Interpolate() = %q, want unchanged %q", got, s)
	}
}
