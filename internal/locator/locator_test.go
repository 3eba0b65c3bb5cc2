package locator

import "testing"

func TestMeaningfulWordsFiltersStopwordsAndShortWords(t *testing.T) {
	got := meaningfulWords(`Click "Submit" on the registration form`)
	want := map[string]bool{"submit": true, "registration": true}
	if len(got) != len(want) {
		t.Fatalf("meaningfulWords() = %v, want keys %v", got, want)
	}
	for _, w := range got {
		if !want[w] {
			t.Errorf("unexpected word %q in result", w)
		}
	}
}

func TestMeaningfulWordsSortedLongestFirst(t *testing.T) {
	got := meaningfulWords("registration email confirmation")
	if len(got) < 2 {
		t.Fatalf("expected at least 2 words, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if len(got[i-1]) < len(got[i]) {
			t.Errorf("words not sorted longest-first: %v", got)
		}
	}
}

func TestPatternTableMatchesSearchBar(t *testing.T) {
	found := false
	for _, e := range patternTable {
		if e.pattern.MatchString("the search bar at the top") {
			found = true
		}
	}
	if !found {
		t.Error("expected a pattern entry to match 'the search bar at the top'")
	}
}

func TestContainsHiddenClassCaseInsensitive(t *testing.T) {
	if !containsHiddenClass("foo Visually-Hidden bar") {
		t.Error("expected case-insensitive match on visually-hidden")
	}
	if containsHiddenClass("primary-button") {
		t.Error("unexpected match on unrelated class name")
	}
}

func TestParseSelectorResponseStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"selector\": \"#submit-btn\"}\n```"
	got, ok := parseSelectorResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "#submit-btn" {
		t.Errorf("parseSelectorResponse() = %q", got)
	}
}

func TestParseSelectorResponseRejectsInvalidJSON(t *testing.T) {
	if _, ok := parseSelectorResponse("not json"); ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

func TestParseSelectorResponseRejectsEmptySelector(t *testing.T) {
	if _, ok := parseSelectorResponse(`{"selector": ""}`); ok {
		t.Error("expected ok=false for empty selector")
	}
}
