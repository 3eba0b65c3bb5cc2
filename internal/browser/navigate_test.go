package browser

import "testing"

func TestFallbackURLForGoogleSearch(t *testing.T) {
	got, ok := fallbackURLFor("https://www.google.com/search?q=foo+bar")
	if !ok {
		t.Fatal("expected fallback for google search host")
	}
	want := "https://duckduckgo.com/?q=foo+bar"
	if got != want {
		t.Errorf("fallbackURLFor() = %q, want %q", got, want)
	}
}

func TestFallbackURLForNonGoogleHost(t *testing.T) {
	_, ok := fallbackURLFor("https://example.com/search?q=foo")
	if ok {
		t.Fatal("expected no fallback for non-google host")
	}
}

func TestFallbackURLForMissingQuery(t *testing.T) {
	_, ok := fallbackURLFor("https://www.google.com/")
	if ok {
		t.Fatal("expected no fallback without a q param")
	}
}

func TestEnsureSchemeAddsHTTPS(t *testing.T) {
	if got := ensureScheme("example.com"); got != "https://example.com" {
		t.Errorf("ensureScheme() = %q", got)
	}
	if got := ensureScheme("http://example.com"); got != "http://example.com" {
		t.Errorf("ensureScheme() changed an already-schemed URL: %q", got)
	}
}
