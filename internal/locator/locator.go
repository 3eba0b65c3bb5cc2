// Package locator resolves a natural-language target description to a
// page element through a prioritized strategy cascade: a keyword pattern
// table, semantic role queries, placeholder/label probes, text matching,
// a generic fallback keyed on the intended action, and finally a
// vision-model fallback. Honeypot elements are filtered at every step.
package locator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ActionHint narrows the generic fallback strategy to elements that can
// serve the intended action.
type ActionHint string

const (
	HintClick ActionHint = "click"
	HintType  ActionHint = "type"
)

// ErrNotFound is returned when every strategy in the cascade fails.
var ErrNotFound = fmt.Errorf("locator: element not found")

// VisionFallback is the subset of the AI Client the locator's last-resort
// strategy needs. Satisfied by *aiclient.Client; kept as an interface here
// so this package doesn't import aiclient's SDK dependency directly.
type VisionFallback interface {
	InvokeVision(ctx context.Context, prompt string, imagePNG []byte, system string, maxTokens int64) (string, error)
}

// patternEntry pairs a target-description regex with the ordered selector
// list to try when it matches.
type patternEntry struct {
	pattern   *regexp.Regexp
	selectors []string
}

var patternTable = []patternEntry{
	{regexp.MustCompile(`(?i)search\s*(bar|box|input|field)`), []string{
		`input[type="search"]`, `input[name*="search" i]`, `input[aria-label*="search" i]`, `input[placeholder*="search" i]`,
	}},
	{regexp.MustCompile(`(?i)submit|send\s*button`), []string{
		`button[type="submit"]`, `input[type="submit"]`, `button:has-text("Submit")`,
	}},
	{regexp.MustCompile(`(?i)(user\s*name|email)\s*(input|field)?`), []string{
		`input[type="email"]`, `input[name*="email" i]`, `input[name*="user" i]`, `input[autocomplete="username"]`,
	}},
	{regexp.MustCompile(`(?i)password`), []string{
		`input[type="password"]`, `input[name*="pass" i]`,
	}},
	{regexp.MustCompile(`(?i)next|load\s*more`), []string{
		`button:has-text("Next")`, `a:has-text("Next")`, `button:has-text("Load more")`,
	}},
	{regexp.MustCompile(`(?i)first\s*(search\s*)?(result|link|item|match|profile)`), []string{
		`#search .g a`, `[data-testid="result-title-a"]`, `article a`, `li a`,
	}},
	{regexp.MustCompile(`(?i)log[\s-]?in|sign[\s-]?in`), []string{
		`button:has-text("Log in")`, `button:has-text("Sign in")`, `a:has-text("Log in")`, `a:has-text("Sign in")`,
	}},
	{regexp.MustCompile(`(?i)name\s*field`), []string{
		`input[name*="name" i]`,
	}},
	{regexp.MustCompile(`(?i)message|comment|note`), []string{
		`textarea[name*="message" i]`, `textarea[name*="comment" i]`, `textarea`,
	}},
}

var stopwords = map[string]bool{
	"from": true, "with": true, "that": true, "this": true, "into": true,
	"them": true, "first": true, "click": true, "open": true, "find": true,
	"page": true, "button": true, "input": true, "field": true, "link": true,
	"extract": true,
}

// Recorder observes how long a winning (or exhausted) strategy took, keyed
// by strategy name. *observability.Metrics satisfies this; nil is safe and
// disables recording entirely.
type Recorder interface {
	ObserveLocatorStrategy(strategy string, d time.Duration)
}

// strategyFunc is one cascade entry: try it and report whether it won.
type strategyFunc struct {
	name string
	try  func() (playwright.Locator, bool)
}

// Find runs the prioritized resolution cascade. The first strategy to
// yield a visible, non-honeypot locator wins. rec, if non-nil, observes the
// elapsed time against whichever strategy name decided the outcome.
func Find(ctx context.Context, page playwright.Page, description string, hint ActionHint, vision VisionFallback, rec Recorder) (playwright.Locator, error) {
	started := time.Now()
	loc, strategy, err := find(ctx, page, description, hint, vision)
	if rec != nil {
		rec.ObserveLocatorStrategy(strategy, time.Since(started))
	}
	return loc, err
}

func cascade(page playwright.Page, description string, hint ActionHint) []strategyFunc {
	return []strategyFunc{
		{"pattern_table", func() (playwright.Locator, bool) { return tryPatternTable(page, description) }},
		{"role_queries", func() (playwright.Locator, bool) { return tryRoleQueries(page, description, hint) }},
		{"placeholder_probes", func() (playwright.Locator, bool) { return tryPlaceholderProbes(page, description) }},
		{"quoted_text", func() (playwright.Locator, bool) { return tryQuotedText(page, description) }},
		{"longest_word_search", func() (playwright.Locator, bool) { return tryLongestWordSearch(page, description) }},
		{"generic_fallback", func() (playwright.Locator, bool) { return tryGenericFallback(page, hint) }},
	}
}

func find(ctx context.Context, page playwright.Page, description string, hint ActionHint, vision VisionFallback) (playwright.Locator, string, error) {
	for _, s := range cascade(page, description, hint) {
		if loc, ok := s.try(); ok {
			return loc, s.name, nil
		}
	}

	// Every strategy failed. Wait for networkidle (capped 5s) plus a
	// further 1.5s for late-loading widgets, optionally click a search
	// toggle icon for search-like intents, then retry the full cascade
	// from the top.
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(5000),
	})
	sleepCtx(ctx, 1500*time.Millisecond)

	if isSearchLikeIntent(description) {
		tryClickSearchToggle(page)
	}

	for _, s := range cascade(page, description, hint) {
		if loc, ok := s.try(); ok {
			return loc, s.name + "_retry", nil
		}
	}

	if vision != nil {
		if loc, ok := tryVisionFallback(ctx, page, description, vision); ok {
			return loc, "vision_fallback", nil
		}
	}

	return nil, "not_found", ErrNotFound
}

// isSearchLikeIntent reports whether description names a search-style
// target, gating the search-toggle click before the cascade retry.
func isSearchLikeIntent(description string) bool {
	lower := strings.ToLower(description)
	return strings.Contains(lower, "search") || strings.Contains(lower, "find")
}

// searchToggleSelectors are common markup patterns for a collapsed search
// icon that expands into a search box once clicked. Best-effort
// heuristics; sites vary widely here.
var searchToggleSelectors = []string{
	`[aria-label*="search" i][role="button"]`,
	`button[aria-label*="search" i]`,
	`a[aria-label*="search" i]`,
	`.search-toggle`,
	`.search-icon`,
	`#search-icon`,
	`button:has(svg[class*="search" i])`,
}

// tryClickSearchToggle clicks the first visible search-toggle icon it
// finds, if any, so a collapsed search box can expand before the cascade
// retries. Best-effort: errors and no-matches are silently ignored.
func tryClickSearchToggle(page playwright.Page) {
	for _, sel := range searchToggleSelectors {
		loc := page.Locator(sel).First()
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(1000)}); err == nil {
			return
		}
	}
}

// sleepCtx blocks for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func tryPatternTable(page playwright.Page, description string) (playwright.Locator, bool) {
	for _, entry := range patternTable {
		if !entry.pattern.MatchString(description) {
			continue
		}
		for _, sel := range entry.selectors {
			loc := page.Locator(sel).First()
			if visibleNonHoneypot(loc) {
				return loc, true
			}
		}
	}
	return nil, false
}

func tryRoleQueries(page playwright.Page, description string, hint ActionHint) (playwright.Locator, bool) {
	lower := strings.ToLower(description)
	if hint == HintType || strings.Contains(lower, "search") || strings.Contains(lower, "input") {
		loc := page.GetByRole("searchbox")
		if visibleNonHoneypot(loc) {
			return loc, true
		}
		loc = page.GetByRole("textbox")
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	}
	if hint == HintClick || strings.Contains(lower, "button") || strings.Contains(lower, "click") {
		loc := page.GetByRole("button")
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	}
	return nil, false
}

func tryPlaceholderProbes(page playwright.Page, description string) (playwright.Locator, bool) {
	for _, word := range []string{"search", "find", "query", "email", "name", "message"} {
		if !strings.Contains(strings.ToLower(description), word) {
			continue
		}
		loc := page.GetByPlaceholder(word)
		if visibleNonHoneypot(loc) {
			return loc, true
		}
		loc = page.GetByLabel(word)
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	}
	return nil, false
}

var quotedText = regexp.MustCompile(`"([^"]+)"`)

func tryQuotedText(page playwright.Page, description string) (playwright.Locator, bool) {
	m := quotedText.FindStringSubmatch(description)
	if m == nil {
		return nil, false
	}
	loc := page.GetByText(m[1])
	if visibleNonHoneypot(loc) {
		return loc, true
	}
	return nil, false
}

func tryLongestWordSearch(page playwright.Page, description string) (playwright.Locator, bool) {
	words := meaningfulWords(description)
	if len(words) == 0 {
		return nil, false
	}
	for i, w := range words {
		if i >= 3 {
			break
		}
		loc := page.GetByText(w)
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	}
	return nil, false
}

// meaningfulWords extracts words longer than 3 characters, excluding a
// small stopword set, sorted longest-first.
func meaningfulWords(description string) []string {
	fields := strings.Fields(description)
	var out []string
	for _, f := range fields {
		w := strings.Trim(strings.ToLower(f), `"'.,!?`)
		if len(w) > 3 && !stopwords[w] {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func tryGenericFallback(page playwright.Page, hint ActionHint) (playwright.Locator, bool) {
	switch hint {
	case HintType:
		loc := page.Locator(`input:visible, textarea:visible, select:visible, [contenteditable]:visible`).First()
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	case HintClick:
		loc := page.Locator(`a:visible, button:visible, [role="button"]:visible`).First()
		if visibleNonHoneypot(loc) {
			return loc, true
		}
	}
	return nil, false
}
