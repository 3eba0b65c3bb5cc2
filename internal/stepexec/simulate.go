package stepexec

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/oakfield/runengine/internal/workflow"
)

// rng is the simulate backend's source of randomness, wrapped so tests can
// inject a seeded generator for deterministic fixture selection.
type rng struct{ r *rand.Rand }

func newRNG(seed int64) rng { return rng{r: rand.New(rand.NewSource(seed))} }

func (g rng) float(lo, hi float64) float64 { return lo + g.r.Float64()*(hi-lo) }
func (g rng) intn(n int) int               { return g.r.Intn(n) }
func (g rng) chance(p float64) bool        { return g.r.Float64() < p }
func (g rng) choice(options []string) string {
	return options[g.r.Intn(len(options))]
}

// simulateFailChance is the per-action synthetic-failure injection rate.
var simulateFailChance = map[workflow.Action]float64{
	workflow.ActionExtract: 0.08,
	workflow.ActionClick:   0.04,
}

var simulateErrors = map[workflow.Action][]string{
	workflow.ActionExtract: {
		"ElementNotFound: Content container '.results-grid' not visible after 10s timeout",
		"TimeoutError: Dynamic content failed to load - network request to /api/data stalled",
		"AccessDenied: Page returned 403 - authentication cookie expired",
		"ParseError: Unexpected page structure - expected table but found card layout",
	},
	workflow.ActionClick: {
		"ElementObscured: Modal overlay blocking target button at coordinates (412, 680)",
		"ElementDisabled: Button 'Submit' has disabled attribute - prerequisite form fields empty",
		"StaleElement: DOM element moved during page re-render - retry recommended",
	},
}

// pageTitles is the small domain-to-title lookup the simulate navigate
// fixture draws from.
var pageTitles = map[string]string{
	"google.com":      "Google Search",
	"amazon.com":      "Amazon.com: Online Shopping",
	"twitter.com":     "X (formerly Twitter)",
	"linkedin.com":    "LinkedIn: Log In or Sign Up",
	"reddit.com":      "Reddit - Dive into anything",
	"news.google.com": "Google News - Top Stories",
	"mail.google.com": "Gmail - Inbox",
	"ebay.com":        "Electronics, Cars, Fashion | eBay",
	"techcrunch.com":  "TechCrunch - Startup and Technology News",
	"instagram.com":   "Instagram",
}

// simulate is backend tier (3): a deterministic-in-shape, randomized-in-
// value fixture generator used when neither a browser session nor the AI
// client is available for the action.
func (e *Executor) simulate(step *workflow.Step) (map[string]any, error) {
	if fail := simulateFailChance[step.Action]; fail > 0 && e.rng.chance(fail) {
		errs, ok := simulateErrors[step.Action]
		if !ok {
			errs = []string{"UnknownError: Step execution failed"}
		}
		return nil, classifySimulatedError(e.rng.choice(errs))
	}

	switch step.Action {
	case workflow.ActionNavigate:
		return e.simulateNavigate(step), nil
	case workflow.ActionClick:
		return e.simulateClick(step), nil
	case workflow.ActionType:
		return e.simulateType(step), nil
	case workflow.ActionExtract:
		return simulateExtract(step), nil
	case workflow.ActionWait:
		return simulateWait(step), nil
	case workflow.ActionConditional:
		return e.simulateConditional(step), nil
	default:
		return map[string]any{"status": "completed", "action": string(step.Action)}, nil
	}
}

func (e *Executor) simulateNavigate(step *workflow.Step) map[string]any {
	target := step.Target
	if target == "" {
		target = "https://example.com"
	}
	domain := domainOf(target)
	title, ok := pageTitles[domain]
	if !ok {
		title = capitalize(strings.Split(domain, ".")[0]) + " - Homepage"
	}
	return map[string]any{
		"url":            target,
		"status_code":    200,
		"page_title":     title,
		"load_time_ms":   e.rng.float(180, 2200),
		"dom_ready":      true,
		"scripts_loaded": e.rng.intn(28) + 8,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func domainOf(target string) string {
	d := target
	if i := strings.Index(d, "//"); i >= 0 {
		d = d[i+2:]
	}
	if i := strings.Index(d, "/"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

func (e *Executor) simulateClick(step *workflow.Step) map[string]any {
	target := step.Target
	if target == "" {
		target = "button"
	}
	triggered := strings.Contains(strings.ToLower(target), "http") || strings.Contains(strings.ToLower(target), "next")
	return map[string]any{
		"element":              target,
		"tag":                  e.rng.choice([]string{"button", "a", "div", "input"}),
		"clicked":              true,
		"coordinates":          map[string]any{"x": e.rng.intn(1100) + 100, "y": e.rng.intn(620) + 80},
		"triggered_navigation": triggered,
		"response_time_ms":     e.rng.float(45, 380),
	}
}

func (e *Executor) simulateType(step *workflow.Step) map[string]any {
	return map[string]any{
		"element":                valueOr(step.Target, "input"),
		"text_entered":           step.Value,
		"characters":             len(step.Value),
		"field_cleared_first":    true,
		"autocomplete_triggered": e.rng.chance(0.5),
		"field_valid":            true,
	}
}

func simulateExtract(step *workflow.Step) map[string]any {
	return map[string]any{
		"page_title":      "Simulated Page",
		"source":          domainOf(valueOr(step.Target, "example.com")),
		"sections":        []map[string]any{},
		"items_extracted": 0,
		"simulated":       true,
	}
}

func simulateWait(step *workflow.Step) map[string]any {
	seconds, err := strconv.ParseFloat(valueOr(step.Value, "2"), 64)
	if err != nil {
		seconds = 2
	}
	return map[string]any{
		"waited_ms":              int(seconds * 1000),
		"page_ready":             true,
		"dynamic_content_loaded": true,
		"network_idle":           true,
	}
}

func (e *Executor) simulateConditional(step *workflow.Step) map[string]any {
	result := e.rng.choice([]string{"true", "true", "false"}) == "true"
	branch := "continue"
	if !result {
		branch = "skip_next"
	}
	return map[string]any{
		"expression":   conditionOf(step),
		"evaluated_to": result,
		"branch_taken": branch,
		"context": map[string]any{
			"variables_checked":  e.rng.intn(4) + 1,
			"evaluation_time_ms": e.rng.float(5, 50),
		},
	}
}

// isSearchIntent reports whether a type step's target/description implies
// a search box, gating the Enter-then-navigate-then-bot-block-check path.
func isSearchIntent(description, target string) bool {
	for _, s := range []string{description, target} {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "search") {
			return true
		}
	}
	return false
}
