// Package stepexec executes individual workflow steps with a three-tier
// backend priority: a real browser session for every action when one is
// available, the AI client for extract/conditional when it isn't, and a
// deterministic simulation backend for everything else.
package stepexec

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/oakfield/runengine/internal/browser"
	"github.com/oakfield/runengine/internal/extractor"
	"github.com/oakfield/runengine/internal/locator"
	"github.com/oakfield/runengine/internal/workflow"
)

// AI is the subset of the AI Client the extract/conditional backend tier
// and self-heal need.
type AI interface {
	InvokeText(ctx context.Context, prompt, system string, maxTokens int64) (string, error)
	InvokeVision(ctx context.Context, prompt string, imagePNG []byte, system string, maxTokens int64) (string, error)
}

// Result is a completed step's outcome: the result_data payload plus a
// best-effort JPEG screenshot.
type Result struct {
	Data       map[string]any
	Screenshot []byte
}

// Clock abstracts time for the wait action, mirroring the injectable-clock
// pattern used in internal/aiclient. The simulate backend does not sleep.
type Clock struct {
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func realClock() Clock {
	return Clock{
		Now: time.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Executor runs steps against an optional browser session and an optional
// AI client.
type Executor struct {
	Session *browser.Session
	AI      AI
	Clock   Clock
	Locator locator.Recorder // nil => no locator-strategy latency recorded
	rng     rng
}

// NewExecutor builds an Executor. session and ai may be nil; the executor
// falls back to simulation when both are unavailable for a given action.
func NewExecutor(session *browser.Session, ai AI) *Executor {
	return &Executor{Session: session, AI: ai, Clock: realClock(), rng: newRNG(1)}
}

// WithLocatorRecorder sets the executor's locator-strategy latency
// recorder, returning e for chaining.
func (e *Executor) WithLocatorRecorder(rec locator.Recorder) *Executor {
	e.Locator = rec
	return e
}

// Execute dispatches a single step by backend priority: (1) the browser
// session for every action if available, (2) the AI client for extract and
// conditional only, (3) deterministic simulation for any action.
func (e *Executor) Execute(ctx context.Context, step *workflow.Step, prevResult map[string]any) (Result, error) {
	var (
		data map[string]any
		err  error
	)

	simulated := false
	switch {
	case e.Session != nil:
		data, err = e.executeBrowser(ctx, step, prevResult)
	case e.AI != nil && (step.Action == workflow.ActionExtract || step.Action == workflow.ActionConditional):
		data, err = e.executeAI(ctx, step, prevResult)
		if err != nil {
			data, err = e.simulate(step)
			simulated = true
		}
	default:
		data, err = e.simulate(step)
		simulated = true
	}
	if err != nil {
		return Result{}, err
	}

	if simulated {
		data["simulated"] = true
	} else if e.Session != nil {
		data["live"] = true
	}

	result := Result{Data: data}
	if e.Session != nil {
		if shot, shotErr := e.captureScreenshot(); shotErr == nil {
			result.Screenshot = shot
		}
	}
	return result, nil
}

func (e *Executor) executeBrowser(ctx context.Context, step *workflow.Step, prevResult map[string]any) (map[string]any, error) {
	page := e.Session.Page
	switch step.Action {
	case workflow.ActionNavigate:
		return e.browserNavigate(step)
	case workflow.ActionClick:
		return e.browserClick(ctx, page, step)
	case workflow.ActionType:
		return e.browserType(ctx, page, step)
	case workflow.ActionExtract:
		return e.browserExtract(ctx, page, step)
	case workflow.ActionWait:
		return e.browserWait(ctx, page, step)
	case workflow.ActionConditional:
		return e.browserConditional(ctx, step, prevResult)
	default:
		return nil, fmt.Errorf("stepexec: unknown action %q", step.Action)
	}
}

func (e *Executor) browserNavigate(step *workflow.Step) (map[string]any, error) {
	res, err := browser.Navigate(e.Session, step.Target, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("stepexec: navigate: %w", err)
	}
	out := map[string]any{
		"url":          res.URL,
		"status_code":  res.StatusCode,
		"page_title":   res.PageTitle,
		"load_time_ms": res.LoadTimeMS,
		"dom_ready":    res.DOMReady,
		"live":         res.Live,
	}
	if res.Fallback {
		out["fallback"] = true
		out["original_url"] = res.OriginalURL
		out["fallback_reason"] = res.FallbackDesc
	}
	return out, nil
}

func (e *Executor) browserClick(ctx context.Context, page playwright.Page, step *workflow.Step) (map[string]any, error) {
	loc, err := locator.Find(ctx, page, step.Target, locator.HintClick, e.AI, e.Locator)
	if err != nil {
		return nil, locateErr(KindElementNotFound, fmt.Errorf("stepexec: click: %w", err))
	}
	if enabled, err := loc.IsEnabled(); err == nil && !enabled {
		return nil, locateErr(KindElementDisabled, fmt.Errorf("stepexec: click: target %q is disabled", step.Target))
	}
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		return nil, locateErr(KindElementObscured, fmt.Errorf("stepexec: click: %w", err))
	}
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(10000)}); err != nil {
		if isStaleElementErr(err) {
			return nil, locateErr(KindStaleElement, fmt.Errorf("stepexec: click: %w", err))
		}
		return nil, fmt.Errorf("stepexec: click: %w", err)
	}
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateDomcontentloaded})

	result := map[string]any{
		"element": step.Target,
		"clicked": true,
	}
	if browser.IsBlocked(page) {
		_, _ = page.GoBack()
		result["bot_block_recovered"] = true
	}
	return result, nil
}

func (e *Executor) browserType(ctx context.Context, page playwright.Page, step *workflow.Step) (map[string]any, error) {
	loc, err := locator.Find(ctx, page, step.Target, locator.HintType, e.AI, e.Locator)
	if err != nil {
		return nil, locateErr(KindElementNotFound, fmt.Errorf("stepexec: type: %w", err))
	}
	if enabled, err := loc.IsEnabled(); err == nil && !enabled {
		return nil, locateErr(KindElementDisabled, fmt.Errorf("stepexec: type: target %q is disabled", step.Target))
	}
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(10000)}); err != nil {
		if isStaleElementErr(err) {
			return nil, locateErr(KindStaleElement, fmt.Errorf("stepexec: type: %w", err))
		}
		return nil, fmt.Errorf("stepexec: type: %w", err)
	}
	if err := loc.Fill(step.Value); err != nil {
		if isStaleElementErr(err) {
			return nil, locateErr(KindStaleElement, fmt.Errorf("stepexec: type: %w", err))
		}
		return nil, fmt.Errorf("stepexec: type: %w", err)
	}

	result := map[string]any{
		"element":      step.Target,
		"text_entered": step.Value,
		"characters":   len(step.Value),
	}

	if isSearchIntent(step.Description, step.Target) {
		if err := loc.Press("Enter"); err == nil {
			_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateDomcontentloaded})
			if browser.IsBlocked(page) {
				fallback := "https://duckduckgo.com/?q=" + url.QueryEscape(step.Value)
				if _, err := page.Goto(fallback); err == nil {
					result["bot_block_fallback"] = fallback
				}
			}
		}
	}
	return result, nil
}

func (e *Executor) browserExtract(ctx context.Context, page playwright.Page, step *workflow.Step) (map[string]any, error) {
	data, err := extractor.Extract(ctx, page, step.Target, e.AI)
	if err != nil {
		return nil, fmt.Errorf("stepexec: extract: %w", err)
	}
	data["source_url"] = page.URL()
	data["live"] = true
	return data, nil
}

func (e *Executor) browserWait(ctx context.Context, page playwright.Page, step *workflow.Step) (map[string]any, error) {
	seconds, err := strconv.ParseFloat(valueOr(step.Value, "2"), 64)
	if err != nil {
		seconds = 2
	}
	if err := e.Clock.Sleep(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return nil, err
	}
	ready := true
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(3000),
	}); err != nil {
		ready = false
	}
	return map[string]any{
		"waited_ms":   int(seconds * 1000),
		"page_ready":  ready,
		"current_url": page.URL(),
	}, nil
}

func (e *Executor) browserConditional(ctx context.Context, step *workflow.Step, prevResult map[string]any) (map[string]any, error) {
	if e.AI != nil {
		if data, err := e.aiConditional(ctx, step, prevResult); err == nil {
			return data, nil
		}
	}
	return evaluateConditionRules(step, prevResult), nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
