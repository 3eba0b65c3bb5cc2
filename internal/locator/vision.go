package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

const visionSystemPrompt = `You locate a single DOM element on a screenshot from its CSS selector among
the visible interactive elements listed. Respond with strict JSON:
{"selector": "<css selector>"}. Use only selectors from the provided list.`

// tryVisionFallback is the cascade's last resort: screenshot the page,
// collect up to 30 visible interactive elements, and ask the vision
// model for a CSS selector satisfying the target description.
func tryVisionFallback(ctx context.Context, page playwright.Page, description string, vision VisionFallback) (playwright.Locator, bool) {
	shot, err := page.Screenshot(playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng})
	if err != nil {
		return nil, false
	}
	candidates, err := collectInteractiveElements(page)
	if err != nil || len(candidates) == 0 {
		return nil, false
	}

	prompt := fmt.Sprintf(
		"Target: %s\n\nVisible interactive elements (CSS selector, tag, text):\n%s",
		description, strings.Join(candidates, "\n"),
	)
	raw, err := vision.InvokeVision(ctx, prompt, shot, visionSystemPrompt, 512)
	if err != nil {
		return nil, false
	}

	selector, ok := parseSelectorResponse(raw)
	if !ok {
		return nil, false
	}
	loc := page.Locator(selector).First()
	if visibleNonHoneypot(loc) {
		return loc, true
	}
	return nil, false
}

// collectInteractiveElements harvests up to 30 visible interactive
// elements' CSS selector/tag/text metadata for the vision prompt.
func collectInteractiveElements(page playwright.Page) ([]string, error) {
	raw, err := page.Evaluate(`() => {
		const els = Array.from(document.querySelectorAll('a, button, input, textarea, select, [role="button"], [contenteditable]'));
		return els.filter(e => e.offsetParent !== null).slice(0, 30).map((e, i) => {
			const tag = e.tagName.toLowerCase();
			const id = e.id ? '#' + e.id : '';
			const text = (e.innerText || e.value || e.getAttribute('aria-label') || '').slice(0, 40);
			return (id || tag + ':nth-of-type(' + (i + 1) + ')') + ' | ' + tag + ' | ' + text;
		});
	}`)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("locator: unexpected evaluate result type")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type visionSelectorResponse struct {
	Selector string `json:"selector"`
}

func parseSelectorResponse(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var resp visionSelectorResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return "", false
	}
	if resp.Selector == "" {
		return "", false
	}
	return resp.Selector, true
}
