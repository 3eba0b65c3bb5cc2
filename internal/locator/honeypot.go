package locator

import (
	"strings"

	"github.com/playwright-community/playwright-go"
)

// visibleNonHoneypot reports whether loc resolves to at least one
// element, is visible at the moment of the check (a single IsVisible call
// that does not wait for the element to appear), and does not match
// any honeypot heuristic: aria-hidden=true, tabindex=-1 combined with a
// hidden classname, width/height under 2px, or autocomplete=off combined
// with tabindex=-1.
func visibleNonHoneypot(loc playwright.Locator) bool {
	if loc == nil {
		return false
	}
	visible, err := loc.IsVisible()
	if err != nil || !visible {
		return false
	}
	return !isHoneypot(loc)
}

func isHoneypot(loc playwright.Locator) bool {
	ariaHidden, _ := loc.GetAttribute("aria-hidden")
	if ariaHidden == "true" {
		return true
	}
	tabindex, _ := loc.GetAttribute("tabindex")
	class, _ := loc.GetAttribute("class")
	if tabindex == "-1" && containsHiddenClass(class) {
		return true
	}
	autocomplete, _ := loc.GetAttribute("autocomplete")
	if autocomplete == "off" && tabindex == "-1" {
		return true
	}
	box, err := loc.BoundingBox()
	if err == nil && box != nil && (box.Width < 2 || box.Height < 2) {
		return true
	}
	return false
}

func containsHiddenClass(class string) bool {
	lower := strings.ToLower(class)
	for _, needle := range []string{"hidden", "visually-hidden", "sr-only", "offscreen"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
