package browser

import (
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// blockSignals are page-body phrases signalling a CAPTCHA or bot-block
// interstitial. Each is a single substring; two-substring conditions live
// in compoundBlockSignals below.
var blockSignals = []string{
	"unusual traffic",
	"are not a robot",
	"i'm not a robot",
	"captcha",
	"recaptcha",
	"sorry, you have been blocked",
}

// compoundBlockSignals are conditions where both substrings must appear.
// "blocked" alone is too broad on ordinary page text, so it only counts
// alongside "your request"; likewise "please verify" with "human".
var compoundBlockSignals = [][2]string{
	{"blocked", "your request"},
	{"please verify", "human"},
}

// NavigateResult is the navigate action's result record.
type NavigateResult struct {
	URL          string
	StatusCode   int
	PageTitle    string
	LoadTimeMS   int64
	DOMReady     bool
	Live         bool
	Fallback     bool
	OriginalURL  string
	FallbackDesc string
}

// Navigate loads url on the session's page, waiting for DOM-ready then
// best-effort networkidle, and falls back to an equivalent DuckDuckGo
// search if the loaded page looks bot-blocked and the original host was a
// Google search host.
func Navigate(s *Session, rawURL string, timeout time.Duration) (NavigateResult, error) {
	target := ensureScheme(rawURL)
	start := time.Now()

	resp, err := s.Page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return NavigateResult{}, err
	}
	_ = s.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(10000),
	})

	result := NavigateResult{
		URL:        s.Page.URL(),
		StatusCode: statusOf(resp),
		PageTitle:  titleOf(s.Page),
		LoadTimeMS: time.Since(start).Milliseconds(),
		DOMReady:   true,
		Live:       true,
	}

	if IsBlocked(s.Page) {
		if fallbackURL, ok := fallbackURLFor(target); ok {
			result.OriginalURL = target
			if _, err := s.Page.Goto(fallbackURL, playwright.PageGotoOptions{
				WaitUntil: playwright.WaitUntilStateDomcontentloaded,
				Timeout:   playwright.Float(float64(timeout.Milliseconds())),
			}); err == nil {
				_ = s.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
					State:   playwright.LoadStateNetworkidle,
					Timeout: playwright.Float(10000),
				})
				result.URL = s.Page.URL()
				result.PageTitle = titleOf(s.Page)
				result.Fallback = true
				result.FallbackDesc = "google_bot_block"
			}
		}
	}

	return result, nil
}

func ensureScheme(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

func statusOf(resp playwright.Response) int {
	if resp == nil {
		return 0
	}
	return resp.Status()
}

func titleOf(page playwright.Page) string {
	t, err := page.Title()
	if err != nil {
		return ""
	}
	return t
}

// IsBlocked checks the first 2000 characters of the page body for a
// CAPTCHA/bot-block signal phrase.
func IsBlocked(page playwright.Page) bool {
	text, err := page.Evaluate(`() => document.body ? document.body.innerText.substring(0, 2000) : ""`)
	if err != nil {
		return false
	}
	s, ok := text.(string)
	if !ok {
		return false
	}
	s = strings.ToLower(s)
	for _, sig := range blockSignals {
		if strings.Contains(s, sig) {
			return true
		}
	}
	for _, pair := range compoundBlockSignals {
		if strings.Contains(s, pair[0]) && strings.Contains(s, pair[1]) {
			return true
		}
	}
	return false
}

// fallbackURLFor returns a DuckDuckGo search URL preserving the "q" query
// parameter, when rawURL is a Google search host.
func fallbackURLFor(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "google.com" && !strings.HasPrefix(host, "www.google.") && !strings.HasPrefix(host, "google.") {
		return "", false
	}
	q := u.Query().Get("q")
	if q == "" {
		return "", false
	}
	return "https://duckduckgo.com/?q=" + url.QueryEscape(q), true
}
