// Package browser provides a pool of isolated headless browsing contexts
// with anti-fingerprinting shims, and navigation with a CAPTCHA/bot-block
// fallback to DuckDuckGo.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrUnavailable is returned when a Session cannot be created. The run
// engine treats it as non-fatal: the run continues in simulation mode
// rather than failing.
var ErrUnavailable = fmt.Errorf("browser: unavailable")

// Session owns one isolated BrowserContext and its single Page.
type Session struct {
	ID      string
	Context playwright.BrowserContext
	Page    playwright.Page
}

// Config configures the Pool.
type Config struct {
	MaxInstances   int
	NavTimeout     time.Duration
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	RemoteURL      string
}

func (c Config) withDefaults() Config {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 5
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 720
	}
	return c
}

// Pool manages a bounded set of isolated Sessions backed by one shared
// Chromium browser process.
type Pool struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser

	mu      sync.Mutex
	closed  bool
	created int
	uaIndex int
}

// NewPool installs/launches Playwright Chromium and returns a Pool ready
// to hand out Sessions.
func NewPool(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: start playwright: %v", ErrUnavailable, err)
	}

	var b playwright.Browser
	launchArgs := []string{
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-blink-features=AutomationControlled",
	}
	if cfg.RemoteURL != "" {
		b, err = pw.Chromium.Connect(cfg.RemoteURL)
	} else {
		b, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
			Args:     launchArgs,
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("%w: launch chromium: %v", ErrUnavailable, err)
	}

	return &Pool{cfg: cfg, pw: pw, browser: b}, nil
}

// Acquire creates a fresh isolated Session. Each Run gets its own
// Session for its full lifetime and closes it on the Run's terminal
// transition, so Acquire always creates rather than recycling; the
// pool's job is bounding concurrent instance count, not reuse.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	if p.created >= p.cfg.MaxInstances {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool at capacity (%d)", ErrUnavailable, p.cfg.MaxInstances)
	}
	p.created++
	ua := nextUserAgent(p.uaIndex)
	p.uaIndex++
	p.mu.Unlock()

	bctx, err := p.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(ua),
		Viewport:          &playwright.Size{Width: p.cfg.ViewportWidth, Height: p.cfg.ViewportHeight},
		Locale:            playwright.String("en-US"),
		TimezoneId:        playwright.String("America/New_York"),
		IgnoreHttpsErrors: playwright.Bool(true),
		ExtraHttpHeaders:  extraHeaders(),
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("%w: new context: %v", ErrUnavailable, err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		p.release()
		return nil, fmt.Errorf("%w: new page: %v", ErrUnavailable, err)
	}
	page.SetDefaultTimeout(float64(p.cfg.NavTimeout.Milliseconds()))
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(antiFingerprintScript)}); err != nil {
		_ = bctx.Close()
		p.release()
		return nil, fmt.Errorf("%w: add init script: %v", ErrUnavailable, err)
	}

	return &Session{ID: newSessionID(), Context: bctx, Page: page}, nil
}

// Release closes the session's context, freeing its pool slot. Must be
// called exactly once per Session.
func (p *Pool) Release(s *Session) error {
	if s == nil {
		return nil
	}
	err := s.Context.Close()
	p.release()
	return err
}

func (p *Pool) release() {
	p.mu.Lock()
	if p.created > 0 {
		p.created--
	}
	p.mu.Unlock()
}

// Close shuts down the pool's shared browser process. Call once at
// process shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

func nextUserAgent(i int) string {
	return userAgents[i%len(userAgents)]
}

func extraHeaders() map[string]string {
	return map[string]string{
		"Accept-Language":    "en-US,en;q=0.9",
		"Sec-CH-UA":          `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		"Sec-CH-UA-Mobile":   "?0",
		"Sec-CH-UA-Platform": `"Linux"`,
	}
}

var sessionCounter struct {
	mu sync.Mutex
	n  int
}

func newSessionID() string {
	sessionCounter.mu.Lock()
	defer sessionCounter.mu.Unlock()
	sessionCounter.n++
	return fmt.Sprintf("sess-%d-%d", time.Now().UnixNano(), sessionCounter.n)
}
