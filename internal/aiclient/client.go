// Package aiclient is a throttle/retry wrapper over a remote text +
// vision model, used by the element locator's vision fallback, the page
// extractor's AI-JSON path, step self-heal, and the conditional step's
// AI evaluation path.
package aiclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrThrottled is returned while the process-wide throttle gate is open.
// Callers treat it as "AI unavailable" and fall back to their non-AI
// path.
var ErrThrottled = errors.New("aiclient: throttled")

const temperature = 0.3

// Config configures a Client: one text model, one vision-capable model,
// and the throttle/retry knobs.
type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string

	// MaxRetries is how many extra attempts the retry wrapper makes.
	MaxRetries int
	// ThrottleWindow is the backoff window a provider throttle extends
	// the gate by (default 10s).
	ThrottleWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.TextModel == "" {
		c.TextModel = "claude-sonnet-4-20250514"
	}
	if c.VisionModel == "" {
		c.VisionModel = c.TextModel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = 10 * time.Second
	}
	return c
}

// Client wraps the Anthropic SDK with a process-wide throttle gate and a
// linear-backoff retry wrapper. Callers construct one only when
// Config.APIKey is non-empty (internal/config.AIConfig) and otherwise run
// without an AI client at all.
type Client struct {
	cfg    Config
	client anthropic.Client

	mu            sync.Mutex
	throttleUntil time.Time
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
}

func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// New constructs a Client. Returns an error only if APIKey is empty —
// callers that want to run without AI entirely should skip calling New,
// not call it with an empty key.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("aiclient: API key is required")
	}
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
		now:    time.Now,
		sleep:  realSleep,
	}, nil
}

// IsThrottled reports whether the process-wide gate is currently closed.
func (c *Client) IsThrottled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.throttleUntil)
}

func (c *Client) openThrottle() {
	c.mu.Lock()
	c.throttleUntil = c.now().Add(c.cfg.ThrottleWindow)
	c.mu.Unlock()
}

func (c *Client) clearThrottle() {
	c.mu.Lock()
	c.throttleUntil = time.Time{}
	c.mu.Unlock()
}

// InvokeText sends a text prompt with an optional system prompt and
// returns the model's text response.
func (c *Client) InvokeText(ctx context.Context, prompt, system string, maxTokens int64) (string, error) {
	return c.withRetry(ctx, func(ctx context.Context) (string, error) {
		return c.invokeText(ctx, prompt, system, maxTokens)
	})
}

// InvokeVision sends a prompt plus a PNG image and returns the model's
// text response (used by the locator's vision fallback).
func (c *Client) InvokeVision(ctx context.Context, prompt string, imagePNG []byte, system string, maxTokens int64) (string, error) {
	return c.withRetry(ctx, func(ctx context.Context) (string, error) {
		return c.invokeVision(ctx, prompt, imagePNG, system, maxTokens)
	})
}

func (c *Client) invokeText(ctx context.Context, prompt, system string, maxTokens int64) (string, error) {
	if c.IsThrottled() {
		return "", ErrThrottled
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.TextModel),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if isThrottlingError(err) {
			c.openThrottle()
			return "", ErrThrottled
		}
		return "", fmt.Errorf("aiclient: invoke text: %w", err)
	}
	return textOf(msg), nil
}

func (c *Client) invokeVision(ctx context.Context, prompt string, imagePNG []byte, system string, maxTokens int64) (string, error) {
	if c.IsThrottled() {
		return "", ErrThrottled
	}
	imageBlock := anthropic.NewImageBlockBase64("image/png", encodeBase64(imagePNG))
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.VisionModel),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(imageBlock, anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if isThrottlingError(err) {
			c.openThrottle()
			return "", ErrThrottled
		}
		return "", fmt.Errorf("aiclient: invoke vision: %w", err)
	}
	return textOf(msg), nil
}

// withRetry makes up to MaxRetries extra attempts (so MaxRetries+1
// total), waiting 5s*(attempt+1) between attempts and clearing the
// throttle gate before each retry.
func (c *Client) withRetry(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, ErrThrottled) {
			return "", err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		wait := time.Duration(5*(attempt+1)) * time.Second
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
		c.clearThrottle()
	}
	return "", lastErr
}
