package aiclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClient exercises the throttle/retry state machine without making a
// network call, by driving the same withRetry/IsThrottled/openThrottle
// machinery a *Client would.
func newFakeClient(now *time.Time) *Client {
	c := &Client{
		cfg:   Config{MaxRetries: 2, ThrottleWindow: 10 * time.Second},
		now:   func() time.Time { return *now },
		sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}
	return c
}

func TestIsThrottledBeforeAndAfterWindow(t *testing.T) {
	now := time.Now()
	c := newFakeClient(&now)
	if c.IsThrottled() {
		t.Fatal("new client should not be throttled")
	}
	c.openThrottle()
	if !c.IsThrottled() {
		t.Fatal("expected throttled immediately after openThrottle")
	}
	now = now.Add(11 * time.Second)
	if c.IsThrottled() {
		t.Fatal("expected gate to close after ThrottleWindow elapses")
	}
}

func TestWithRetryRetriesOnThrottledThenSucceeds(t *testing.T) {
	now := time.Now()
	c := newFakeClient(&now)
	c.cfg.MaxRetries = 2

	attempts := 0
	out, err := c.withRetry(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", ErrThrottled
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if out != "ok" {
		t.Errorf("withRetry() = %q, want ok", out)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	now := time.Now()
	c := newFakeClient(&now)
	c.cfg.MaxRetries = 1

	attempts := 0
	_, err := c.withRetry(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", ErrThrottled
	})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("withRetry() error = %v, want ErrThrottled", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (MaxRetries+1)", attempts)
	}
}

func TestWithRetryDoesNotRetryNonThrottleErrors(t *testing.T) {
	now := time.Now()
	c := newFakeClient(&now)
	wantErr := errors.New("boom")

	attempts := 0
	_, err := c.withRetry(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("withRetry() error = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on generic error)", attempts)
	}
}
