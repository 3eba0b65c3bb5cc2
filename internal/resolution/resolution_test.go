package resolution

import (
	"context"
	"testing"
	"time"
)

func TestResolveBeforeWaitIsBuffered(t *testing.T) {
	b := New()
	if err := b.Resolve("run1", "step1", Retry); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d, err := b.Wait(context.Background(), "run1", "step1", time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d != Retry {
		t.Fatalf("got %s, want %s", d, Retry)
	}
}

func TestWaitBeforeResolveUnblocks(t *testing.T) {
	b := New()
	done := make(chan Decision, 1)
	go func() {
		d, _ := b.Wait(context.Background(), "run1", "step1", time.Second)
		done <- d
	}()
	time.Sleep(20 * time.Millisecond)
	if err := b.Resolve("run1", "step1", Skip); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	select {
	case d := <-done:
		if d != Skip {
			t.Fatalf("got %s, want %s", d, Skip)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestWaitTimesOutToAbort(t *testing.T) {
	b := New()
	d, err := b.Wait(context.Background(), "run1", "step1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d != Abort {
		t.Fatalf("got %s, want %s", d, Abort)
	}
}

func TestAbortRunResolvesAllWaiters(t *testing.T) {
	b := New()
	results := make(chan Decision, 2)
	for _, step := range []string{"s1", "s2"} {
		step := step
		go func() {
			d, _ := b.Wait(context.Background(), "run1", step, time.Second)
			results <- d
		}()
	}
	time.Sleep(20 * time.Millisecond)
	b.AbortRun("run1")

	for i := 0; i < 2; i++ {
		select {
		case d := <-results:
			if d != Abort {
				t.Fatalf("got %s, want %s", d, Abort)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for abort-run to unblock a waiter")
		}
	}
}

func TestSecondConcurrentWaitIsRejected(t *testing.T) {
	b := New()
	go b.Wait(context.Background(), "run1", "step1", time.Second)
	time.Sleep(20 * time.Millisecond)
	if _, err := b.Wait(context.Background(), "run1", "step1", time.Second); err != ErrAlreadyAwaiting {
		t.Fatalf("got err %v, want ErrAlreadyAwaiting", err)
	}
}
