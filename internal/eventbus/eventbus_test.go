package eventbus

import "testing"

func TestSubscribeReceivesEventsInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("run1")
	defer sub.Close()

	b.Publish("run1", RunStarted, map[string]any{"total_steps": 3})
	b.Publish("run1", StepStarted, map[string]any{"step_number": 1})
	b.Publish("run1", StepCompleted, map[string]any{"step_number": 1})

	want := []EventType{RunStarted, StepStarted, StepCompleted}
	for i, w := range want {
		ev := <-sub.Events()
		if ev.Type != w {
			t.Fatalf("event %d: got %s, want %s", i, ev.Type, w)
		}
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: got seq %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.Publish("run1", RunStarted, nil) // must not panic or block
}

func TestUnsubscribeRemovesRunWhenLastSubscriberLeaves(t *testing.T) {
	b := New()
	sub := b.Subscribe("run1")
	if got := b.SubscriberCount("run1"); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}
	sub.Close()
	if got := b.SubscriberCount("run1"); got != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", got)
	}
	if _, ok := b.runs["run1"]; ok {
		t.Fatal("expected run entry to be removed after last subscriber left")
	}
}

func TestTwoSubscribersSeeIdenticalOrderedSequences(t *testing.T) {
	b := New()
	sub1 := b.Subscribe("run1")
	sub2 := b.Subscribe("run1")
	defer sub1.Close()
	defer sub2.Close()

	b.Publish("run1", RunStarted, nil)
	b.Publish("run1", RunCompleted, nil)

	for i := 0; i < 2; i++ {
		e1 := <-sub1.Events()
		e2 := <-sub2.Events()
		if e1.Type != e2.Type || e1.Seq != e2.Seq {
			t.Fatalf("subscribers diverged at %d: %+v vs %+v", i, e1, e2)
		}
	}
}

func TestDeliverDropsOldestAndInsertsHeartbeatWhenFull(t *testing.T) {
	b := New()
	sub := b.Subscribe("run1")
	defer sub.Close()

	// Fill the bounded queue beyond capacity.
	for i := 0; i < queueSize+5; i++ {
		b.Publish("run1", StepStarted, map[string]any{"i": i})
	}
	if b.DroppedCount() == 0 {
		t.Fatal("expected at least one dropped event once the queue overflowed")
	}

	sawHeartbeat := false
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		if ev.Type == Heartbeat {
			sawHeartbeat = true
		}
	}
	if !sawHeartbeat {
		t.Fatal("expected a heartbeat event compensating for a drop")
	}
}
