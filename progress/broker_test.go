package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/applyforge/core"
)

func logEvent(runID string, seq int64) core.ProgressEvent {
	ev := core.NewLogEvent(runID, core.SeverityInfo, fmt.Sprintf("line %d", seq))
	ev.Seq = seq
	return ev
}

func completeEvent(runID string, seq int64) core.ProgressEvent {
	ev := core.NewCompleteEvent(runID, &core.GenerationResult{RunID: runID})
	ev.Seq = seq
	return ev
}

func recvEvent(t *testing.T, ch <-chan core.ProgressEvent) core.ProgressEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return core.ProgressEvent{}
}

func collect(t *testing.T, ch <-chan core.ProgressEvent) []core.ProgressEvent {
	t.Helper()
	var out []core.ProgressEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the channel to close")
		}
	}
}

func TestBrokerFanOutInOrder(t *testing.T) {
	b := NewBroker()
	b.Register("run-1")

	sub1, cancel1, ok := b.Subscribe("run-1")
	if !ok {
		t.Fatal("expected subscription to a registered run")
	}
	defer cancel1()

	sub2, cancel2, ok := b.Subscribe("run-1")
	if !ok {
		t.Fatal("expected second subscription")
	}
	defer cancel2()

	b.Publish(logEvent("run-1", 1))
	b.Publish(logEvent("run-1", 2))
	b.Publish(completeEvent("run-1", 3))

	for _, sub := range []<-chan core.ProgressEvent{sub1, sub2} {
		events := collect(t, sub)
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		for i, ev := range events {
			if ev.Seq != int64(i+1) {
				t.Fatalf("event %d has seq %d", i, ev.Seq)
			}
		}
		if events[2].Kind != core.EventComplete {
			t.Fatalf("last event has kind %q", events[2].Kind)
		}
	}
}

func TestBrokerReplaysHistoryToLateSubscriber(t *testing.T) {
	b := NewBroker()

	// Publishing registers the run on first use.
	b.Publish(logEvent("run-1", 1))
	b.Publish(logEvent("run-1", 2))
	b.Publish(logEvent("run-1", 3))

	sub, cancel, ok := b.Subscribe("run-1")
	if !ok {
		t.Fatal("expected subscription to a published run")
	}
	defer cancel()

	for seq := int64(1); seq <= 3; seq++ {
		ev := recvEvent(t, sub)
		if ev.Seq != seq {
			t.Fatalf("replayed event has seq %d, expected %d", ev.Seq, seq)
		}
	}

	b.Publish(logEvent("run-1", 4))
	b.Publish(completeEvent("run-1", 5))

	events := collect(t, sub)
	if len(events) != 2 {
		t.Fatalf("expected 2 live events after replay, got %d", len(events))
	}
	if events[0].Seq != 4 || events[1].Seq != 5 {
		t.Fatalf("live events have seqs %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestBrokerSubscribeAfterTerminal(t *testing.T) {
	b := NewBroker()

	b.Publish(logEvent("run-1", 1))
	b.Publish(completeEvent("run-1", 2))

	sub, cancel, ok := b.Subscribe("run-1")
	if !ok {
		t.Fatal("expected finished runs to stay subscribable")
	}

	events := collect(t, sub)
	if len(events) != 2 {
		t.Fatalf("expected the full history, got %d events", len(events))
	}
	if !events[1].IsTerminal() {
		t.Fatal("replayed history does not end with the terminal event")
	}

	cancel()
	cancel()
}

func TestBrokerSubscribeUnknownRun(t *testing.T) {
	b := NewBroker()

	if _, _, ok := b.Subscribe("missing"); ok {
		t.Fatal("expected no subscription for an unknown run")
	}
}

func TestBrokerCancelDetaches(t *testing.T) {
	b := NewBroker()
	b.Register("run-1")

	sub1, cancel1, _ := b.Subscribe("run-1")
	sub2, cancel2, _ := b.Subscribe("run-1")
	defer cancel2()

	cancel1()
	cancel1()

	if events := collect(t, sub1); len(events) != 0 {
		t.Fatalf("cancelled subscriber received %d events", len(events))
	}

	b.Publish(logEvent("run-1", 1))
	b.Publish(completeEvent("run-1", 2))

	events := collect(t, sub2)
	if len(events) != 2 {
		t.Fatalf("remaining subscriber received %d events, expected 2", len(events))
	}
}

func TestBrokerIgnoresEventsAfterTerminal(t *testing.T) {
	b := NewBroker()

	b.Publish(logEvent("run-1", 1))
	b.Publish(completeEvent("run-1", 2))
	b.Publish(logEvent("run-1", 3))

	sub, cancel, _ := b.Subscribe("run-1")
	defer cancel()

	events := collect(t, sub)
	if len(events) != 2 {
		t.Fatalf("expected history to stop at the terminal event, got %d events", len(events))
	}
}

func TestBrokerPruneRemovesOnlyFinishedRuns(t *testing.T) {
	b := NewBroker()

	b.Publish(logEvent("run-1", 1))
	b.Publish(completeEvent("run-1", 2))

	b.Register("run-2")
	b.Publish(logEvent("run-2", 1))

	if removed := b.Prune(0); removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}

	if _, _, ok := b.Subscribe("run-1"); ok {
		t.Fatal("expected the pruned run to be gone")
	}
	if _, cancel, ok := b.Subscribe("run-2"); !ok {
		t.Fatal("expected the active run to survive pruning")
	} else {
		cancel()
	}
}

func TestBrokerSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker(func(o *BrokerOptions) {
		o.SubscriberBuffer = 1
	})
	b.Register("run-1")

	sub, cancel, _ := b.Subscribe("run-1")
	defer cancel()

	// The subscriber never reads; publishing must still return.
	b.Publish(logEvent("run-1", 1))
	b.Publish(logEvent("run-1", 2))
	b.Publish(logEvent("run-1", 3))
	b.Publish(completeEvent("run-1", 4))

	events := collect(t, sub)
	if len(events) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(events))
	}
	if events[0].Seq != 1 {
		t.Fatalf("buffered event has seq %d", events[0].Seq)
	}
}
