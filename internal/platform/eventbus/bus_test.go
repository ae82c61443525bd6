package eventbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testBus() *Bus {
	return New(zerolog.Nop(), nil)
}

func TestPublishAndGetEvents(t *testing.T) {
	bus := testBus()
	for i := 0; i < 5; i++ {
		bus.Publish("wf-1", Event{Stage: fmt.Sprintf("stage-%d", i), Status: "completed"})
	}

	events := bus.GetEvents("wf-1", 0)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, ev := range events {
		if ev.Stage != fmt.Sprintf("stage-%d", i) {
			t.Errorf("event %d out of order: %s", i, ev.Stage)
		}
		if ev.WorkflowID != "wf-1" {
			t.Errorf("event %d workflow id = %q", i, ev.WorkflowID)
		}
		if ev.ID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Errorf("event %d has no id", i)
		}
	}
}

func TestGetEventsLimitReturnsMostRecent(t *testing.T) {
	bus := testBus()
	for i := 0; i < 10; i++ {
		bus.Publish("wf-1", Event{Stage: fmt.Sprintf("stage-%d", i)})
	}

	events := bus.GetEvents("wf-1", 3)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Stage != "stage-7" || events[2].Stage != "stage-9" {
		t.Errorf("wrong window: %s .. %s", events[0].Stage, events[2].Stage)
	}
}

func TestGetEventsUnknownWorkflow(t *testing.T) {
	bus := testBus()
	if events := bus.GetEvents("missing", 10); len(events) != 0 {
		t.Errorf("got %d events for unknown workflow, want 0", len(events))
	}
}

func TestStreamCapDropsOldest(t *testing.T) {
	bus := testBus()
	for i := 0; i < StreamCap+10; i++ {
		bus.Publish("wf-1", Event{Stage: fmt.Sprintf("stage-%d", i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var first string
	count := 0
	_ = bus.Subscribe(ctx, "wf-1", func(ev Event) {
		if count == 0 {
			first = ev.Stage
		}
		count++
		if count == StreamCap {
			cancel()
		}
	})

	if first != "stage-10" {
		t.Errorf("replay started at %s, want stage-10", first)
	}
	if count != StreamCap {
		t.Errorf("replayed %d entries, want %d", count, StreamCap)
	}
}

func TestHistoryRetentionPrunes(t *testing.T) {
	bus := testBus()
	base := time.Now()
	bus.now = func() time.Time { return base }
	bus.Publish("wf-1", Event{Stage: "old"})

	bus.now = func() time.Time { return base.Add(HistoryRetention + time.Hour) }
	bus.Publish("wf-1", Event{Stage: "fresh"})

	events := bus.GetEvents("wf-1", 0)
	if len(events) != 1 || events[0].Stage != "fresh" {
		t.Fatalf("expected only fresh event, got %v", events)
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	bus := testBus()
	bus.Publish("wf-1", Event{Stage: "received"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, "wf-1", func(ev Event) { got <- ev.Stage })
	}()

	want := []string{"received", "normalization", "signing"}
	// Give the subscriber a moment to replay before publishing live.
	if s := <-got; s != "received" {
		t.Fatalf("replayed %q, want received", s)
	}
	bus.Publish("wf-1", Event{Stage: "normalization"})
	bus.Publish("wf-1", Event{Stage: "signing"})

	for _, w := range want[1:] {
		select {
		case s := <-got:
			if s != w {
				t.Fatalf("got %q, want %q", s, w)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for live event")
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Subscribe returned %v, want context.Canceled", err)
	}
}

type failingBroadcaster struct{ calls int }

func (f *failingBroadcaster) Broadcast(string, Event) error {
	f.calls++
	return errors.New("hub down")
}

func TestBroadcastFailureIsSwallowed(t *testing.T) {
	fb := &failingBroadcaster{}
	bus := New(zerolog.Nop(), fb)

	bus.Publish("wf-1", Event{Stage: "received"})

	if fb.calls != 1 {
		t.Errorf("broadcaster called %d times, want 1", fb.calls)
	}
	if events := bus.GetEvents("wf-1", 0); len(events) != 1 {
		t.Errorf("event lost on broadcast failure: got %d", len(events))
	}
}
