package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBus_PublishAndHistory(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	ev := New(TypeTaskClaimed).WithProject("p1").WithTask("t1").WithAgent("a1")
	if err := bus.Publish(ctx, StreamGlobal, ev); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := bus.Publish(ctx, StreamGlobal, New(TypeTaskStatusChanged)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	history := bus.Events(StreamGlobal)
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Type != TypeTaskClaimed || history[0].TaskID != "t1" {
		t.Fatalf("unexpected first event: %+v", history[0])
	}
	if history[0].Timestamp == 0 {
		t.Fatalf("expected server timestamp to be set")
	}

	claimed := bus.EventsOfType(StreamGlobal, TypeTaskClaimed)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed event, got %d", len(claimed))
	}
}

func TestMemoryBus_ConsumerGroup(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 4)
	// Join the group before publishing: groups only see events appended
	// after they exist.
	_ = bus.groupChannel(StreamNewRuns, "workers")

	go func() {
		_ = bus.Consume(ctx, StreamNewRuns, "workers", "w1", func(_ context.Context, ev Event) error {
			received <- ev
			return nil
		})
	}()

	if err := bus.Publish(ctx, StreamNewRuns, New(TypeRunNew).WithRun("r1")); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case ev := <-received:
		if ev.RunID != "r1" {
			t.Fatalf("expected run r1, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for consumed event")
	}
}

func TestMemoryBus_KV(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	if err := bus.SetKey(ctx, "k", "v", 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	v, ok, err := bus.GetKey(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("expected v, got %q ok=%v err=%v", v, ok, err)
	}

	if err := bus.DeleteKey(ctx, "k"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, ok, _ := bus.GetKey(ctx, "k"); ok {
		t.Fatalf("expected key deleted")
	}

	if err := bus.SetKey(ctx, "ttl", "v", time.Millisecond); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := bus.GetKey(ctx, "ttl"); ok {
		t.Fatalf("expected key expired")
	}
}

func TestEvent_WithData(t *testing.T) {
	ev := New(TypeTaskStatusChanged).WithData("reason", "all_dependencies_met")
	ev2 := ev.WithData("from", "backlog")

	if ev.Data["from"] != nil {
		t.Fatalf("WithData must not mutate the receiver")
	}
	if ev2.Data["reason"] != "all_dependencies_met" || ev2.Data["from"] != "backlog" {
		t.Fatalf("unexpected data: %+v", ev2.Data)
	}
}
