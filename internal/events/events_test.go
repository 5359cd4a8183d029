package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFiltersByTopic(t *testing.T) {
	bus := NewBus()
	tasks := bus.Subscribe(8, TaskUpdated, TaskCompleted)
	all := bus.Subscribe(8)
	defer tasks.Close()
	defer all.Close()

	bus.Publish(Event{Topic: SessionOutput, AgentID: "a"})
	bus.Publish(Event{Topic: TaskUpdated, TaskID: "t1"})

	if ev := recv(t, all); ev.Topic != SessionOutput {
		t.Fatalf("all[0] = %q", ev.Topic)
	}
	if ev := recv(t, all); ev.Topic != TaskUpdated {
		t.Fatalf("all[1] = %q", ev.Topic)
	}
	ev := recv(t, tasks)
	if ev.Topic != TaskUpdated || ev.TaskID != "t1" {
		t.Fatalf("tasks[0] = %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatal("At not stamped")
	}
	select {
	case extra := <-tasks.C():
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(100)
	defer sub.Close()

	statuses := []string{"assigned", "running", "completed"}
	for _, s := range statuses {
		bus.Publish(Event{Topic: TaskUpdated, TaskID: "t", Data: TaskChange{Status: s}})
	}
	for i, want := range statuses {
		got := recv(t, sub).Data.(TaskChange).Status
		if got != want {
			t.Fatalf("event %d status = %q, want %q", i, got, want)
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe(1)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Topic: SessionOutput})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := bus.Dropped(); got != 9 {
		t.Fatalf("Dropped() = %d, want 9", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	if bus.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d", bus.Subscribers())
	}
	sub.Close()
	sub.Close()
	if bus.Subscribers() != 0 {
		t.Fatalf("Subscribers() after close = %d", bus.Subscribers())
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
	bus.Publish(Event{Topic: TaskCreated})
}
