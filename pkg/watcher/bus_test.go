package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentwatch/internal"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx, TopicEvents)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	errs, err := bus.Subscribe(ctx, TopicErrors)
	if err != nil {
		t.Fatalf("subscribe errors: %v", err)
	}

	e := &internal.Event{ID: "x:y#1:a:1:1", Provider: "x", Resource: internal.Resource{Repository: "y"}}
	if err := bus.PublishEvent("x", e); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := bus.PublishError("x", errors.New("boom")); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	select {
	case n := <-events:
		if n.Kind != "event" || n.Event == nil || n.Event.ID != e.ID {
			t.Fatalf("unexpected event notification %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected event notification")
	}

	select {
	case n := <-errs:
		if n.Kind != "error" || n.Error != "boom" {
			t.Fatalf("unexpected error notification %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected error notification")
	}
}

func TestBusLifecycleNotifications(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle, err := bus.Subscribe(ctx, TopicLifecycle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.PublishLifecycle("started"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-lifecycle:
		if n.Kind != "started" {
			t.Fatalf("expected started, got %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected lifecycle notification")
	}
}

func TestBusCallbackSubscribersRunSynchronously(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var got []string
	bus.SubscribeFunc(func(provider string, e *internal.Event) {
		got = append(got, provider+":"+e.ID)
	})

	e := &internal.Event{ID: "x:y#1:a:1:1", Provider: "x", Resource: internal.Resource{Repository: "y"}}
	if err := bus.PublishEvent("x", e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// The callback ran on this goroutine before PublishEvent returned; no
	// synchronization is needed to observe it.
	if len(got) != 1 || got[0] != "x:"+e.ID {
		t.Fatalf("expected synchronous delivery, got %v", got)
	}
}

func TestBusSubscriberPanicIsContained(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var after int
	bus.SubscribeFunc(func(string, *internal.Event) {
		panic("subscriber bug")
	})
	bus.SubscribeFunc(func(string, *internal.Event) {
		after++
	})

	e := &internal.Event{ID: "x:y#1:a:1:1", Provider: "x", Resource: internal.Resource{Repository: "y"}}
	if err := bus.PublishEvent("x", e); err != nil {
		t.Fatalf("publish must survive a panicking subscriber: %v", err)
	}
	if after != 1 {
		t.Fatalf("subscribers after the panicking one must still run, got %d", after)
	}
}
