package watcher

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"agentwatch/internal"
)

// Bus topics for channel-style observers.
const (
	TopicEvents    = "watcher.events"
	TopicErrors    = "watcher.errors"
	TopicLifecycle = "watcher.lifecycle"
)

// Notification is the envelope published on the bus.
type Notification struct {
	// Kind is "event", "error", "started", or "stopped".
	Kind     string          `json:"kind"`
	Provider string          `json:"provider,omitempty"`
	Event    *internal.Event `json:"event,omitempty"`
	Error    string          `json:"error,omitempty"`
	Time     time.Time       `json:"time"`
}

// EventFunc is an in-process subscriber callback.
type EventFunc func(provider string, e *internal.Event)

// Bus is the in-process pub-sub for watcher notifications. Callback
// subscribers registered with SubscribeFunc run synchronously on the
// goroutine that publishes the event; a panicking subscriber is logged and
// never propagates to the publisher. The watermill channel surface is a
// second, asynchronous view for observers that prefer a channel.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *log.Logger

	// subscribers is append-mostly; publishers iterate a snapshot taken
	// under the lock.
	mu          sync.Mutex
	subscribers []EventFunc
}

// NewBus creates the in-process bus.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = internal.NewLogger("bus")
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
		logger: logger,
	}
}

// SubscribeFunc registers a callback invoked synchronously for every
// published event.
func (b *Bus) SubscribeFunc(fn EventFunc) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// PublishEvent delivers a dispatched event: first to the callback
// subscribers on the calling goroutine, then to the channel observers.
func (b *Bus) PublishEvent(provider string, e *internal.Event) error {
	for _, fn := range b.snapshot() {
		b.invoke(fn, provider, e)
	}
	return b.publish(TopicEvents, Notification{
		Kind:     "event",
		Provider: provider,
		Event:    e,
		Time:     time.Now().UTC(),
	})
}

func (b *Bus) snapshot() []EventFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]EventFunc(nil), b.subscribers...)
}

func (b *Bus) invoke(fn EventFunc, provider string, e *internal.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("subscriber panicked on %s event %s: %v", provider, e.ID, r)
		}
	}()
	fn(provider, e)
}

// PublishError publishes an event-path error. Errors here are informational;
// the dispatch loop has already swallowed them.
func (b *Bus) PublishError(provider string, err error) error {
	return b.publish(TopicErrors, Notification{
		Kind:     "error",
		Provider: provider,
		Error:    err.Error(),
		Time:     time.Now().UTC(),
	})
}

// PublishLifecycle publishes a "started" or "stopped" notification.
func (b *Bus) PublishLifecycle(kind string) error {
	return b.publish(TopicLifecycle, Notification{
		Kind: kind,
		Time: time.Now().UTC(),
	})
}

func (b *Bus) publish(topic string, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe returns a channel of notifications for a topic. The channel
// closes when ctx is canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Notification, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err == nil {
				out <- n
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing all channel observers.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
