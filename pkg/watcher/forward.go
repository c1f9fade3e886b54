package watcher

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"agentwatch/internal"
)

// Forwarder mirrors dispatched events to an external HTTP endpoint as JSON.
// Forwarding is best-effort: failures are logged and never affect dispatch.
type Forwarder struct {
	publisher message.Publisher
	url       string
	logger    *log.Logger
}

// NewForwarder builds a forwarder for the configured URL. A nil forwarder is
// returned when the URL is empty; its methods are no-ops.
func NewForwarder(cfg internal.ForwardConfig, logger *log.Logger) (*Forwarder, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: wmhttp.DefaultMarshalMessageFunc,
	}, watermill.NopLogger{})
	if err != nil {
		return nil, err
	}
	return &Forwarder{publisher: pub, url: cfg.URL, logger: logger}, nil
}

// Forward mirrors one event. The topic is the configured URL, per the
// watermill HTTP publisher contract.
func (f *Forwarder) Forward(_ context.Context, provider string, e *internal.Event) {
	if f == nil {
		return
	}
	payload, err := json.Marshal(Notification{Kind: "event", Provider: provider, Event: e})
	if err != nil {
		f.logger.Printf("forward marshal failed: %v", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := f.publisher.Publish(f.url, msg); err != nil {
		f.logger.Printf("forward to %s failed: %v", f.url, err)
	}
}

// Close releases the underlying publisher.
func (f *Forwarder) Close() error {
	if f == nil {
		return nil
	}
	return f.publisher.Close()
}
