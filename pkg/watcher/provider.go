package watcher

import (
	"context"
	"fmt"
	"net/http"

	"agentwatch/internal"
)

// Metadata describes a provider to the dispatcher and the webhook mux.
type Metadata struct {
	// Name is the provider's registered name; it matches the webhook path
	// segment and the provider field of every event it emits.
	Name string
	// Description is a short human-readable summary.
	Description string
}

// EmitFunc delivers one normalized event and its reactor to the dispatcher.
// The reactor is valid only for the duration of the call.
type EmitFunc func(ctx context.Context, event *internal.Event, reactor Reactor)

// Provider is a platform adapter. Each implementation owns its signature
// envelope, API client, poller cursors, normalizer, and reactor factory.
type Provider interface {
	Metadata() Metadata

	// Init prepares the provider with its resolved configuration:
	// authenticating the API client, resolving secrets, and learning the
	// bot identity where the platform supports it.
	Init(ctx context.Context, cfg internal.ProviderConfig) error

	// ValidateWebhook checks the provider's signature envelope against the
	// untouched request bytes. A nil return admits the request.
	ValidateWebhook(headers http.Header, rawBody []byte) error

	// HandleWebhook parses the payload (already unwrapped from any form
	// envelope), normalizes actionable events, and emits them. It runs
	// after the HTTP 202 acknowledgement.
	HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit EmitFunc) error

	// Poll fetches items updated since the provider's cursor and emits the
	// actionable ones. Called by the provider's Poller on each tick.
	Poll(ctx context.Context, emit EmitFunc) error

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error
}

// ProviderError tags an initialization failure with the provider's name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
