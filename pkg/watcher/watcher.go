package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agentwatch/internal"
)

var (
	// ErrAlreadyStarted is returned by Start on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")
	// ErrStarted is returned by Register/Unregister while running.
	ErrStarted = errors.New("provider registry is frozen while started")
)

// Server is the webhook listener the supervisor starts and drains. It is
// injected so the HTTP surface stays in its own package.
type Server interface {
	Start() error
	Stop(ctx context.Context) error
}

// Registration pairs a provider with its resolved configuration.
type Registration struct {
	Provider Provider
	Config   internal.ProviderConfig
}

// Watcher owns the registered providers, the pollers, the event bus, and
// the per-provider event-handler closures. It is the lifecycle supervisor:
// pollers and the HTTP server stop before providers are torn down.
type Watcher struct {
	cfg    internal.Config
	logger *log.Logger

	bus       *Bus
	executor  *CommandExecutor
	forwarder *Forwarder
	rules     *internal.RuleEngine

	mu            sync.Mutex
	started       bool
	registrations []Registration
	pollers       []*Poller
	server        Server
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New builds a Watcher from resolved configuration. The executor's prompt
// templates, the drop rules, and the forwarder are constructed eagerly so a
// bad configuration fails here rather than mid-dispatch.
func New(cfg internal.Config, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		cfg:    cfg,
		logger: internal.NewLogger("watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.bus = NewBus(w.logger)

	executor, err := NewCommandExecutor(cfg.Executor, internal.NewLogger("executor"))
	if err != nil {
		return nil, err
	}
	w.executor = executor

	rules, err := internal.NewRuleEngine(cfg.Filters, internal.NewLogger("rules"))
	if err != nil {
		return nil, err
	}
	w.rules = rules

	forwarder, err := NewForwarder(cfg.Forward, w.logger)
	if err != nil {
		return nil, err
	}
	w.forwarder = forwarder
	return w, nil
}

// Bus exposes the notification bus for subscribers.
func (w *Watcher) Bus() *Bus { return w.bus }

// Subscribe registers an in-process subscriber. Callbacks run synchronously
// on the goroutine that dispatches the event; panics are logged, not
// propagated.
func (w *Watcher) Subscribe(fn EventFunc) {
	w.bus.SubscribeFunc(fn)
}

// SetServer injects the webhook server. Must be called before Start.
func (w *Watcher) SetServer(s Server) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.server = s
}

// Register adds a provider with its configuration. Valid only while the
// watcher is stopped.
func (w *Watcher) Register(p Provider, cfg internal.ProviderConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	name := p.Metadata().Name
	for _, reg := range w.registrations {
		if reg.Provider.Metadata().Name == name {
			return fmt.Errorf("provider %s already registered", name)
		}
	}
	w.registrations = append(w.registrations, Registration{Provider: p, Config: cfg})
	return nil
}

// Unregister removes a provider by name. Valid only while stopped.
func (w *Watcher) Unregister(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	for i, reg := range w.registrations {
		if reg.Provider.Metadata().Name == name {
			w.registrations = append(w.registrations[:i], w.registrations[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("provider %s is not registered", name)
}

// Registrations returns the enabled registrations, for the webhook server's
// route table.
func (w *Watcher) Registrations() []Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Registration, 0, len(w.registrations))
	for _, reg := range w.registrations {
		if reg.Config.Enabled {
			out = append(out, reg)
		}
	}
	return out
}

// Start initializes enabled providers, starts the webhook server when any
// provider is enabled, and launches pollers for providers configured to
// poll. A provider initialization failure aborts the start; providers
// already initialized are left for Stop to tear down.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	registrations := append([]Registration(nil), w.registrations...)
	server := w.server
	w.mu.Unlock()

	enabled := 0
	for _, reg := range registrations {
		if !reg.Config.Enabled {
			continue
		}
		enabled++
		name := reg.Provider.Metadata().Name
		if err := reg.Provider.Init(ctx, reg.Config); err != nil {
			return &ProviderError{Provider: name, Err: err}
		}
		w.logger.Printf("provider %s initialized", name)
	}

	if enabled > 0 && server != nil {
		if err := server.Start(); err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
	}

	for _, reg := range registrations {
		if !w.shouldPoll(reg) {
			continue
		}
		name := reg.Provider.Metadata().Name
		interval := time.Duration(reg.Config.PollingIntervalSeconds) * time.Second
		poller := NewPoller(reg.Provider, interval, w.EventHandler(name), internal.NewLogger("poller/"+name))
		poller.Start(ctx)
		w.mu.Lock()
		w.pollers = append(w.pollers, poller)
		w.mu.Unlock()
		w.logger.Printf("poller for %s started (interval %s)", name, interval)
	}

	if err := w.bus.PublishLifecycle("started"); err != nil {
		w.logger.Printf("publish started failed: %v", err)
	}
	return nil
}

func (w *Watcher) shouldPoll(reg Registration) bool {
	cfg := reg.Config
	if !cfg.Enabled || !cfg.HasAuth() || cfg.PollingIntervalSeconds <= 0 {
		return false
	}
	containers := len(cfg.Repositories) + len(cfg.Projects) + len(cfg.Teams) + len(cfg.Channels)
	return containers > 0
}

// Stop stops the pollers, drains the webhook server, and shuts down every
// registered provider, in that order. Idempotent.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	pollers := w.pollers
	w.pollers = nil
	registrations := append([]Registration(nil), w.registrations...)
	server := w.server
	w.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}

	if server != nil {
		if err := server.Stop(ctx); err != nil {
			w.logger.Printf("webhook server stop: %v", err)
		}
	}

	for _, reg := range registrations {
		if !reg.Config.Enabled {
			continue
		}
		if err := reg.Provider.Shutdown(ctx); err != nil {
			w.logger.Printf("provider %s shutdown: %v", reg.Provider.Metadata().Name, err)
		}
	}

	if err := w.bus.PublishLifecycle("stopped"); err != nil {
		w.logger.Printf("publish stopped failed: %v", err)
	}

	if err := w.forwarder.Close(); err != nil {
		w.logger.Printf("forwarder close: %v", err)
	}
	return nil
}

// EventHandler builds the per-provider dispatch closure: the duplicate
// check against the last comment, bus emission, and command invocation.
// Every error inside is logged and swallowed so the loop continues.
func (w *Watcher) EventHandler(providerName string) EmitFunc {
	return func(ctx context.Context, e *internal.Event, reactor Reactor) {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Printf("event handler for %s panicked: %v", providerName, r)
			}
		}()
		if err := w.dispatch(ctx, providerName, e, reactor); err != nil {
			w.logger.Printf("event %s: %v", e.ID, err)
			if busErr := w.bus.PublishError(providerName, err); busErr != nil {
				w.logger.Printf("publish error failed: %v", busErr)
			}
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, providerName string, e *internal.Event, reactor Reactor) error {
	if err := e.Validate(); err != nil {
		return err
	}

	if drop, rule := w.rules.Drop(e); drop {
		w.logger.Printf("event %s dropped by rule %q", e.ID, rule)
		internal.IncSkipped(providerName)
		return nil
	}

	last, err := reactor.LastComment(ctx)
	if err != nil {
		w.logger.Printf("last comment for %s unavailable: %v", e.DisplayString(), err)
		last = nil
	}
	if last != nil && reactor.IsBotAuthor(last.Author) {
		w.logger.Printf("skipping %s: last comment is ours", e.DisplayString())
		internal.IncSkipped(providerName)
		return nil
	}

	if err := w.bus.PublishEvent(providerName, e); err != nil {
		w.logger.Printf("publish event %s failed: %v", e.ID, err)
	}
	w.forwarder.Forward(ctx, providerName, e)
	internal.IncDispatched(providerName)

	if w.executor.Enabled() {
		return w.executor.Execute(ctx, e, reactor)
	}

	// With no executor the acknowledgement comment is still posted so
	// replays of the same event are suppressed.
	body, err := RenderComment(w.cfg.Executor.CommentTemplate, e.DisplayString())
	if err != nil {
		return fmt.Errorf("render comment: %w", err)
	}
	if _, err := reactor.PostComment(ctx, body); err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	return nil
}
