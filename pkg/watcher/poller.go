package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"agentwatch/internal"
)

// Poller drives one provider's periodic poll. Ticks are single-flight: a
// tick that fires while the previous one is still running is skipped.
// Consecutive failures back off exponentially; after MaxErrorCount failures
// in a row the poller logs and disables itself.
type Poller struct {
	provider Provider
	emit     EmitFunc
	interval time.Duration
	logger   *log.Logger

	// BackoffBase, BackoffCap and MaxErrorCount are set before Start.
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	MaxErrorCount int

	mu         sync.Mutex
	running    bool
	inFlight   bool
	errorCount int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller for a provider.
func NewPoller(p Provider, interval time.Duration, emit EmitFunc, logger *log.Logger) *Poller {
	if logger == nil {
		logger = internal.NewLogger("poller/" + p.Metadata().Name)
	}
	return &Poller{
		provider:      p,
		emit:          emit,
		interval:      interval,
		logger:        logger,
		BackoffBase:   time.Second,
		BackoffCap:    30 * time.Second,
		MaxErrorCount: 5,
	}
}

// Start launches the poll loop. It is a no-op if already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.errorCount = 0
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop cancels the loop and waits for the current tick to finish. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// IsRunning reports whether the loop is active. A poller that disabled
// itself after repeated failures reports false.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.beginTick() {
				continue
			}
			disabled := p.tick(ctx)
			p.endTick()
			if disabled {
				p.mu.Lock()
				p.running = false
				p.mu.Unlock()
				return
			}
		}
	}
}

func (p *Poller) beginTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

func (p *Poller) endTick() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

// tick runs one poll. It returns true when the poller has crossed its
// failure threshold and must disable itself.
func (p *Poller) tick(ctx context.Context) bool {
	name := p.provider.Metadata().Name
	err := p.provider.Poll(ctx, p.emit)
	if err == nil || ctx.Err() != nil {
		p.mu.Lock()
		p.errorCount = 0
		p.mu.Unlock()
		return false
	}

	p.mu.Lock()
	p.errorCount++
	count := p.errorCount
	p.mu.Unlock()

	internal.IncPollError(name)
	delay := p.backoff(count)
	p.logger.Printf("poll %s failed (consecutive failures %d): %v; backing off %s", name, count, err, delay)

	if count >= p.MaxErrorCount {
		p.logger.Printf("poll %s disabled after %d consecutive failures", name, count)
		return true
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	return false
}

// backoff computes min(base * 2^(n-1), cap) for the nth consecutive failure.
func (p *Poller) backoff(n int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}
