// Package linear adapts Linear teams to the watcher: bare-hex HMAC
// webhooks, issue polling over the GraphQL API, and a comment-thread
// reactor.
package linear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	headerSignature = "Linear-Signature"
	headerEvent     = "Linear-Event"
	headerDelivery  = "Linear-Delivery"

	pollPageSize       = 50
	recentActivityTail = 5
)

// Provider is the Linear platform adapter.
type Provider struct {
	cfg        internal.ProviderConfig
	secret     string
	identities []string
	api        *client
	logger     *log.Logger
	retry      internal.RetryConfig

	mu      sync.Mutex
	cursors map[string]time.Time

	now func() time.Time
}

// New creates an uninitialized Linear provider.
func New() *Provider {
	return &Provider{
		logger:  internal.NewLogger("linear"),
		retry:   internal.DefaultRetryConfig(),
		cursors: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (p *Provider) Metadata() watcher.Metadata {
	return watcher.Metadata{Name: "linear", Description: "Linear issues"}
}

// Init resolves the signing secret and the API key.
func (p *Provider) Init(_ context.Context, cfg internal.ProviderConfig) error {
	p.cfg = cfg
	p.identities = cfg.BotUsername

	secret, err := internal.ResolveSecret(cfg.Secret)
	if err != nil {
		return err
	}
	p.secret = secret
	if p.secret == "" {
		p.logger.Printf("no webhook secret configured; accepting requests that carry event headers")
	}

	apiKey, err := internal.ResolveSecret(cfg.Token)
	if err != nil {
		return err
	}
	if apiKey != "" {
		p.api = newClient(apiKey, cfg.BaseURL, p.retry, p.logger)
	}
	return nil
}

// ValidateWebhook checks the bare-hex HMAC envelope. The event and delivery
// headers are required companions.
func (p *Provider) ValidateWebhook(headers http.Header, rawBody []byte) error {
	if headers.Get(headerEvent) == "" || headers.Get(headerDelivery) == "" {
		return errors.New("missing event or delivery header")
	}
	if p.secret == "" {
		return nil
	}
	if !internal.VerifyBareSignature(p.secret, rawBody, headers.Get(headerSignature)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// webhookPayload is the Linear delivery envelope.
type webhookPayload struct {
	Action string          `json:"action"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	URL    string          `json:"url"`
}

// HandleWebhook normalizes a delivery and emits it when actionable.
func (p *Provider) HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit watcher.EmitFunc) error {
	var envelope webhookPayload
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	deliveryID := headers.Get(headerDelivery)
	var event *internal.Event
	var issueID string
	switch envelope.Type {
	case "Issue":
		event, issueID = p.normalizeIssueEvent(&envelope, deliveryID, payload)
	case "Comment":
		event, issueID = p.normalizeCommentEvent(&envelope, deliveryID, payload)
	default:
		p.logger.Printf("ignoring %s delivery %s", envelope.Type, deliveryID)
		return nil
	}
	if event == nil {
		return nil
	}
	if ok, reason := internal.ShouldProcess(event, true); !ok {
		p.logger.Printf("dropping %s: %s", event.ID, reason)
		return nil
	}
	emit(ctx, event, p.newReactor(issueID))
	return nil
}

// Poll fetches issues updated since the per-team cursor.
func (p *Provider) Poll(ctx context.Context, emit watcher.EmitFunc) error {
	for _, team := range p.cfg.Teams {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollTeam(ctx, team, emit); err != nil {
			return fmt.Errorf("poll %s: %w", team, err)
		}
	}
	return nil
}

func (p *Provider) pollTeam(ctx context.Context, team string, emit watcher.EmitFunc) error {
	since := p.cursor(team)
	now := p.now()

	issues, err := p.api.issuesUpdatedSince(ctx, team, since, pollPageSize)
	if err != nil {
		return err
	}
	for i := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := p.normalizePolled(team, &issues[i])
		if ok, reason := internal.ShouldProcess(event, true); !ok {
			p.logger.Printf("dropping %s: %s", event.ID, reason)
			continue
		}
		emit(ctx, event, p.newReactor(issues[i].ID))
	}

	p.setCursor(team, now)
	return nil
}

// Shutdown releases nothing; the client has no close.
func (p *Provider) Shutdown(context.Context) error { return nil }

func (p *Provider) newReactor(issueID string) watcher.Reactor {
	return &reactor{
		api:        p.api,
		issueID:    issueID,
		identities: p.identities,
		logger:     p.logger,
	}
}

func (p *Provider) cursor(team string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cursor, ok := p.cursors[team]; ok {
		return cursor
	}
	return p.now().Add(-time.Duration(p.cfg.InitialLookbackHours) * time.Hour)
}

func (p *Provider) setCursor(team string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[team] = t
}

func eventID(team string, number int, action, nativeID, deliveryOrTS string) string {
	if deliveryOrTS == "" {
		deliveryOrTS = uuid.NewString()
	}
	return fmt.Sprintf("linear:%s#%d:%s:%s:%s", team, number, action, nativeID, deliveryOrTS)
}
