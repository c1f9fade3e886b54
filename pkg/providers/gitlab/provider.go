// Package gitlab adapts GitLab projects to the watcher: token-validated
// webhooks, issue/MR polling, and a notes-thread reactor over the GitLab
// API.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	gl "github.com/xanzy/go-gitlab"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	headerEvent = "X-Gitlab-Event"
	headerToken = "X-Gitlab-Token"
	headerUUID  = "X-Gitlab-Event-UUID"
)

// Provider is the GitLab platform adapter.
type Provider struct {
	cfg        internal.ProviderConfig
	secret     string
	identities []string
	client     *gl.Client
	logger     *log.Logger
	retry      internal.RetryConfig

	mu      sync.Mutex
	cursors map[string]time.Time

	now func() time.Time
}

// New creates an uninitialized GitLab provider.
func New() *Provider {
	return &Provider{
		logger:  internal.NewLogger("gitlab"),
		retry:   internal.DefaultRetryConfig(),
		cursors: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (p *Provider) Metadata() watcher.Metadata {
	return watcher.Metadata{Name: "gitlab", Description: "GitLab issues and merge requests"}
}

// Init resolves the webhook token and builds the API client.
func (p *Provider) Init(_ context.Context, cfg internal.ProviderConfig) error {
	p.cfg = cfg
	p.identities = cfg.BotUsername

	secret, err := internal.ResolveSecret(cfg.Secret)
	if err != nil {
		return err
	}
	p.secret = secret
	if p.secret == "" {
		p.logger.Printf("no webhook token configured; accepting requests that carry the event header")
	}

	token, err := internal.ResolveSecret(cfg.Token)
	if err != nil {
		return err
	}
	if token != "" {
		opts := []gl.ClientOptionFunc{}
		if cfg.BaseURL != "" {
			opts = append(opts, gl.WithBaseURL(cfg.BaseURL))
		}
		client, err := gl.NewClient(token, opts...)
		if err != nil {
			return fmt.Errorf("gitlab client: %w", err)
		}
		p.client = client
	}
	return nil
}

// ValidateWebhook compares the shared token header in constant time. The
// event header is a required companion.
func (p *Provider) ValidateWebhook(headers http.Header, _ []byte) error {
	if headers.Get(headerEvent) == "" {
		return errors.New("missing event header")
	}
	if p.secret == "" {
		return nil
	}
	if !internal.VerifyToken(p.secret, headers.Get(headerToken)) {
		return errors.New("token mismatch")
	}
	return nil
}

// HandleWebhook normalizes a delivery and emits it when actionable.
func (p *Provider) HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit watcher.EmitFunc) error {
	event, resource, err := p.normalizeWebhook(headers.Get(headerEvent), headers.Get(headerUUID), payload)
	if err != nil {
		return err
	}
	if event == nil {
		p.logger.Printf("ignoring %s delivery", headers.Get(headerEvent))
		return nil
	}
	if ok, reason := internal.ShouldProcess(event, true); !ok {
		p.logger.Printf("dropping %s: %s", event.ID, reason)
		return nil
	}
	emit(ctx, event, p.newReactor(event.Resource.Repository, event.Resource.Number, resource))
	return nil
}

// Shutdown releases nothing; the client has no close.
func (p *Provider) Shutdown(context.Context) error { return nil }

func (p *Provider) newReactor(project string, iid int, kind resourceKind) watcher.Reactor {
	return &reactor{
		client:     p.client,
		project:    project,
		iid:        iid,
		kind:       kind,
		identities: p.identities,
		logger:     p.logger,
		retry:      p.retry,
	}
}

// isTransient classifies go-gitlab errors for the retry discipline.
func isTransient(err error) bool {
	var resp *gl.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return internal.IsTransient(resp.Response.StatusCode)
	}
	return false
}
