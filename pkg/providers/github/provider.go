// Package github adapts GitHub repositories to the watcher: webhook
// validation and parsing, issue/PR polling, and a comment-thread reactor
// over the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"
)

// Provider is the GitHub platform adapter.
type Provider struct {
	cfg        internal.ProviderConfig
	secret     string
	identities []string
	client     *gh.Client
	logger     *log.Logger
	retry      internal.RetryConfig

	mu      sync.Mutex
	cursors map[string]time.Time

	now func() time.Time
}

// New creates an uninitialized GitHub provider.
func New() *Provider {
	return &Provider{
		logger:  internal.NewLogger("github"),
		retry:   internal.DefaultRetryConfig(),
		cursors: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (p *Provider) Metadata() watcher.Metadata {
	return watcher.Metadata{Name: "github", Description: "GitHub issues and pull requests"}
}

// Init resolves secrets and builds the API client. Without a token the
// provider can still validate and normalize webhooks; polling and the
// reactor require one.
func (p *Provider) Init(ctx context.Context, cfg internal.ProviderConfig) error {
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

	token, err := internal.ResolveSecret(cfg.Token)
	if err != nil {
		return err
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("enterprise base url: %w", err)
		}
	}
	p.client = client
	return nil
}

// ValidateWebhook checks the HMAC prefix-tag envelope. The event and
// delivery headers are required companions; either missing fails
// validation.
func (p *Provider) ValidateWebhook(headers http.Header, rawBody []byte) error {
	if headers.Get(headerEvent) == "" || headers.Get(headerDelivery) == "" {
		return errors.New("missing event or delivery header")
	}
	if p.secret == "" {
		return nil
	}
	if !internal.VerifyPrefixedSignature(p.secret, rawBody, headers.Get(headerSignature)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// HandleWebhook normalizes a delivery and emits it when actionable.
func (p *Provider) HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit watcher.EmitFunc) error {
	event, err := p.normalizeWebhook(headers.Get(headerEvent), headers.Get(headerDelivery), payload)
	if err != nil {
		return err
	}
	if event == nil {
		p.logger.Printf("ignoring %s delivery %s", headers.Get(headerEvent), headers.Get(headerDelivery))
		return nil
	}
	if ok, reason := internal.ShouldProcess(event, true); !ok {
		p.logger.Printf("dropping %s: %s", event.ID, reason)
		return nil
	}
	owner, repo, err := splitRepo(event.Resource.Repository)
	if err != nil {
		return err
	}
	emit(ctx, event, p.newReactor(owner, repo, event.Resource.Number))
	return nil
}

// Shutdown releases nothing; the HTTP client has no close.
func (p *Provider) Shutdown(context.Context) error { return nil }

func (p *Provider) newReactor(owner, repo string, number int) watcher.Reactor {
	return &reactor{
		client:     p.client,
		owner:      owner,
		repo:       repo,
		number:     number,
		identities: p.identities,
		logger:     p.logger,
		retry:      p.retry,
	}
}

func splitRepo(fullName string) (string, string, error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("repository %q is not owner/name", fullName)
}

// isTransient classifies go-github errors for the retry discipline.
func isTransient(err error) bool {
	var rate *gh.RateLimitError
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &rate) || errors.As(err, &abuse) {
		return true
	}
	var resp *gh.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return internal.IsTransient(resp.Response.StatusCode)
	}
	return false
}
