// Package slack adapts Slack channels to the watcher. Only direct
// app_mention events are actionable; the reactor speaks into the mention's
// thread.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"

	pollPageSize = 100
)

// Provider is the Slack platform adapter.
type Provider struct {
	cfg        internal.ProviderConfig
	secret     string
	identities []string
	botUserID  string
	api        *slackapi.Client
	logger     *log.Logger
	retry      internal.RetryConfig

	mu      sync.Mutex
	cursors map[string]time.Time

	now func() time.Time
}

// New creates an uninitialized Slack provider.
func New() *Provider {
	return &Provider{
		logger:  internal.NewLogger("slack"),
		retry:   internal.DefaultRetryConfig(),
		cursors: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (p *Provider) Metadata() watcher.Metadata {
	return watcher.Metadata{Name: "slack", Description: "Slack app mentions"}
}

// Init resolves the signing secret and bot token. When no bot identity is
// configured, auth.test learns and caches it.
func (p *Provider) Init(ctx context.Context, cfg internal.ProviderConfig) error {
	p.cfg = cfg
	p.identities = cfg.BotUsername

	secret, err := internal.ResolveSecret(cfg.Secret)
	if err != nil {
		return err
	}
	p.secret = secret
	if p.secret == "" {
		p.logger.Printf("no signing secret configured; accepting requests that parse as event callbacks")
	}

	token, err := internal.ResolveSecret(cfg.Token)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("slack bot token is required")
	}
	opts := []slackapi.Option{}
	if cfg.BaseURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.BaseURL))
	}
	p.api = slackapi.New(token, opts...)

	if len(p.identities) == 0 {
		auth, err := p.api.AuthTestContext(ctx)
		if err != nil {
			return fmt.Errorf("auth.test: %w", err)
		}
		p.botUserID = auth.UserID
		p.identities = []string{auth.UserID, auth.User}
		if auth.BotID != "" {
			p.identities = append(p.identities, auth.BotID)
		}
		p.logger.Printf("bot identity learned: %s (%s)", auth.User, auth.UserID)
	} else {
		p.botUserID = p.identities[0]
	}
	return nil
}

// ValidateWebhook checks the replay-guarded envelope: v0 HMAC over
// "v0:{timestamp}:{body}" with a 300 s skew window.
func (p *Provider) ValidateWebhook(headers http.Header, rawBody []byte) error {
	if p.secret == "" {
		return nil
	}
	ok := internal.VerifyTimestampedSignature(
		p.secret,
		rawBody,
		headers.Get(headerTimestamp),
		headers.Get(headerSignature),
		p.now(),
	)
	if !ok {
		return errors.New("signature mismatch or stale timestamp")
	}
	return nil
}

// eventCallback is the Slack events API envelope.
type eventCallback struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Event   struct {
		Type            string `json:"type"`
		User            string `json:"user"`
		Text            string `json:"text"`
		Channel         string `json:"channel"`
		TS              string `json:"ts"`
		ThreadTimestamp string `json:"thread_ts"`
	} `json:"event"`
}

// HandleWebhook normalizes an event callback and emits it when the inner
// event is a direct mention.
func (p *Provider) HandleWebhook(ctx context.Context, _ http.Header, payload []byte, emit watcher.EmitFunc) error {
	var callback eventCallback
	if err := json.Unmarshal(payload, &callback); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	if callback.Type != "event_callback" {
		p.logger.Printf("ignoring %s delivery", callback.Type)
		return nil
	}

	event := p.normalizeMention(&callback, payload)
	if ok, reason := internal.ShouldProcess(event, true); !ok {
		p.logger.Printf("dropping %s: %s", event.ID, reason)
		return nil
	}

	threadTS := callback.Event.ThreadTimestamp
	if threadTS == "" {
		threadTS = callback.Event.TS
	}
	emit(ctx, event, p.newReactor(callback.Event.Channel, threadTS))
	return nil
}

func (p *Provider) normalizeMention(callback *eventCallback, payload []byte) *internal.Event {
	ev := callback.Event
	return &internal.Event{
		ID:       fmt.Sprintf("slack:%s:%s:%s:%s", ev.Channel, ev.Type, ev.TS, callback.EventID),
		Provider: "slack",
		Type:     "message",
		Action:   ev.Type,
		Resource: internal.Resource{
			Number:     0,
			Title:      ev.Text,
			Repository: ev.Channel,
		},
		Actor: internal.Actor{
			Username: ev.User,
			ID:       ev.User,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: callback.EventID,
			Extra: map[string]string{
				"thread_ts": ev.ThreadTimestamp,
				"ts":        ev.TS,
			},
		},
		Raw: json.RawMessage(payload),
	}
}

// Poll scans each channel's history since the cursor for messages that
// mention the bot.
func (p *Provider) Poll(ctx context.Context, emit watcher.EmitFunc) error {
	mention := "<@" + p.botUserID + ">"
	for _, channel := range p.cfg.Channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollChannel(ctx, channel, mention, emit); err != nil {
			return fmt.Errorf("poll %s: %w", channel, err)
		}
	}
	return nil
}

func (p *Provider) pollChannel(ctx context.Context, channel, mention string, emit watcher.EmitFunc) error {
	since := p.cursor(channel)
	now := p.now()

	var resp *slackapi.GetConversationHistoryResponse
	err := internal.WithRetry(ctx, p.retry, p.logger, "conversation history", func() (bool, error) {
		var histErr error
		resp, histErr = p.api.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
			ChannelID: channel,
			Oldest:    slackTimestamp(since),
			Limit:     pollPageSize,
		})
		if histErr != nil {
			return isTransient(histErr), histErr
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	for i := range resp.Messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := &resp.Messages[i]
		if msg.User == "" || watcher.MatchBotAuthor(p.identities, msg.User) {
			continue
		}
		if !containsMention(msg.Text, mention) {
			continue
		}
		event := p.normalizePolled(channel, msg)
		if ok, reason := internal.ShouldProcess(event, true); !ok {
			p.logger.Printf("dropping %s: %s", event.ID, reason)
			continue
		}
		threadTS := msg.ThreadTimestamp
		if threadTS == "" {
			threadTS = msg.Timestamp
		}
		emit(ctx, event, p.newReactor(channel, threadTS))
	}

	p.setCursor(channel, now)
	return nil
}

func (p *Provider) normalizePolled(channel string, msg *slackapi.Message) *internal.Event {
	raw, _ := json.Marshal(msg)
	return &internal.Event{
		ID:       fmt.Sprintf("slack:%s:app_mention:%s:%s", channel, msg.Timestamp, msg.Timestamp),
		Provider: "slack",
		Type:     "message",
		Action:   "app_mention",
		Resource: internal.Resource{
			Number:     0,
			Title:      msg.Text,
			Repository: channel,
		},
		Actor: internal.Actor{
			Username: msg.User,
			ID:       msg.User,
		},
		Metadata: internal.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Polled:    true,
			Extra: map[string]string{
				"thread_ts": msg.ThreadTimestamp,
				"ts":        msg.Timestamp,
			},
		},
		Raw: raw,
	}
}

// Shutdown releases nothing; the client has no close.
func (p *Provider) Shutdown(context.Context) error { return nil }

func (p *Provider) newReactor(channel, threadTS string) watcher.Reactor {
	return &reactor{
		api:        p.api,
		channel:    channel,
		threadTS:   threadTS,
		identities: p.identities,
		logger:     p.logger,
		retry:      p.retry,
	}
}

func (p *Provider) cursor(channel string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cursor, ok := p.cursors[channel]; ok {
		return cursor
	}
	return p.now().Add(-time.Duration(p.cfg.InitialLookbackHours) * time.Hour)
}

func (p *Provider) setCursor(channel string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[channel] = t
}

func slackTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func containsMention(text, mention string) bool {
	return len(mention) > len("<@>") && strings.Contains(text, mention)
}

// isTransient classifies slack-go errors for the retry discipline.
func isTransient(err error) bool {
	var rate *slackapi.RateLimitedError
	if errors.As(err, &rate) {
		return true
	}
	var status slackapi.StatusCodeError
	if errors.As(err, &status) {
		return internal.IsTransient(status.Code)
	}
	return false
}
