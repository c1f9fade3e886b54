package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

type stubDispatcher struct {
	regs []watcher.Registration
}

func (d *stubDispatcher) Registrations() []watcher.Registration { return d.regs }

func (d *stubDispatcher) EventHandler(string) watcher.EmitFunc {
	return func(context.Context, *internal.Event, watcher.Reactor) {}
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	var cfg internal.Config
	cfg.Server.Port = 0

	dispatcher := &stubDispatcher{
		regs: []watcher.Registration{
			{Provider: &stubProvider{name: "github"}, Config: internal.ProviderConfig{Enabled: true}},
		},
	}
	s := NewServer(cfg, dispatcher, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return s
}

func TestServerHealth(t *testing.T) {
	s := startTestServer(t)
	defer s.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected health body %q", body)
	}
}

func TestServerRoutesWebhook(t *testing.T) {
	s := startTestServer(t)
	defer s.Stop(context.Background())

	resp, err := http.Post(
		fmt.Sprintf("http://%s/webhook/github", s.Addr()),
		"application/json",
		strings.NewReader(`{"action":"created"}`),
	)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestServerRejectsWhileDraining(t *testing.T) {
	s := startTestServer(t)
	defer s.Stop(context.Background())

	s.draining.Store(true)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/webhook/github", s.Addr()),
		"application/json",
		strings.NewReader(`{}`),
	)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}

	// Health stays reachable while the socket accepts.
	health, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy while draining, got %d", health.StatusCode)
	}
}

func TestServerStopClosesListener(t *testing.T) {
	s := startTestServer(t)
	addr := s.Addr()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	client := http.Client{Timeout: time.Second}
	if _, err := client.Get(fmt.Sprintf("http://%s/health", addr)); err == nil {
		t.Fatalf("expected closed listener")
	}
}
