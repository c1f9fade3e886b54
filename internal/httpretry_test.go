package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestJSONClientRetriesTransient(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := &JSONClient{Retry: fastRetry()}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, &out); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded response")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestJSONClientDoesNotRetryFatal(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := &JSONClient{Retry: fastRetry()}
	if err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, nil); err == nil {
		t.Fatalf("expected error for 403")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	var calls int
	err := WithRetry(context.Background(), fastRetry(), nil, "op", func() (bool, error) {
		calls++
		return true, context.DeadlineExceeded
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, nil, "op", func() (bool, error) {
		return true, context.DeadlineExceeded
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(http.StatusConflict) || !IsTransient(http.StatusTooManyRequests) {
		t.Fatalf("409 and 429 must be transient")
	}
	if IsTransient(http.StatusInternalServerError) || IsTransient(http.StatusForbidden) {
		t.Fatalf("500 and 403 must not be transient")
	}
}
