package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// RetryConfig controls the exponential retry applied to transient platform
// API rejections (HTTP 409, 429).
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches the platform retry discipline: 5 attempts,
// base 1s, cap 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// IsTransient reports whether a status code should be retried.
func IsTransient(status int) bool {
	return status == http.StatusConflict || status == http.StatusTooManyRequests
}

// WithRetry runs op, retrying with exponential backoff while it reports a
// transient failure. op returns (transient, err); a nil err stops the loop,
// as does a non-transient error.
func WithRetry(ctx context.Context, cfg RetryConfig, logger *log.Logger, name string, op func() (bool, error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		transient, err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient || attempt == cfg.MaxAttempts {
			return lastErr
		}
		if logger != nil {
			logger.Printf("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt, cfg.MaxAttempts, backoff, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}

// JSONClient performs JSON requests with the transient-retry policy and a
// fixed header set.
type JSONClient struct {
	Client  *http.Client
	Retry   RetryConfig
	Logger  *log.Logger
	Headers map[string]string
}

func (c *JSONClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// Do sends method/url with payload (marshaled to JSON when non-nil) and
// decodes the response body into out when non-nil. Transient statuses are
// retried; any other non-2xx is an error carrying the response body.
func (c *JSONClient) Do(ctx context.Context, method, url string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = raw
	}
	return WithRetry(ctx, c.Retry, c.Logger, method+" "+url, func() (bool, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return false, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if IsTransient(resp.StatusCode) {
			return true, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return false, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, raw)
		}
		if out == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return false, err
		}
		return false, nil
	})
}
