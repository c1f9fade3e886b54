package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// Handler adapts one provider to HTTP. It acknowledges deliveries with 202
// before any platform API call or subprocess runs; platforms time webhooks
// out aggressively.
type Handler struct {
	provider watcher.Provider
	emit     watcher.EmitFunc
	logger   *log.Logger

	// process runs the asynchronous part. Tests may replace it to run
	// synchronously.
	process func(headers http.Header, payload []byte)
}

// NewHandler builds the HTTP adapter for a provider.
func NewHandler(p watcher.Provider, emit watcher.EmitFunc, logger *log.Logger) *Handler {
	if logger == nil {
		logger = internal.NewLogger("webhook/" + p.Metadata().Name)
	}
	h := &Handler{provider: p, emit: emit, logger: logger}
	h.process = func(headers http.Header, payload []byte) {
		go h.handle(headers, payload)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := h.provider.Metadata().Name
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	internal.IncWebhook(name)

	payload, ok := unwrapPayload(r.Header.Get("Content-Type"), rawBody)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported content type"})
		return
	}

	// Platform handshakes answer immediately: no validation, no dispatch.
	if challenge, ok := handshakeChallenge(payload); ok {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}

	if err := h.provider.ValidateWebhook(r.Header, rawBody); err != nil {
		h.logger.Printf("webhook validation for %s failed: %v", name, err)
		internal.IncValidationFailure(name)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	// Ack first; processing may hit platform APIs and run subprocesses.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	h.process(r.Header.Clone(), payload)
}

func (h *Handler) handle(headers http.Header, payload []byte) {
	name := h.provider.Metadata().Name
	if err := h.provider.HandleWebhook(context.Background(), headers, payload, h.emit); err != nil {
		h.logger.Printf("webhook handling for %s failed: %v", name, err)
	}
}

// unwrapPayload normalizes the body envelope: JSON bodies pass through;
// form-encoded bodies carry the JSON in their "payload" field.
func unwrapPayload(contentType string, rawBody []byte) ([]byte, bool) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	switch mediaType {
	case "application/json", "":
		return rawBody, true
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(rawBody))
		if err != nil {
			return nil, false
		}
		payload := values.Get("payload")
		if payload == "" {
			return nil, false
		}
		return []byte(payload), true
	default:
		return nil, false
	}
}

// handshakeChallenge recognizes the url_verification handshake and extracts
// its challenge.
func handshakeChallenge(payload []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	if probe.Type != "url_verification" {
		return "", false
	}
	return probe.Challenge, true
}
