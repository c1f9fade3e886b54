package internal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionPoll is the sentinel action for items surfaced by polling rather
// than a webhook delivery.
const ActionPoll = "poll"

// Event is the normalized record produced by every provider and consumed
// uniformly downstream.
type Event struct {
	// ID is a globally unique string, stable within the source delivery.
	// Format: {provider}:{resource-key}:{action}:{native-id}:{delivery-or-ts}.
	ID string `json:"id"`
	// Provider is the source name (e.g., "github", "gitlab", "linear", "slack").
	Provider string `json:"provider"`
	// Type is the resource kind (e.g., "issue", "pull_request", "message").
	Type string `json:"type"`
	// Action is the native verb, or ActionPoll for polled items.
	Action string `json:"action"`
	// Resource describes the item the event is about.
	Resource Resource `json:"resource"`
	// Actor is who caused the event.
	Actor Actor `json:"actor"`
	// Metadata carries provenance.
	Metadata Metadata `json:"metadata"`
	// Raw is the source payload, retained verbatim for template rendering.
	// The dispatcher never inspects it.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Resource holds the mandatory and optional facts about the item.
type Resource struct {
	// Number is a small integer handle local to Repository; 0 when the
	// platform has none.
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	State       string `json:"state,omitempty"`
	// Repository is the logical container key: repo full name, project
	// path, team key, or channel id.
	Repository string   `json:"repository"`
	Author     string   `json:"author,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Branch     string   `json:"branch,omitempty"`
	MergeTo    string   `json:"merge_to,omitempty"`
	// Comment is set when the event is a conversation note.
	Comment *Comment `json:"comment,omitempty"`
}

// Comment is a conversation note on a resource.
type Comment struct {
	Body   string `json:"body"`
	Author string `json:"author"`
	URL    string `json:"url,omitempty"`
}

// Actor identifies who caused the event.
type Actor struct {
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
}

// Metadata carries delivery provenance. Extra is an extensible bag for
// provider-specific keys.
type Metadata struct {
	// Timestamp is ISO-8601.
	Timestamp  string            `json:"timestamp"`
	DeliveryID string            `json:"delivery_id,omitempty"`
	Polled     bool              `json:"polled,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Validate checks the invariants every normalized event must satisfy.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is empty")
	}
	if e.Provider == "" {
		return fmt.Errorf("event provider is empty")
	}
	if e.Resource.Repository == "" {
		return fmt.Errorf("event %s has no repository", e.ID)
	}
	return nil
}

// DisplayString renders the resource as "{repository}#{number}", or just the
// repository when the platform has no numeric handle (messaging channels).
func (e *Event) DisplayString() string {
	if e.Resource.Number == 0 {
		return e.Resource.Repository
	}
	return fmt.Sprintf("%s#%d", e.Resource.Repository, e.Resource.Number)
}

// SafeID returns the event id with every character outside [A-Za-z0-9_-]
// replaced by an underscore.
func (e *Event) SafeID() string {
	out := []byte(e.ID)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// ShortID derives a compact handle for the event:
// {provider}-{repository with slashes as dashes}-{number}-{last 6
// alphanumerics of the id, lowercased}.
func (e *Event) ShortID() string {
	repo := strings.ReplaceAll(e.Resource.Repository, "/", "-")
	return fmt.Sprintf("%s-%s-%d-%s", e.Provider, repo, e.Resource.Number, idSuffix(e.ID, 6))
}

func idSuffix(id string, n int) string {
	buf := make([]byte, 0, n)
	for i := len(id) - 1; i >= 0 && len(buf) < n; i-- {
		c := id[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			buf = append(buf, c)
		}
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return strings.ToLower(string(buf))
}
