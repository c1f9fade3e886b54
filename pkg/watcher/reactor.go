package watcher

import (
	"context"

	"agentwatch/internal"
)

// Reactor is the per-event capability the dispatcher uses to inspect and
// mutate the thread of conversation on a resource. It borrows the owning
// provider's API client and must not be retained past the event handler.
type Reactor interface {
	// LastComment returns the final comment on the resource's thread, or
	// nil when the thread is empty.
	LastComment(ctx context.Context) (*internal.Comment, error)

	// PostComment appends a comment to the thread and returns an opaque
	// handle for it.
	PostComment(ctx context.Context, body string) (string, error)

	// IsBotAuthor reports whether the candidate author is one of the
	// identities the watcher's comments may appear under.
	IsBotAuthor(name string) bool
}

// MatchBotAuthor is the exact, case-sensitive identity match shared by the
// reactor implementations.
func MatchBotAuthor(identities []string, name string) bool {
	for _, id := range identities {
		if id == name {
			return true
		}
	}
	return false
}
