package linear

import (
	"context"
	"log"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// reactor is the per-event capability over one issue's comment thread. It
// borrows the provider's API client.
type reactor struct {
	api        *client
	issueID    string
	identities []string
	logger     *log.Logger
}

func (r *reactor) LastComment(ctx context.Context) (*internal.Comment, error) {
	c, err := r.api.lastComment(ctx, r.issueID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	author := c.User.Name
	if author == "" {
		author = c.User.DisplayName
	}
	return &internal.Comment{Body: c.Body, Author: author, URL: c.URL}, nil
}

func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	return r.api.createComment(ctx, r.issueID, body)
}

func (r *reactor) IsBotAuthor(name string) bool {
	return watcher.MatchBotAuthor(r.identities, name)
}
