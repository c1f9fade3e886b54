package github

import (
	"context"
	"fmt"
	"log"

	gh "github.com/google/go-github/v57/github"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// reactor is the per-event capability over one issue or pull request
// thread. It borrows the provider's client.
type reactor struct {
	client     *gh.Client
	owner      string
	repo       string
	number     int
	identities []string
	logger     *log.Logger
	retry      internal.RetryConfig
}

func (r *reactor) LastComment(ctx context.Context) (*internal.Comment, error) {
	var comments []*gh.IssueComment
	err := internal.WithRetry(ctx, r.retry, r.logger, "last comment", func() (bool, error) {
		var listErr error
		comments, _, listErr = r.client.Issues.ListComments(ctx, r.owner, r.repo, r.number, &gh.IssueListCommentsOptions{
			Sort:      gh.String("created"),
			Direction: gh.String("desc"),
			ListOptions: gh.ListOptions{
				PerPage: 1,
			},
		})
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, nil
	}
	c := comments[0]
	return &internal.Comment{
		Body:   c.GetBody(),
		Author: c.GetUser().GetLogin(),
		URL:    c.GetHTMLURL(),
	}, nil
}

func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var created *gh.IssueComment
	err := internal.WithRetry(ctx, r.retry, r.logger, "post comment", func() (bool, error) {
		var postErr error
		created, _, postErr = r.client.Issues.CreateComment(ctx, r.owner, r.repo, r.number, &gh.IssueComment{
			Body: gh.String(body),
		})
		if postErr != nil {
			return isTransient(postErr), postErr
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", created.GetID()), nil
}

func (r *reactor) IsBotAuthor(name string) bool {
	return watcher.MatchBotAuthor(r.identities, name)
}
