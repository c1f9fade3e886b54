package github

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	pollPageSize       = 50
	recentActivityTail = 5
)

// Poll fetches issues and pull requests updated since the per-repository
// cursor and emits the actionable ones. Cursors advance to the fetch time
// only after that repository's fetch succeeds.
func (p *Provider) Poll(ctx context.Context, emit watcher.EmitFunc) error {
	for _, fullName := range p.cfg.Repositories {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollRepo(ctx, fullName, emit); err != nil {
			return fmt.Errorf("poll %s: %w", fullName, err)
		}
	}
	return nil
}

func (p *Provider) pollRepo(ctx context.Context, fullName string, emit watcher.EmitFunc) error {
	owner, repo, err := splitRepo(fullName)
	if err != nil {
		return err
	}

	since := p.cursor(fullName)
	now := p.now()

	var issues []*gh.Issue
	err = internal.WithRetry(ctx, p.retry, p.logger, "list issues", func() (bool, error) {
		var listErr error
		issues, _, listErr = p.client.Issues.ListByRepo(ctx, owner, repo, &gh.IssueListByRepoOptions{
			State:     "open",
			Since:     since,
			Sort:      "updated",
			Direction: "desc",
			ListOptions: gh.ListOptions{
				PerPage: pollPageSize,
			},
		})
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	for _, issue := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := p.normalizePolled(fullName, issue)
		hasActivity := true
		if event.Type == "pull_request" {
			hasActivity = p.recentHumanActivity(ctx, owner, repo, event.Resource.Number)
		}
		if ok, reason := internal.ShouldProcess(event, hasActivity); !ok {
			p.logger.Printf("dropping %s: %s", event.ID, reason)
			continue
		}
		emit(ctx, event, p.newReactor(owner, repo, event.Resource.Number))
	}

	p.setCursor(fullName, now)
	return nil
}

func (p *Provider) normalizePolled(fullName string, issue *gh.Issue) *internal.Event {
	resourceType := "issue"
	if issue.IsPullRequest() {
		resourceType = "pull_request"
	}
	number := issue.GetNumber()
	raw, _ := json.Marshal(issue)
	e := &internal.Event{
		ID:       eventID(fullName, number, internal.ActionPoll, fmt.Sprintf("%d", number), uuid.NewString()),
		Provider: "github",
		Type:     resourceType,
		Action:   internal.ActionPoll,
		Resource: internal.Resource{
			Number:      number,
			Title:       issue.GetTitle(),
			Description: issue.GetBody(),
			URL:         issue.GetHTMLURL(),
			State:       issue.GetState(),
			Repository:  fullName,
			Author:      issue.GetUser().GetLogin(),
		},
		Actor: internal.Actor{
			Username: issue.GetUser().GetLogin(),
		},
		Metadata: internal.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Polled:    true,
		},
		Raw: raw,
	}
	for _, label := range issue.Labels {
		e.Resource.Labels = append(e.Resource.Labels, label.GetName())
	}
	for _, assignee := range issue.Assignees {
		e.Resource.Assignees = append(e.Resource.Assignees, assignee.GetLogin())
	}
	return e
}

// recentHumanActivity reports whether the tail of the conversation has any
// comments at all. Errors fail open: the duplicate check still fails closed
// on the bot loop.
func (p *Provider) recentHumanActivity(ctx context.Context, owner, repo string, number int) bool {
	var comments []*gh.IssueComment
	err := internal.WithRetry(ctx, p.retry, p.logger, "list comments", func() (bool, error) {
		var listErr error
		comments, _, listErr = p.client.Issues.ListComments(ctx, owner, repo, number, &gh.IssueListCommentsOptions{
			Sort:      gh.String("created"),
			Direction: gh.String("desc"),
			ListOptions: gh.ListOptions{
				PerPage: recentActivityTail,
			},
		})
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		p.logger.Printf("activity check for %s/%s#%d failed, assuming active: %v", owner, repo, number, err)
		return true
	}
	return len(comments) > 0
}

func (p *Provider) cursor(repo string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cursor, ok := p.cursors[repo]; ok {
		return cursor
	}
	return p.now().Add(-time.Duration(p.cfg.InitialLookbackHours) * time.Hour)
}

func (p *Provider) setCursor(repo string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[repo] = t
}
