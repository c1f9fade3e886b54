package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gl "github.com/xanzy/go-gitlab"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

const (
	pollPageSize       = 50
	recentActivityTail = 5
)

// Poll fetches issues and merge requests updated since the per-project
// cursor and emits the actionable ones.
func (p *Provider) Poll(ctx context.Context, emit watcher.EmitFunc) error {
	for _, project := range p.cfg.Projects {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollProject(ctx, project, emit); err != nil {
			return fmt.Errorf("poll %s: %w", project, err)
		}
	}
	return nil
}

func (p *Provider) pollProject(ctx context.Context, project string, emit watcher.EmitFunc) error {
	since := p.cursor(project)
	now := p.now()

	var issues []*gl.Issue
	err := internal.WithRetry(ctx, p.retry, p.logger, "list issues", func() (bool, error) {
		var listErr error
		issues, _, listErr = p.client.Issues.ListProjectIssues(project, &gl.ListProjectIssuesOptions{
			State:        gl.Ptr("opened"),
			UpdatedAfter: &since,
			ListOptions: gl.ListOptions{
				PerPage: pollPageSize,
			},
		}, gl.WithContext(ctx))
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	var mrs []*gl.MergeRequest
	err = internal.WithRetry(ctx, p.retry, p.logger, "list merge requests", func() (bool, error) {
		var listErr error
		mrs, _, listErr = p.client.MergeRequests.ListProjectMergeRequests(project, &gl.ListProjectMergeRequestsOptions{
			State:        gl.Ptr("opened"),
			UpdatedAfter: &since,
			ListOptions: gl.ListOptions{
				PerPage: pollPageSize,
			},
		}, gl.WithContext(ctx))
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
		event := p.normalizePolledIssue(project, issue)
		if ok, reason := internal.ShouldProcess(event, true); !ok {
			p.logger.Printf("dropping %s: %s", event.ID, reason)
			continue
		}
		emit(ctx, event, p.newReactor(project, event.Resource.Number, kindIssue))
	}

	for _, mr := range mrs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := p.normalizePolledMergeRequest(project, mr)
		hasActivity := p.recentHumanActivity(ctx, project, event.Resource.Number)
		if ok, reason := internal.ShouldProcess(event, hasActivity); !ok {
			p.logger.Printf("dropping %s: %s", event.ID, reason)
			continue
		}
		emit(ctx, event, p.newReactor(project, event.Resource.Number, kindMergeRequest))
	}

	p.setCursor(project, now)
	return nil
}

func (p *Provider) normalizePolledIssue(project string, issue *gl.Issue) *internal.Event {
	raw, _ := json.Marshal(issue)
	e := &internal.Event{
		ID:       eventID(project, issue.IID, internal.ActionPoll, fmt.Sprintf("%d", issue.ID), uuid.NewString()),
		Provider: "gitlab",
		Type:     "issue",
		Action:   internal.ActionPoll,
		Resource: internal.Resource{
			Number:      issue.IID,
			Title:       issue.Title,
			Description: issue.Description,
			URL:         issue.WebURL,
			State:       issue.State,
			Repository:  project,
		},
		Metadata: internal.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Polled:    true,
		},
		Raw: raw,
	}
	if issue.Author != nil {
		e.Resource.Author = issue.Author.Username
		e.Actor.Username = issue.Author.Username
	}
	e.Resource.Labels = append(e.Resource.Labels, issue.Labels...)
	return e
}

func (p *Provider) normalizePolledMergeRequest(project string, mr *gl.MergeRequest) *internal.Event {
	raw, _ := json.Marshal(mr)
	e := &internal.Event{
		ID:       eventID(project, mr.IID, internal.ActionPoll, fmt.Sprintf("%d", mr.ID), uuid.NewString()),
		Provider: "gitlab",
		Type:     "merge_request",
		Action:   internal.ActionPoll,
		Resource: internal.Resource{
			Number:      mr.IID,
			Title:       mr.Title,
			Description: mr.Description,
			URL:         mr.WebURL,
			State:       mr.State,
			Repository:  project,
			Branch:      mr.SourceBranch,
			MergeTo:     mr.TargetBranch,
		},
		Metadata: internal.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Polled:    true,
		},
		Raw: raw,
	}
	if mr.Author != nil {
		e.Resource.Author = mr.Author.Username
		e.Actor.Username = mr.Author.Username
	}
	return e
}

// recentHumanActivity reports whether the merge request's notes tail is
// non-empty. Errors fail open.
func (p *Provider) recentHumanActivity(ctx context.Context, project string, iid int) bool {
	var notes []*gl.Note
	err := internal.WithRetry(ctx, p.retry, p.logger, "list notes", func() (bool, error) {
		var listErr error
		notes, _, listErr = p.client.Notes.ListMergeRequestNotes(project, iid, &gl.ListMergeRequestNotesOptions{
			OrderBy: gl.Ptr("created_at"),
			Sort:    gl.Ptr("desc"),
			ListOptions: gl.ListOptions{
				PerPage: recentActivityTail,
			},
		}, gl.WithContext(ctx))
		if listErr != nil {
			return isTransient(listErr), listErr
		}
		return false, nil
	})
	if err != nil {
		p.logger.Printf("activity check for %s!%d failed, assuming active: %v", project, iid, err)
		return true
	}
	return len(notes) > 0
}

func (p *Provider) cursor(project string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cursor, ok := p.cursors[project]; ok {
		return cursor
	}
	return p.now().Add(-time.Duration(p.cfg.InitialLookbackHours) * time.Hour)
}

func (p *Provider) setCursor(project string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[project] = t
}
