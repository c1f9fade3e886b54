package github

import (
	"encoding/json"
	"fmt"
	"time"

	ghhook "github.com/go-playground/webhooks/v6/github"

	"agentwatch/internal"
)

// normalizeWebhook maps a native delivery to the common event shape. A nil
// event with nil error means the delivery kind is not one we act on.
func (p *Provider) normalizeWebhook(eventName, deliveryID string, payload []byte) (*internal.Event, error) {
	switch eventName {
	case "issues":
		var native ghhook.IssuesPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, fmt.Errorf("parse issues payload: %w", err)
		}
		return p.normalizeIssue(&native, deliveryID, payload), nil
	case "issue_comment":
		var native ghhook.IssueCommentPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, fmt.Errorf("parse issue_comment payload: %w", err)
		}
		return p.normalizeIssueComment(&native, deliveryID, payload), nil
	case "pull_request":
		var native ghhook.PullRequestPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, fmt.Errorf("parse pull_request payload: %w", err)
		}
		return p.normalizePullRequest(&native, deliveryID, payload), nil
	default:
		return nil, nil
	}
}

func (p *Provider) normalizeIssue(native *ghhook.IssuesPayload, deliveryID string, payload []byte) *internal.Event {
	repo := native.Repository.FullName
	number := int(native.Issue.Number)
	e := &internal.Event{
		ID:       eventID(repo, number, native.Action, fmt.Sprintf("%d", native.Issue.Number), deliveryID),
		Provider: "github",
		Type:     "issue",
		Action:   native.Action,
		Resource: internal.Resource{
			Number:      number,
			Title:       native.Issue.Title,
			Description: native.Issue.Body,
			URL:         native.Issue.HTMLURL,
			State:       native.Issue.State,
			Repository:  repo,
			Author:      native.Issue.User.Login,
		},
		Actor: internal.Actor{
			Username: native.Sender.Login,
			ID:       fmt.Sprintf("%d", native.Sender.ID),
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
	for _, label := range native.Issue.Labels {
		e.Resource.Labels = append(e.Resource.Labels, label.Name)
	}
	return e
}

func (p *Provider) normalizeIssueComment(native *ghhook.IssueCommentPayload, deliveryID string, payload []byte) *internal.Event {
	repo := native.Repository.FullName
	number := int(native.Issue.Number)
	resourceType := "issue"
	if issueIsPullRequest(payload) {
		resourceType = "pull_request"
	}
	action := native.Action
	if action == "created" {
		action = "commented"
	}
	return &internal.Event{
		ID:       eventID(repo, number, action, fmt.Sprintf("%d", native.Comment.ID), deliveryID),
		Provider: "github",
		Type:     resourceType,
		Action:   action,
		Resource: internal.Resource{
			Number:     number,
			Title:      native.Issue.Title,
			URL:        native.Issue.HTMLURL,
			State:      native.Issue.State,
			Repository: repo,
			Author:     native.Issue.User.Login,
			Comment: &internal.Comment{
				Body:   native.Comment.Body,
				Author: native.Comment.User.Login,
				URL:    native.Comment.HTMLURL,
			},
		},
		Actor: internal.Actor{
			Username: native.Sender.Login,
			ID:       fmt.Sprintf("%d", native.Sender.ID),
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
}

func (p *Provider) normalizePullRequest(native *ghhook.PullRequestPayload, deliveryID string, payload []byte) *internal.Event {
	repo := native.Repository.FullName
	number := int(native.Number)
	return &internal.Event{
		ID:       eventID(repo, number, native.Action, fmt.Sprintf("%d", native.Number), deliveryID),
		Provider: "github",
		Type:     "pull_request",
		Action:   native.Action,
		Resource: internal.Resource{
			Number:      number,
			Title:       native.PullRequest.Title,
			Description: native.PullRequest.Body,
			URL:         native.PullRequest.HTMLURL,
			State:       native.PullRequest.State,
			Repository:  repo,
			Author:      native.PullRequest.User.Login,
			Branch:      native.PullRequest.Head.Ref,
			MergeTo:     native.PullRequest.Base.Ref,
		},
		Actor: internal.Actor{
			Username: native.Sender.Login,
			ID:       fmt.Sprintf("%d", native.Sender.ID),
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
}

func eventID(repo string, number int, action, nativeID, deliveryOrTS string) string {
	return fmt.Sprintf("github:%s#%d:%s:%s:%s", repo, number, action, nativeID, deliveryOrTS)
}

// issueIsPullRequest probes the raw payload for issue.pull_request, which
// GitHub sets on comments that belong to a pull request.
func issueIsPullRequest(payload []byte) bool {
	var probe struct {
		Issue struct {
			PullRequest json.RawMessage `json:"pull_request"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return len(probe.Issue.PullRequest) > 0 && string(probe.Issue.PullRequest) != "null"
}
