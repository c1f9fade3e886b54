package gitlab

import (
	"encoding/json"
	"fmt"
	"time"

	glhook "github.com/go-playground/webhooks/v6/gitlab"
	"github.com/google/uuid"

	"agentwatch/internal"
)

// resourceKind selects the notes API used by the reactor.
type resourceKind int

const (
	kindIssue resourceKind = iota
	kindMergeRequest
)

// normalizeWebhook maps a native delivery to the common event shape and the
// resource kind for the reactor. A nil event with nil error means the
// delivery kind is not one we act on.
func (p *Provider) normalizeWebhook(eventName, deliveryID string, payload []byte) (*internal.Event, resourceKind, error) {
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	switch eventName {
	case "Issue Hook":
		var native glhook.IssueEventPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, kindIssue, fmt.Errorf("parse issue payload: %w", err)
		}
		return p.normalizeIssue(&native, deliveryID, payload), kindIssue, nil
	case "Merge Request Hook":
		var native glhook.MergeRequestEventPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, kindMergeRequest, fmt.Errorf("parse merge request payload: %w", err)
		}
		return p.normalizeMergeRequest(&native, deliveryID, payload), kindMergeRequest, nil
	case "Note Hook":
		var native glhook.CommentEventPayload
		if err := json.Unmarshal(payload, &native); err != nil {
			return nil, kindIssue, fmt.Errorf("parse note payload: %w", err)
		}
		event, kind := p.normalizeNote(&native, deliveryID, payload)
		return event, kind, nil
	default:
		return nil, kindIssue, nil
	}
}

func (p *Provider) normalizeIssue(native *glhook.IssueEventPayload, deliveryID string, payload []byte) *internal.Event {
	project := native.Project.PathWithNamespace
	iid := int(native.ObjectAttributes.IID)
	return &internal.Event{
		ID:       eventID(project, iid, native.ObjectAttributes.Action, fmt.Sprintf("%d", native.ObjectAttributes.ID), deliveryID),
		Provider: "gitlab",
		Type:     "issue",
		Action:   native.ObjectAttributes.Action,
		Resource: internal.Resource{
			Number:      iid,
			Title:       native.ObjectAttributes.Title,
			Description: native.ObjectAttributes.Description,
			URL:         native.ObjectAttributes.URL,
			State:       native.ObjectAttributes.State,
			Repository:  project,
		},
		Actor: internal.Actor{
			Username: native.User.UserName,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
}

func (p *Provider) normalizeMergeRequest(native *glhook.MergeRequestEventPayload, deliveryID string, payload []byte) *internal.Event {
	project := native.Project.PathWithNamespace
	iid := int(native.ObjectAttributes.IID)
	return &internal.Event{
		ID:       eventID(project, iid, native.ObjectAttributes.Action, fmt.Sprintf("%d", native.ObjectAttributes.ID), deliveryID),
		Provider: "gitlab",
		Type:     "merge_request",
		Action:   native.ObjectAttributes.Action,
		Resource: internal.Resource{
			Number:      iid,
			Title:       native.ObjectAttributes.Title,
			Description: native.ObjectAttributes.Description,
			URL:         native.ObjectAttributes.URL,
			State:       native.ObjectAttributes.State,
			Repository:  project,
			Branch:      native.ObjectAttributes.SourceBranch,
			MergeTo:     native.ObjectAttributes.TargetBranch,
		},
		Actor: internal.Actor{
			Username: native.User.UserName,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
}

func (p *Provider) normalizeNote(native *glhook.CommentEventPayload, deliveryID string, payload []byte) (*internal.Event, resourceKind) {
	project := native.Project.PathWithNamespace
	comment := &internal.Comment{
		Body:   native.ObjectAttributes.Note,
		Author: native.User.UserName,
		URL:    native.ObjectAttributes.URL,
	}

	kind := kindIssue
	resourceType := "issue"
	var iid int
	var title, state string
	switch native.ObjectAttributes.NotebookType {
	case "MergeRequest":
		kind = kindMergeRequest
		resourceType = "merge_request"
		iid = int(native.MergeRequest.IID)
		title = native.MergeRequest.Title
		state = native.MergeRequest.State
	case "Issue":
		iid = int(native.Issue.IID)
		title = native.Issue.Title
		state = native.Issue.State
	default:
		return nil, kindIssue
	}

	return &internal.Event{
		ID:       eventID(project, iid, "commented", fmt.Sprintf("%d", native.ObjectAttributes.ID), deliveryID),
		Provider: "gitlab",
		Type:     resourceType,
		Action:   "commented",
		Resource: internal.Resource{
			Number:     iid,
			Title:      title,
			State:      state,
			Repository: project,
			Comment:    comment,
		},
		Actor: internal.Actor{
			Username: native.User.UserName,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}, kind
}

func eventID(project string, iid int, action, nativeID, deliveryOrTS string) string {
	return fmt.Sprintf("gitlab:%s#%d:%s:%s:%s", project, iid, action, nativeID, deliveryOrTS)
}
