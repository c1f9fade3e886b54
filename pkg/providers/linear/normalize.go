package linear

import (
	"encoding/json"
	"strings"
	"time"

	"agentwatch/internal"
)

// issueData is the webhook "data" object for Issue deliveries. Linear sends
// the full issue with nested team and state.
type issueData struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
	Team struct {
		Key string `json:"key"`
	} `json:"team"`
	Assignee *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Creator *struct {
		Name string `json:"name"`
	} `json:"creator"`
}

// commentData is the webhook "data" object for Comment deliveries.
type commentData struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	URL     string `json:"url"`
	IssueID string `json:"issueId"`
	Issue   struct {
		ID         string `json:"id"`
		Identifier string `json:"identifier"`
		Number     int    `json:"number"`
		Title      string `json:"title"`
	} `json:"issue"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (p *Provider) normalizeIssueEvent(envelope *webhookPayload, deliveryID string, payload []byte) (*internal.Event, string) {
	var data issueData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		p.logger.Printf("parse issue data: %v", err)
		return nil, ""
	}

	action := envelope.Action
	switch action {
	case "create":
		action = "created"
	case "remove":
		return nil, ""
	}

	team := data.Team.Key
	if team == "" {
		team = teamFromIdentifier(data.Identifier)
	}
	e := &internal.Event{
		ID:       eventID(team, data.Number, action, data.ID, deliveryID),
		Provider: "linear",
		Type:     "issue",
		Action:   action,
		Resource: internal.Resource{
			Number:      data.Number,
			Title:       data.Title,
			Description: data.Description,
			URL:         data.URL,
			State:       data.State.Name,
			Repository:  team,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
	if data.Creator != nil {
		e.Resource.Author = data.Creator.Name
		e.Actor.Username = data.Creator.Name
	}
	if data.Assignee != nil {
		e.Resource.Assignees = []string{data.Assignee.Name}
	}
	return e, data.ID
}

func (p *Provider) normalizeCommentEvent(envelope *webhookPayload, deliveryID string, payload []byte) (*internal.Event, string) {
	if envelope.Action != "create" {
		return nil, ""
	}
	var data commentData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		p.logger.Printf("parse comment data: %v", err)
		return nil, ""
	}
	issueID := data.IssueID
	if issueID == "" {
		issueID = data.Issue.ID
	}

	team := teamFromIdentifier(data.Issue.Identifier)
	e := &internal.Event{
		ID:       eventID(team, data.Issue.Number, "commented", data.ID, deliveryID),
		Provider: "linear",
		Type:     "issue",
		Action:   "commented",
		Resource: internal.Resource{
			Number:     data.Issue.Number,
			Title:      data.Issue.Title,
			Repository: team,
			Comment: &internal.Comment{
				Body:   data.Body,
				Author: data.User.Name,
				URL:    data.URL,
			},
		},
		Actor: internal.Actor{
			Username: data.User.Name,
		},
		Metadata: internal.Metadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
		},
		Raw: json.RawMessage(payload),
	}
	return e, issueID
}

func (p *Provider) normalizePolled(team string, item *issue) *internal.Event {
	raw, _ := json.Marshal(item)
	e := &internal.Event{
		ID:       eventID(team, item.Number, internal.ActionPoll, item.ID, ""),
		Provider: "linear",
		Type:     "issue",
		Action:   internal.ActionPoll,
		Resource: internal.Resource{
			Number:      item.Number,
			Title:       item.Title,
			Description: item.Description,
			URL:         item.URL,
			State:       item.State.Name,
			Repository:  team,
		},
		Metadata: internal.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Polled:    true,
		},
		Raw: raw,
	}
	if item.Creator != nil {
		name := item.Creator.Name
		if name == "" {
			name = item.Creator.DisplayName
		}
		e.Resource.Author = name
		e.Actor.Username = name
	}
	if item.Assignee != nil {
		name := item.Assignee.Name
		if name == "" {
			name = item.Assignee.DisplayName
		}
		e.Resource.Assignees = []string{name}
	}
	return e
}

// teamFromIdentifier extracts the team key from an identifier like ENG-123.
func teamFromIdentifier(identifier string) string {
	if i := strings.IndexByte(identifier, '-'); i > 0 {
		return identifier[:i]
	}
	return identifier
}
