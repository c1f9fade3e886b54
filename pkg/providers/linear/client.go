package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"agentwatch/internal"
)

const defaultEndpoint = "https://api.linear.app/graphql"

// client is a minimal Linear GraphQL client covering the watcher's needs:
// issue listing for the poller and the comment thread for the reactor.
type client struct {
	http     *internal.JSONClient
	endpoint string
}

func newClient(apiKey, baseURL string, retry internal.RetryConfig, logger *log.Logger) *client {
	endpoint := baseURL
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &client{
		endpoint: endpoint,
		http: &internal.JSONClient{
			Client: &http.Client{Timeout: 30 * time.Second},
			Retry:  retry,
			Logger: logger,
			Headers: map[string]string{
				"Authorization": apiKey,
			},
		},
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// issue mirrors the fields the normalizer consumes.
type issue struct {
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
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Creator *struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"creator"`
}

type comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	URL  string `json:"url"`
	User struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

func (c *client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := c.http.Do(ctx, http.MethodPost, c.endpoint, graphQLRequest{Query: query, Variables: variables}, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear api: %s", envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// issuesUpdatedSince lists a team's issues updated after since.
func (c *client) issuesUpdatedSince(ctx context.Context, teamKey string, since time.Time, limit int) ([]issue, error) {
	const q = `query($team: String!, $since: DateTimeOrDuration!, $first: Int!) {
  issues(filter: {team: {key: {eq: $team}}, updatedAt: {gt: $since}}, first: $first) {
    nodes {
      id identifier number title description url
      state { name type }
      team { key }
      assignee { name displayName }
      creator { name displayName }
    }
  }
}`
	var data struct {
		Issues struct {
			Nodes []issue `json:"nodes"`
		} `json:"issues"`
	}
	err := c.query(ctx, q, map[string]interface{}{
		"team":  teamKey,
		"since": since.UTC().Format(time.RFC3339),
		"first": limit,
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.Issues.Nodes, nil
}

// lastComment returns the final comment on an issue, or nil.
func (c *client) lastComment(ctx context.Context, issueID string) (*comment, error) {
	const q = `query($id: String!) {
  issue(id: $id) {
    comments(last: 1) {
      nodes { id body url user { name displayName } }
    }
  }
}`
	var data struct {
		Issue struct {
			Comments struct {
				Nodes []comment `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	if err := c.query(ctx, q, map[string]interface{}{"id": issueID}, &data); err != nil {
		return nil, err
	}
	nodes := data.Issue.Comments.Nodes
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[len(nodes)-1], nil
}

// createComment appends a comment to an issue and returns its id.
func (c *client) createComment(ctx context.Context, issueID, body string) (string, error) {
	const q = `mutation($id: String!, $body: String!) {
  commentCreate(input: {issueId: $id, body: $body}) {
    success
    comment { id }
  }
}`
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := c.query(ctx, q, map[string]interface{}{"id": issueID, "body": body}, &data); err != nil {
		return "", err
	}
	if !data.CommentCreate.Success {
		return "", fmt.Errorf("linear api: comment create rejected")
	}
	return data.CommentCreate.Comment.ID, nil
}
