/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/rs/zerolog"
)

// Client is a typed façade over the Linear GraphQL API. The portal core
// treats it as an opaque paginated, filterable issue store.
type Client struct {
	url        string
	key        string
	fileExpiry string
	http       *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		url:        cfg.LinearAPIURL,
		key:        cfg.LinearAPIKey,
		fileExpiry: strconv.Itoa(cfg.LinearFileURLExpiry),
		http:       &http.Client{Timeout: cfg.HTTPTimeout},
		log:        log,
	}
}

// Filter scopes issue queries to one team and optionally one project.
type Filter struct {
	TeamID    string
	ProjectID string
}

type IssuePage struct {
	Nodes    []domain.TicketSnapshot
	PageInfo domain.PageInfo
}

type ActivityComment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type ActivityIssue struct {
	ID         string
	Identifier string
	Title      string
	UpdatedAt  *time.Time
	Comments   []ActivityComment
}

type Viewer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type IssueCreateInput struct {
	TeamID      string
	ProjectID   string
	Title       string
	Description string
	Priority    *int
	DueDate     string
}

const issueFields = `
        id
        identifier
        title
        description
        dueDate
        url
        priority
        updatedAt
        createdAt
        state { id name type color }
        assignee { name }
        project { name }`

const boardIssuesQuery = `
  query BoardIssues($teamId: ID!, $first: Int!, $after: String) {
    issues(first: $first, after: $after, filter: { team: { id: { eq: $teamId } } }) {
      nodes {` + issueFields + `
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
`

const projectBoardIssuesQuery = `
  query ProjectBoardIssues($teamId: ID!, $projectId: ID!, $first: Int!, $after: String) {
    issues(
      first: $first
      after: $after
      filter: {
        team: { id: { eq: $teamId } }
        project: { id: { eq: $projectId } }
      }
    ) {
      nodes {` + issueFields + `
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
`

const boardActivityQuery = `
  query BoardActivity($teamId: ID!, $first: Int!) {
    issues(first: $first, filter: { team: { id: { eq: $teamId } } }) {
      nodes {
        id
        identifier
        title
        updatedAt
        comments(first: 15) {
          nodes {
            id
            body
            createdAt
          }
        }
      }
    }
  }
`

const projectBoardActivityQuery = `
  query ProjectBoardActivity($teamId: ID!, $projectId: ID!, $first: Int!) {
    issues(
      first: $first
      filter: {
        team: { id: { eq: $teamId } }
        project: { id: { eq: $projectId } }
      }
    ) {
      nodes {
        id
        identifier
        title
        updatedAt
        comments(first: 15) {
          nodes {
            id
            body
            createdAt
          }
        }
      }
    }
  }
`

const workflowStatesQuery = `
  query WorkflowStates($teamId: ID!) {
    workflowStates(filter: { team: { id: { eq: $teamId } } }) {
      nodes { id name type color }
    }
  }
`

const issueQuery = `
  query Issue($id: String!) {
    issue(id: $id) {` + issueFields + `
    }
  }
`

const issueCommentsQuery = `
  query IssueComments($id: String!) {
    issue(id: $id) {
      comments {
        nodes {
          id
          body
          createdAt
          user { name }
        }
      }
    }
  }
`

const issueAttachmentsQuery = `
  query IssueAttachments($id: String!) {
    issue(id: $id) {
      attachments {
        nodes { id title url createdAt }
      }
    }
  }
`

const commentCreateMutation = `
  mutation CommentCreate($issueId: String!, $body: String!) {
    commentCreate(input: { issueId: $issueId, body: $body }) {
      success
      comment {
        id
        body
        createdAt
        user { name }
      }
    }
  }
`

const issueCreateMutation = `
  mutation IssueCreate($input: IssueCreateInput!) {
    issueCreate(input: $input) {
      success
      issue { id identifier }
    }
  }
`

const viewerQuery = `
  query Viewer {
    viewer { name email }
  }
`

type gqlError struct {
	Message string `json:"message"`
}

// doGraphQL posts one GraphQL request and decodes the data envelope into out.
// Retries on 429/5xx with backoff; other failure modes surface immediately.
func (c *Client) doGraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	if c.url == "" { return domain.E(domain.KindConfiguration, "linear: empty api url") }
	if strings.TrimSpace(c.key) == "" { return domain.E(domain.KindConfiguration, "linear: missing api key") }
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil { return domain.Wrap(domain.KindUpstream, "linear: encode request", err) }
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil { return domain.Wrap(domain.KindUpstream, "linear: build request", err) }
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.key)
		// Request signed, temporary URLs for uploads.linear.app so images load in the browser.
		req.Header.Set("public-file-urls-expire-in", c.fileExpiry)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
			continue
		}
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("linear api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
			time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
			continue
		}
		if resp.StatusCode >= 300 {
			return domain.Ef(domain.KindUpstream, "linear api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []gqlError      `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return domain.Wrap(domain.KindUpstream, "linear: decode response", err)
		}
		if len(envelope.Errors) > 0 {
			return domain.Ef(domain.KindUpstream, "linear api error: %s", envelope.Errors[0].Message)
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return domain.Wrap(domain.KindUpstream, "linear: decode data", err)
			}
		}
		return nil
	}
	return domain.Wrap(domain.KindUpstream, "linear request failed", lastErr)
}

type issueNode struct {
	ID          string                `json:"id"`
	Identifier  string                `json:"identifier"`
	Title       string                `json:"title"`
	Description *string               `json:"description"`
	DueDate     *string               `json:"dueDate"`
	URL         *string               `json:"url"`
	Priority    *int                  `json:"priority"`
	CreatedAt   *time.Time            `json:"createdAt"`
	UpdatedAt   *time.Time            `json:"updatedAt"`
	State       *domain.WorkflowState `json:"state"`
	Assignee    *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Project *struct {
		Name string `json:"name"`
	} `json:"project"`
}

func (n issueNode) snapshot() domain.TicketSnapshot {
	s := domain.TicketSnapshot{
		ID:         n.ID,
		Identifier: n.Identifier,
		Title:      n.Title,
		Priority:   n.Priority,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		State:      n.State,
	}
	if n.Description != nil { s.Description = *n.Description }
	if n.DueDate != nil { s.DueDate = *n.DueDate }
	if n.URL != nil { s.URL = *n.URL }
	if n.Assignee != nil { s.AssigneeName = n.Assignee.Name }
	if n.Project != nil { s.ProjectName = n.Project.Name }
	return s
}

func issueVars(f Filter, extra map[string]any) map[string]any {
	vars := map[string]any{"teamId": f.TeamID}
	if f.ProjectID != "" { vars["projectId"] = f.ProjectID }
	for k, v := range extra { vars[k] = v }
	return vars
}

// ListIssues returns one page of issue snapshots for the filter, newest
// cursor semantics per the upstream API.
func (c *Client) ListIssues(ctx context.Context, f Filter, first int, after string) (IssuePage, error) {
	if f.TeamID == "" { return IssuePage{}, domain.E(domain.KindValidation, "linear: empty team id") }
	query := boardIssuesQuery
	if f.ProjectID != "" { query = projectBoardIssuesQuery }
	vars := issueVars(f, map[string]any{"first": first})
	if after != "" { vars["after"] = after } else { vars["after"] = nil }
	var out struct {
		Issues struct {
			Nodes    []issueNode `json:"nodes"`
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	}
	if err := c.doGraphQL(ctx, query, vars, &out); err != nil { return IssuePage{}, err }
	page := IssuePage{Nodes: make([]domain.TicketSnapshot, 0, len(out.Issues.Nodes))}
	for _, n := range out.Issues.Nodes { page.Nodes = append(page.Nodes, n.snapshot()) }
	page.PageInfo.HasNextPage = out.Issues.PageInfo.HasNextPage
	if out.Issues.PageInfo.EndCursor != nil { page.PageInfo.EndCursor = *out.Issues.PageInfo.EndCursor }
	return page, nil
}

// ListActivityIssues returns recent issues with their most recent comments
// embedded. This is a recency feed, not an exhaustive export.
func (c *Client) ListActivityIssues(ctx context.Context, f Filter, first int) ([]ActivityIssue, error) {
	if f.TeamID == "" { return nil, domain.E(domain.KindValidation, "linear: empty team id") }
	query := boardActivityQuery
	if f.ProjectID != "" { query = projectBoardActivityQuery }
	var out struct {
		Issues struct {
			Nodes []struct {
				ID         string     `json:"id"`
				Identifier string     `json:"identifier"`
				Title      string     `json:"title"`
				UpdatedAt  *time.Time `json:"updatedAt"`
				Comments   struct {
					Nodes []ActivityComment `json:"nodes"`
				} `json:"comments"`
			} `json:"nodes"`
		} `json:"issues"`
	}
	if err := c.doGraphQL(ctx, query, issueVars(f, map[string]any{"first": first}), &out); err != nil { return nil, err }
	issues := make([]ActivityIssue, 0, len(out.Issues.Nodes))
	for _, n := range out.Issues.Nodes {
		issues = append(issues, ActivityIssue{
			ID:         n.ID,
			Identifier: n.Identifier,
			Title:      n.Title,
			UpdatedAt:  n.UpdatedAt,
			Comments:   n.Comments.Nodes,
		})
	}
	return issues, nil
}

func (c *Client) ListWorkflowStates(ctx context.Context, teamID string) ([]domain.WorkflowState, error) {
	if teamID == "" { return nil, domain.E(domain.KindValidation, "linear: empty team id") }
	var out struct {
		WorkflowStates struct {
			Nodes []domain.WorkflowState `json:"nodes"`
		} `json:"workflowStates"`
	}
	if err := c.doGraphQL(ctx, workflowStatesQuery, map[string]any{"teamId": teamID}, &out); err != nil { return nil, err }
	return out.WorkflowStates.Nodes, nil
}

func (c *Client) Issue(ctx context.Context, issueID string) (domain.TicketSnapshot, error) {
	if issueID == "" { return domain.TicketSnapshot{}, domain.E(domain.KindValidation, "linear: empty issue id") }
	var out struct {
		Issue *issueNode `json:"issue"`
	}
	if err := c.doGraphQL(ctx, issueQuery, map[string]any{"id": issueID}, &out); err != nil { return domain.TicketSnapshot{}, err }
	if out.Issue == nil { return domain.TicketSnapshot{}, domain.E(domain.KindNotFound, "issue not found") }
	return out.Issue.snapshot(), nil
}

func (c *Client) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	if issueID == "" { return nil, domain.E(domain.KindValidation, "linear: empty issue id") }
	var out struct {
		Issue *struct {
			Comments struct {
				Nodes []struct {
					ID        string    `json:"id"`
					Body      string    `json:"body"`
					CreatedAt time.Time `json:"createdAt"`
					User      *struct {
						Name string `json:"name"`
					} `json:"user"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	if err := c.doGraphQL(ctx, issueCommentsQuery, map[string]any{"id": issueID}, &out); err != nil { return nil, err }
	if out.Issue == nil { return nil, domain.E(domain.KindNotFound, "issue not found") }
	comments := make([]domain.Comment, 0, len(out.Issue.Comments.Nodes))
	for _, n := range out.Issue.Comments.Nodes {
		name := "Unknown"
		if n.User != nil && n.User.Name != "" { name = n.User.Name }
		comments = append(comments, domain.Comment{ID: n.ID, Body: n.Body, CreatedAt: n.CreatedAt, UserName: name})
	}
	return comments, nil
}

func (c *Client) ListAttachments(ctx context.Context, issueID string) ([]domain.Attachment, error) {
	if issueID == "" { return nil, domain.E(domain.KindValidation, "linear: empty issue id") }
	var out struct {
		Issue *struct {
			Attachments struct {
				Nodes []struct {
					ID        string    `json:"id"`
					Title     *string   `json:"title"`
					URL       string    `json:"url"`
					CreatedAt time.Time `json:"createdAt"`
				} `json:"nodes"`
			} `json:"attachments"`
		} `json:"issue"`
	}
	if err := c.doGraphQL(ctx, issueAttachmentsQuery, map[string]any{"id": issueID}, &out); err != nil { return nil, err }
	if out.Issue == nil { return nil, domain.E(domain.KindNotFound, "issue not found") }
	atts := make([]domain.Attachment, 0, len(out.Issue.Attachments.Nodes))
	for _, n := range out.Issue.Attachments.Nodes {
		a := domain.Attachment{ID: n.ID, URL: n.URL, CreatedAt: n.CreatedAt}
		if n.Title != nil { a.Title = *n.Title }
		atts = append(atts, a)
	}
	return atts, nil
}

// CreateComment posts a raw body. Marker wrapping is the caller's concern.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) (domain.Comment, error) {
	if issueID == "" { return domain.Comment{}, domain.E(domain.KindValidation, "linear: empty issue id") }
	var out struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment *struct {
				ID        string    `json:"id"`
				Body      string    `json:"body"`
				CreatedAt time.Time `json:"createdAt"`
				User      *struct {
					Name string `json:"name"`
				} `json:"user"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := c.doGraphQL(ctx, commentCreateMutation, map[string]any{"issueId": issueID, "body": body}, &out); err != nil {
		return domain.Comment{}, err
	}
	if !out.CommentCreate.Success || out.CommentCreate.Comment == nil {
		return domain.Comment{}, domain.E(domain.KindUpstream, "failed to create comment")
	}
	n := out.CommentCreate.Comment
	name := "You"
	if n.User != nil && n.User.Name != "" { name = n.User.Name }
	return domain.Comment{ID: n.ID, Body: n.Body, CreatedAt: n.CreatedAt, UserName: name}, nil
}

func (c *Client) CreateIssue(ctx context.Context, in IssueCreateInput) (string, error) {
	if in.TeamID == "" { return "", domain.E(domain.KindValidation, "linear: empty team id") }
	input := map[string]any{
		"teamId":      in.TeamID,
		"title":       in.Title,
		"description": in.Description,
	}
	if in.ProjectID != "" { input["projectId"] = in.ProjectID }
	if in.Priority != nil { input["priority"] = *in.Priority }
	if in.DueDate != "" { input["dueDate"] = in.DueDate }
	var out struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   *struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.doGraphQL(ctx, issueCreateMutation, map[string]any{"input": input}, &out); err != nil { return "", err }
	if !out.IssueCreate.Success || out.IssueCreate.Issue == nil {
		return "", domain.E(domain.KindUpstream, "failed to create issue")
	}
	return out.IssueCreate.Issue.ID, nil
}

// CheckConnection verifies the configured API key against the viewer query.
func (c *Client) CheckConnection(ctx context.Context) (Viewer, error) {
	var out struct {
		Viewer Viewer `json:"viewer"`
	}
	if err := c.doGraphQL(ctx, viewerQuery, nil, &out); err != nil { return Viewer{}, err }
	return out.Viewer, nil
}
