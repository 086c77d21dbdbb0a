package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Gateway is the typed surface the Outbox Dispatcher and Reconciler depend
// on. Defined as an interface so both can be unit-tested against a fake.
type Gateway interface {
	CreateIssue(ctx context.Context, repo string, req CreateIssueRequest) (Issue, error)
	GetIssue(ctx context.Context, repo string, number int) (Issue, error)
	UpdateIssue(ctx context.Context, repo string, number int, req UpdateIssueRequest) (Issue, error)
	ListIssues(ctx context.Context, repo string, params ListIssuesParams) ([]Issue, error)
	FindIssueByTitleSubstring(ctx context.Context, repo, substring string) (Issue, bool, error)
	AddComment(ctx context.Context, repo string, number int, body string) (Comment, error)
}

var _ Gateway = (*Client)(nil)

func issuesPath(repo string) string {
	return "/repos/" + repo + "/issues"
}

func issuePath(repo string, number int) string {
	return issuesPath(repo) + "/" + strconv.Itoa(number)
}

// CreateIssue creates a new forge issue. req.Title is expected to already
// carry the "[AUTO][task:...]" marker when created on behalf of a Task;
// this gateway has no opinion on title shape.
func (c *Client) CreateIssue(ctx context.Context, repo string, req CreateIssueRequest) (Issue, error) {
	body, _, err := c.doRequest(ctx, http.MethodPost, issuesPath(repo), nil, req)
	if err != nil {
		return Issue{}, fmt.Errorf("forge: create issue in %s: %w", repo, err)
	}

	return decodeIssue(body)
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (Issue, error) {
	body, _, err := c.doRequest(ctx, http.MethodGet, issuePath(repo, number), nil, nil)
	if err != nil {
		return Issue{}, fmt.Errorf("forge: get issue %s#%d: %w", repo, number, err)
	}

	return decodeIssue(body)
}

// UpdateIssue applies a partial update (PATCH) to an issue.
func (c *Client) UpdateIssue(ctx context.Context, repo string, number int, req UpdateIssueRequest) (Issue, error) {
	body, _, err := c.doRequest(ctx, http.MethodPatch, issuePath(repo, number), nil, req)
	if err != nil {
		return Issue{}, fmt.Errorf("forge: update issue %s#%d: %w", repo, number, err)
	}

	return decodeIssue(body)
}

// ListIssues lists issues matching params, paginating until the forge API
// reports no more pages.
func (c *Client) ListIssues(ctx context.Context, repo string, params ListIssuesParams) ([]Issue, error) {
	var all []Issue

	page := 1

	for {
		query := url.Values{
			"per_page": {strconv.Itoa(defaultPerPage)},
			"page":     {strconv.Itoa(page)},
		}

		if params.State != "" {
			query.Set("state", params.State)
		} else {
			query.Set("state", "all")
		}

		if len(params.Labels) > 0 {
			query.Set("labels", strings.Join(params.Labels, ","))
		}

		if params.Assignee != "" {
			query.Set("assignee", params.Assignee)
		}

		if !params.Since.IsZero() {
			query.Set("since", params.Since.UTC().Format(time.RFC3339))
		}

		body, headers, err := c.doRequest(ctx, http.MethodGet, issuesPath(repo), query, nil)
		if err != nil {
			return nil, fmt.Errorf("forge: list issues in %s: %w", repo, err)
		}

		var pageIssues []Issue
		if err := json.Unmarshal(body, &pageIssues); err != nil {
			return nil, fmt.Errorf("forge: decode issue list: %w", err)
		}

		all = append(all, pageIssues...)

		if _, ok := nextPageLink(headers); !ok {
			break
		}

		page++
	}

	return all, nil
}

// FindIssueByTitleSubstring searches open and closed issues for one whose
// title contains substring — used by push handlers to find an
// already-created issue by its "[AUTO][task:<id>]" marker after a
// crash-before-mapping-write, per the at-least-once idempotency contract.
func (c *Client) FindIssueByTitleSubstring(ctx context.Context, repo, substring string) (Issue, bool, error) {
	issues, err := c.ListIssues(ctx, repo, ListIssuesParams{State: "all"})
	if err != nil {
		return Issue{}, false, err
	}

	for _, issue := range issues {
		if strings.Contains(issue.Title, substring) {
			return issue, true, nil
		}
	}

	return Issue{}, false, nil
}

// AddComment posts a comment to an issue.
func (c *Client) AddComment(ctx context.Context, repo string, number int, commentBody string) (Comment, error) {
	req := map[string]string{"body": commentBody}

	body, _, err := c.doRequest(ctx, http.MethodPost, issuePath(repo, number)+"/comments", nil, req)
	if err != nil {
		return Comment{}, fmt.Errorf("forge: add comment to %s#%d: %w", repo, number, err)
	}

	var comment Comment
	if err := json.Unmarshal(body, &comment); err != nil {
		return Comment{}, fmt.Errorf("forge: decode comment: %w", err)
	}

	return comment, nil
}

func decodeIssue(body []byte) (Issue, error) {
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return Issue{}, fmt.Errorf("forge: decode issue: %w", err)
	}

	return issue, nil
}

// nextPageLinkPattern matches the "next" relation in a forge Link header.
var nextPageLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextPageLink(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}

	match := nextPageLinkPattern.FindStringSubmatch(link)
	if len(match) < 2 { //nolint:mnd // regex capture group count
		return "", false
	}

	return match[1], true
}
