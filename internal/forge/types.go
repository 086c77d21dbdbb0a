// Package forge is a thin, typed facade over the hosted code-forge's issue
// tracker REST API: authentication, transport-level rate-limit handling, and
// a small typed error taxonomy, so the rest of the system never sees raw
// HTTP status codes.
package forge

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// API configuration constants.
const (
	// DefaultBaseURL is the forge REST API base URL.
	DefaultBaseURL = "https://api.github.com"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// maxInternalRetries is the one internal retry the component design
	// allows on a 429/403-rate-limited response before surfacing
	// ErrRateLimited to the caller.
	maxInternalRetries = 1

	defaultPerPage = 100
)

// Client is the Forge Gateway. It holds no domain knowledge beyond issue
// shape; Field Mapper payloads are passed through as-is.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (forge enterprise deployments, or
// a test server).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger overrides the request/response logger. The default logs JSON
// to stdout at LOG_LEVEL, matching internal/outbox and internal/reconciler's
// own logger construction.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Forge Gateway client authenticated with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// maskToken redacts a bearer token for safe logging, mirroring
// internal/store.Config.MaskDatabaseURL's "show just enough to tell tokens
// apart" approach.
func maskToken(token string) string {
	const keep = 4

	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}

	return strings.Repeat("*", len(token)-keep) + token[len(token)-keep:]
}

// Issue is the wire shape of a forge issue, trimmed to the fields the
// Field Mapper consumes.
type Issue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	StateReason string     `json:"state_reason,omitempty"`
	Labels      []label    `json:"labels"`
	Assignees   []user     `json:"assignees"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// LabelNames extracts the flat label-name set the Field Mapper works with.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}

	return names
}

// AssigneeLogins extracts the flat assignee-login set the Field Mapper
// works with.
func (i Issue) AssigneeLogins() []string {
	logins := make([]string, 0, len(i.Assignees))
	for _, a := range i.Assignees {
		logins = append(logins, a.Login)
	}

	return logins
}

type label struct {
	Name string `json:"name"`
}

type user struct {
	Login string `json:"login"`
}

// Comment is a forge issue comment.
type Comment struct {
	Body      string     `json:"body"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// CreateIssueRequest is the body for CreateIssue.
type CreateIssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// UpdateIssueRequest is the body for UpdateIssue; only non-nil fields are
// sent, matching the forge API's partial-update semantics.
type UpdateIssueRequest struct {
	Title       *string   `json:"title,omitempty"`
	Body        *string   `json:"body,omitempty"`
	State       *string   `json:"state,omitempty"`
	StateReason *string   `json:"state_reason,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
	Assignees   *[]string `json:"assignees,omitempty"`
}

// ListIssuesParams filters ListIssues.
type ListIssuesParams struct {
	State    string // "open", "closed", "all"
	Labels   []string
	Assignee string
	Since    time.Time
}
