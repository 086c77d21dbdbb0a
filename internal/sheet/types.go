// Package sheet is a thin, typed facade over the hosted spreadsheet
// database's table API. The vendor exposes this API only through a local
// broker process speaking JSON-RPC 2.0 over stdin/stdout, so unlike the
// Forge Gateway this is a subprocess transport rather than HTTP.
package sheet

import (
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// AuthMode selects which credential the broker uses to authenticate to the
// spreadsheet vendor's API.
type AuthMode string

// Supported authentication modes, selected by configuration.
const (
	AuthModeOAuth  AuthMode = "oauth"
	AuthModeTenant AuthMode = "tenant"
)

// Client is the Sheet Gateway. It owns the broker subprocess for its
// lifetime; Close must be called to release it.
type Client struct {
	cmd         *exec.Cmd
	codec       *rpcCodec
	authMode    AuthMode
	appToken    string
	logger      *slog.Logger
	callTimeout time.Duration
	brokerArgs  []string

	nextID    atomic.Int64
	pending   map[int64]chan rpcResponse
	pendingMu sync.Mutex

	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// Option configures a Client before its broker subprocess is spawned.
// Mirrors internal/forge's Option pattern.
type Option func(*Client)

// WithCallTimeout overrides the per-call timeout, matching the
// GATEWAY_TIMEOUT_SECONDS configuration key both gateways honor.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.callTimeout = timeout }
}

// WithLogger overrides the request/response logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithArgs passes extra arguments to the broker subprocess command line
// (e.g. a test harness invoking `/bin/sh -c <script>`).
func WithArgs(args ...string) Option {
	return func(c *Client) { c.brokerArgs = args }
}

// maskAppToken redacts the broker app token for safe logging, mirroring
// internal/store.Config.MaskDatabaseURL's "show just enough to tell tokens
// apart" approach.
func maskAppToken(token string) string {
	const keep = 4

	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}

	return strings.Repeat("*", len(token)-keep) + token[len(token)-keep:]
}

// Record is a spreadsheet row, keyed by external column name. Value types
// mirror what the broker's JSON encodes: strings, bools, numbers, and for
// the assignee column a []map[string]string of the shape [{"id": openId}].
type Record struct {
	RecordID  string
	Fields    map[string]any
	UpdatedAt time.Time
}

// Table describes a known spreadsheet table.
type Table struct {
	AppToken string
	TableID  string
	Name     string
}

// Contact is a resolved spreadsheet user.
type Contact struct {
	OpenID string
	Email  string
	Name   string
}

// SearchParams filters SearchRecords.
type SearchParams struct {
	TableID string
	Since   time.Time
	Filter  map[string]any // field -> exact-match value
}
