package sheet

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// rpcRequest is a JSON-RPC 2.0 request, one per line on the broker's stdin.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response, one per line on the broker's
// stdout, correlated to its request by ID.
type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcErrorBody   `json:"error,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcCodec owns the line-delimited read/write halves of the broker
// subprocess's stdio.
type rpcCodec struct {
	writer io.WriteCloser
	reader *bufio.Scanner
}

const defaultCallTimeout = 30 * time.Second

// NewClient spawns the broker subprocess named by brokerCmd and returns a
// Client ready to make calls. The broker is expected to keep running for
// the lifetime of the process and speak one JSON-RPC request/response pair
// per stdio line.
func NewClient(brokerCmd string, authMode AuthMode, appToken string, opts ...Option) (*Client, error) {
	c := &Client{
		authMode:    authMode,
		appToken:    appToken,
		logger:      slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		callTimeout: defaultCallTimeout,
		pending:     make(map[int64]chan rpcResponse),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	cmd := exec.Command(brokerCmd, c.brokerArgs...) //nolint:gosec // brokerCmd is operator configuration, not user input

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sheet: open broker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sheet: open broker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sheet: start broker process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024) //nolint:mnd // generous line buffer for large record payloads

	c.cmd = cmd
	c.codec = &rpcCodec{writer: stdin, reader: scanner}

	go c.readLoop()

	return c, nil
}

// closeDone closes done exactly once, whether triggered by an explicit
// Close or by the broker process exiting on its own.
func (c *Client) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readLoop consumes one JSON-RPC response per broker stdout line and
// delivers it to the pending caller awaiting that ID. It exits, closing
// done, when the broker's stdout is closed (process exited).
func (c *Client) readLoop() {
	defer c.closeDone()

	for c.codec.reader.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(c.codec.reader.Bytes(), &resp); err != nil {
			slog.Warn("sheet: malformed broker response line", slog.String("error", err.Error()))

			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// call issues one JSON-RPC request and blocks for its matching response, or
// until ctx is done, or the broker process exits.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	select {
	case <-c.done:
		return ErrBrokerClosed
	default:
	}

	id := c.nextID.Add(1)

	respCh := make(chan rpcResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("sheet: marshal request: %w", err)
	}

	line = append(line, '\n')

	c.logger.Debug("sheet: request",
		slog.String("method", method), slog.Int64("id", id), slog.String("app_token", maskAppToken(c.appToken)))

	if _, err := c.codec.writer.Write(line); err != nil {
		return fmt.Errorf("%w: write request: %w", ErrTransient, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			c.logger.Error("sheet: response error",
				slog.String("method", method), slog.Int64("id", id),
				slog.Int("code", resp.Error.Code), slog.String("message", resp.Error.Message))

			return classifyRPCError(resp.Error.Code, resp.Error.Message)
		}

		c.logger.Debug("sheet: response",
			slog.String("method", method), slog.Int64("id", id), slog.Int("bytes", len(resp.Result)))

		if result == nil || len(resp.Result) == 0 {
			return nil
		}

		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("sheet: decode result for %s: %w", method, err)
		}

		return nil
	case <-callCtx.Done():
		c.logger.Error("sheet: request timed out", slog.String("method", method), slog.Int64("id", id))

		return fmt.Errorf("%w: %s timed out", ErrTransient, method)
	case <-c.done:
		return ErrBrokerClosed
	}
}

// Close terminates the broker subprocess and releases its stdio pipes.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.closeDone()

		_ = c.codec.writer.Close()

		if killErr := c.cmd.Process.Kill(); killErr != nil {
			err = killErr
		}

		_ = c.cmd.Wait()
	})

	return err
}
