package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxResponseBytes = 10 * 1024 * 1024

// doRequest performs one authenticated HTTP call, transparently retrying
// exactly once on a rate-limited response (429, or 403 with
// X-RateLimit-Remaining: 0) per the component design's transport contract.
// Any further rate-limiting after that retry is surfaced as ErrRateLimited.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, http.Header, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("forge: marshal request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	c.logger.Debug("forge: request",
		slog.String("method", method), slog.String("url", fullURL), slog.String("token", maskToken(c.token)))

	for attempt := 0; attempt <= maxInternalRetries; attempt++ {
		respBody, headers, status, err := c.doOnce(ctx, method, fullURL, payload)
		if err != nil {
			c.logger.Error("forge: request failed",
				slog.String("method", method), slog.String("url", fullURL), slog.String("error", err.Error()))

			return nil, nil, err
		}

		c.logger.Debug("forge: response",
			slog.String("method", method), slog.String("url", fullURL), slog.Int("status", status), slog.Int("bytes", len(respBody)))

		if isRateLimited(status, headers) {
			if attempt == maxInternalRetries {
				return nil, nil, fmt.Errorf("%w: exhausted internal retry", ErrRateLimited)
			}

			if err := sleepForRateLimit(ctx, headers); err != nil {
				return nil, nil, err
			}

			continue
		}

		if err := classifyStatus(status, respBody); err != nil {
			return nil, nil, err
		}

		return respBody, headers, nil
	}

	return nil, nil, ErrRateLimited
}

func (c *Client) doOnce(ctx context.Context, method, fullURL string, payload []byte) ([]byte, http.Header, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("forge: build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: read response: %w", ErrTransient, err)
	}

	return respBody, resp.Header, resp.StatusCode, nil
}

func isRateLimited(status int, headers http.Header) bool {
	if status == http.StatusTooManyRequests {
		return true
	}

	return status == http.StatusForbidden && headers.Get("X-RateLimit-Remaining") == "0"
}

// sleepForRateLimit blocks until the reset window named by X-RateLimit-Reset
// (a Unix timestamp) or Retry-After (seconds) has elapsed.
func sleepForRateLimit(ctx context.Context, headers http.Header) error {
	delay := backoffFromHeaders(headers)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffFromHeaders(headers http.Header) time.Duration {
	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	return backoff.DefaultInitialInterval
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, trimBody(body))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, trimBody(body))
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, trimBody(body))
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, trimBody(body))
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, trimBody(body))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, trimBody(body))
	}
}

func trimBody(body []byte) string {
	const maxLen = 500

	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen]
	}

	return s
}
