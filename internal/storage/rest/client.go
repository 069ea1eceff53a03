// Package rest implements the storage contracts against a remote
// PostgREST-style API. Filters are encoded as query string operators
// (eq., gte., ilike.) and stored procedures are invoked through /rpc.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 3 * time.Second
	requestTimeout = 15 * time.Second

	maxAttempts  = 3
	retryBackoff = 300 * time.Millisecond
)

// APIError reports a non-2xx response from the remote API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote api: status %d: %s", e.Status, e.Body)
}

// retryable reports whether the status code warrants another attempt.
// Rate limiting and server-side failures are transient; everything else
// is the caller's problem.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Client is a thin PostgREST client shared by all repositories.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
		logger: logger,
	}
}

// Get fetches rows from a table or view and decodes the JSON array into out.
func (c *Client) Get(ctx context.Context, table string, params url.Values, out any) error {
	u := c.baseURL + "/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

// RPC invokes a stored procedure with the given arguments.
func (c *Client) RPC(ctx context.Context, name string, args any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding rpc args: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/rpc/"+name, body, out)
}

// Insert upserts a single row. The merge-duplicates preference makes the
// call idempotent for rows the bridge has already written.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	return c.doWithHeaders(ctx, http.MethodPost, c.baseURL+"/"+table, body, nil,
		map[string]string{"Prefer": "resolution=merge-duplicates"})
}

// Delete removes all rows matching params from a table.
func (c *Client) Delete(ctx context.Context, table string, params url.Values) error {
	u := c.baseURL + "/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	return c.doWithHeaders(ctx, method, u, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, u string, body []byte, out any, headers map[string]string) error {
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.apiKey != "" {
			req.Header.Set("apikey", c.apiKey)
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("remote request failed",
				zap.String("method", method),
				zap.String("request_id", requestID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if retryable(resp.StatusCode) {
				lastErr = apiErr
				c.logger.Warn("remote request retrying",
					zap.String("request_id", requestID),
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt))
				continue
			}
			return apiErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("remote request failed after %d attempts: %w", maxAttempts, lastErr)
}
