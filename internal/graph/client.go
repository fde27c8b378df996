// Package graph executes authenticated requests against the Microsoft Graph
// REST API: bearer injection, the single 401-triggered recovery retry, and
// normalization of failures into a stable error taxonomy. Resource-specific
// request construction lives with the callers; this package only owns the
// authenticated-execution boundary.
package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/mgraph-tools/graphauth/internal/auth"
)

// BaseURL is the Microsoft Graph v1.0 endpoint.
const BaseURL = "https://graph.microsoft.com/v1.0"

// StatusError is a non-2xx response from the resource API, carrying any
// server-supplied human-readable message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	category := ""
	switch {
	case e.Code == http.StatusUnauthorized:
		category = "authentication failed"
	case e.Code == http.StatusForbidden:
		category = "permission denied"
	case e.Code == http.StatusNotFound:
		category = "resource not found"
	case e.Code == http.StatusConflict:
		category = "conflict"
	case e.Code >= 500:
		category = "upstream server error"
	}
	if category == "" {
		if e.Message != "" {
			return fmt.Sprintf("request failed with HTTP %d: %s", e.Code, e.Message)
		}
		return fmt.Sprintf("request failed with HTTP %d", e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", category, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (HTTP %d)", category, e.Code)
}

// IsStatusError extracts a StatusError from err if one is present.
func IsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	ok := errors.As(err, &statusErr)
	return statusErr, ok
}

// Client executes authenticated Graph requests on behalf of a Manager.
type Client struct {
	manager    *auth.Manager
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client over an existing token lifecycle manager.
func NewClient(manager *auth.Manager) *Client {
	return &Client{
		manager:    manager,
		httpClient: manager.HTTPClient(),
		baseURL:    BaseURL,
	}
}

// Manager exposes the lifecycle manager behind this client.
func (c *Client) Manager() *auth.Manager {
	return c.manager
}

// SetBaseURL overrides the resource endpoint, for sovereign clouds and tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Do executes one authenticated request against the resource API and
// returns the response body. Non-2xx responses become a StatusError with
// the server's error message extracted from the Graph error envelope.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	token, err := c.manager.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	message := gjson.GetBytes(respBody, "error.message").String()
	if message == "" {
		message = gjson.GetBytes(respBody, "error.code").String()
	}
	return nil, &StatusError{Code: resp.StatusCode, Message: message}
}

// WithRetry executes op, and on a 401 failure runs the one-shot recovery
// sequence and re-executes op exactly once. Recovery recursion is capped by
// the manager's retry guard. Every other failure, and a second failure
// after the retry, propagates through the normalized taxonomy.
func (c *Client) WithRetry(ctx context.Context, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	statusErr, ok := IsStatusError(err)
	if ok && statusErr.Code == http.StatusUnauthorized && c.manager.BeginRetry() {
		defer c.manager.EndRetry()

		log.Debug("request rejected with 401, attempting credential recovery")
		if errRecover := c.manager.Recover(ctx); errRecover != nil {
			return nil, errRecover
		}

		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
	}

	return nil, err
}

// Execute is the common path for callers: one authenticated request with
// the recovery retry applied.
func (c *Client) Execute(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	return c.WithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		return c.Do(ctx, method, path, reader, contentType)
	})
}
