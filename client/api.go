package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/habedi/inspecta/auth"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every API call, including a refresh and replay.
const DefaultTimeout = 30 * time.Second

// TransientNetworkError is a request that failed before any response arrived.
// It has no effect on the session.
type TransientNetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response that the interceptor did not handle.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d %s. Body: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client is one backend API. Requests go through the auth.Transport the
// SessionManager installed for it.
type Client struct {
	name    string
	baseURL *url.URL
	http    *http.Client
}

// New creates a client for baseURL whose requests go through transport.
func New(name, baseURL string, transport http.RoundTripper, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base URL: %q is not absolute", name, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{name: name, baseURL: u, http: &http.Client{Transport: transport, Timeout: timeout}}, nil
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the backend's base URL, with a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// HTTPClient exposes the underlying client, interceptor included.
func (c *Client) HTTPClient() *http.Client { return c.http }

// NewRequest builds a request for path (relative to the base URL). body, if
// not nil, is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("url", stripQuery(u)).Msg("Failed to create HTTP request object")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req and decodes a JSON response into out when out is not nil.
func (c *Client) Do(req *http.Request, out any) error {
	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.Error().Err(err).Str("body_preview", string(body[:min(len(body), 200)])).Msg("Failed to parse response JSON")
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// Call is NewRequest followed by Do.
func (c *Client) Call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.NewRequest(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	return c.Do(req, out)
}

// sendRequest sends an HTTP request and checks status.
func (c *Client) sendRequest(req *http.Request) (*http.Response, error) {
	logger := log.With().Str("client", c.name).Str("method", req.Method).Str("url", stripQuery(req.URL)).Logger()
	logger.Debug().Msg("Sending HTTP request")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			return nil, err
		}
		logger.Error().Err(err).Msg("HTTP request failed")
		return nil, &TransientNetworkError{Method: req.Method, URL: stripQuery(req.URL), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		bodyStr := ""
		if readErr == nil {
			bodyStr = string(bodyBytes)
		}
		resp.Body.Close()
		logger.Error().Int("status", resp.StatusCode).Msg("HTTP request returned non-OK status")
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: bodyStr}
	}
	logger.Debug().Int("status", resp.StatusCode).Msg("HTTP request successful")
	return resp, nil
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// stripQuery drops the query so tokens passed as parameters never reach logs or errors.
func stripQuery(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}
