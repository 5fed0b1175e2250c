package auth

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRetries is how many refresh attempts a client may make before a
// 401 tears the session down without trying again.
const DefaultMaxRetries = 3

// RequestIDHeader carries a per-request id; a replay reuses the original's id.
const RequestIDHeader = "X-Request-ID"

// Transport is the per-client interceptor. It attaches the bearer token to
// every request and recovers from a 401 with at most one refresh and one
// replay. Each Transport keeps its own retry counter.
type Transport struct {
	name       string
	base       http.RoundTripper
	session    *SessionManager
	exchanger  Exchanger
	maxRetries int

	mu         sync.Mutex
	retryCount int
}

// Name returns the API client name the transport was installed for.
func (t *Transport) Name() string { return t.name }

// RetryCount returns the number of refresh attempts since the last success.
func (t *Transport) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

func (t *Transport) resetRetries() {
	t.mu.Lock()
	t.retryCount = 0
	t.mu.Unlock()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.session.store.AccessToken(ctx)
	if err != nil {
		closeRequestBody(req)
		return nil, err
	}

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out := req.Clone(ctx)
	out.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	switch {
	case isRefreshCall(ctx):
		discard(resp)
		return nil, t.session.expire(ctx, &SessionExpiredError{Client: t.name, Reason: ReasonRefreshUnauthorized})
	case skipsRecovery(ctx), isReplay(ctx):
		return resp, nil
	}
	return t.recoverUnauthorized(req, resp, token, requestID)
}

func (t *Transport) recoverUnauthorized(req *http.Request, resp *http.Response, sentToken, requestID string) (*http.Response, error) {
	ctx := req.Context()
	logger := log.With().Str("client", t.name).Str("request_id", requestID).Logger()

	// Another client may have refreshed while this request was in flight.
	current, err := t.session.store.AccessToken(ctx)
	if err == nil && current != "" && sentToken != "" && current != sentToken {
		logger.Debug().Msg("Token changed while request was in flight, replaying")
		return t.replay(req, resp, current, requestID)
	}

	refreshToken, err := t.session.store.RefreshToken(ctx)
	if err != nil {
		discard(resp)
		return nil, err
	}
	if refreshToken == "" {
		discard(resp)
		return nil, t.session.expire(ctx, &SessionExpiredError{Client: t.name, Reason: ReasonNoRefreshToken})
	}

	logger.Debug().Msg("Received 401, waiting for token refresh")
	newToken, err := t.session.coordinator.Refresh(ctx, t.exchanger, sentToken, t.chargeAttempt(logger))
	if err != nil {
		discard(resp)
		return nil, err
	}
	t.resetRetries()
	return t.replay(req, resp, newToken, requestID)
}

// chargeAttempt returns the hook the coordinator runs when this client
// starts an exchange. Requests that join an exchange already in flight are
// not charged.
func (t *Transport) chargeAttempt(logger zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		t.mu.Lock()
		if t.retryCount >= t.maxRetries {
			t.mu.Unlock()
			logger.Warn().Int("max_retries", t.maxRetries).Msg("Refresh attempts exhausted")
			return t.session.expire(ctx, &SessionExpiredError{Client: t.name, Reason: ReasonRetriesExhausted})
		}
		t.retryCount++
		attempt := t.retryCount
		t.mu.Unlock()
		logger.Info().Int("attempt", attempt).Msg("Refreshing access token")
		return nil
	}
}

// replay resends req once with token. The replay is marked so a second 401
// goes back to the caller.
func (t *Transport) replay(req *http.Request, failed *http.Response, token, requestID string) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		log.Warn().Str("client", t.name).Msg("Request body cannot be replayed, returning 401")
		return failed, nil
	}
	discard(failed)

	retry := req.Clone(context.WithValue(req.Context(), replayAttemptKey{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set(RequestIDHeader, requestID)
	retry.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(retry)
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
