package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a single refresh exchange.
const DefaultRefreshTimeout = 10 * time.Second

// RefreshResult is the normalised answer of a refresh endpoint. RefreshToken
// is set only by endpoints that rotate the refresh token.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// Exchanger calls a backend's refresh-token endpoint.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, pair TokenPair) (RefreshResult, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, pair TokenPair) (RefreshResult, error)

func (f ExchangerFunc) ExchangeRefreshToken(ctx context.Context, pair TokenPair) (RefreshResult, error) {
	return f(ctx, pair)
}

// RefreshCoordinator performs refresh exchanges for one TokenStore. Concurrent
// callers, whichever client they come from, share a single in-flight exchange
// and all receive its outcome.
type RefreshCoordinator struct {
	store   *TokenStore
	expire  func(context.Context, *SessionExpiredError) error
	timeout time.Duration

	group     singleflight.Group
	exchanges atomic.Int64
}

func newRefreshCoordinator(store *TokenStore, timeout time.Duration, expire func(context.Context, *SessionExpiredError) error) *RefreshCoordinator {
	return &RefreshCoordinator{store: store, timeout: timeout, expire: expire}
}

// Exchanges returns how many refresh exchanges were started.
func (c *RefreshCoordinator) Exchanges() int64 { return c.exchanges.Load() }

// Refresh returns a fresh access token to replace rejected, joining an
// exchange already in flight if there is one. If the stored token is no longer
// rejected, someone else already refreshed and it is returned as is. charge,
// when set, runs only if this call starts a new exchange; an error from it
// aborts the exchange. On failure the error is a *SessionExpiredError and the
// session is gone.
func (c *RefreshCoordinator) Refresh(ctx context.Context, ex Exchanger, rejected string, charge func(context.Context) error) (string, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		// Detached so one caller giving up does not fail everyone waiting on the result.
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.exchange(exCtx, ex, rejected, charge)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			log.Debug().Msg("Joined in-flight token refresh")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *RefreshCoordinator) exchange(ctx context.Context, ex Exchanger, rejected string, charge func(context.Context) error) (string, error) {
	pair, ok, err := c.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if !ok || pair.RefreshToken == "" {
		return "", c.expire(ctx, &SessionExpiredError{Reason: ReasonNoRefreshToken})
	}
	if rejected != "" && pair.AccessToken != rejected {
		log.Debug().Msg("Access token already refreshed, skipping exchange")
		return pair.AccessToken, nil
	}
	if charge != nil {
		if err := charge(ctx); err != nil {
			return "", err
		}
	}

	c.exchanges.Add(1)

	log.Info().Msg("Access token rejected, refreshing...")
	res, err := ex.ExchangeRefreshToken(WithRefreshCall(ctx), pair)
	if err == nil && res.AccessToken == "" {
		err = errors.New("refresh endpoint returned no access token")
	}
	if err != nil {
		var expired *SessionExpiredError
		if errors.As(err, &expired) {
			return "", expired
		}
		return "", c.expire(ctx, &SessionExpiredError{Reason: ReasonRefreshRejected, Err: err})
	}

	if err := c.store.UpdateAccessToken(ctx, res.AccessToken, res.RefreshToken); err != nil {
		if errors.Is(err, ErrNoSession) {
			log.Warn().Msg("Session ended while refreshing, discarding new token")
			return "", &SessionExpiredError{Reason: ReasonSessionEnded, Err: err}
		}
		return "", fmt.Errorf("failed to save refreshed token: %w", err)
	}
	log.Info().Bool("rotated", res.RefreshToken != "").Msg("Token refreshed and saved successfully.")
	return res.AccessToken, nil
}
