package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/habedi/inspecta/auth"
	"github.com/rs/zerolog/log"
)

// RefreshVariant is the request body shape a backend's refresh endpoint expects.
type RefreshVariant int

const (
	// PairBody sends {token, refreshToken}.
	PairBody RefreshVariant = iota
	// RefreshOnlyBody sends {refreshToken}.
	RefreshOnlyBody
)

func (v RefreshVariant) String() string {
	if v == RefreshOnlyBody {
		return "refresh-only"
	}
	return "pair"
}

// Exchanger calls a backend's refresh-token endpoint through that backend's
// own client, so the request is intercepted like any other.
type Exchanger struct {
	client  *Client
	variant RefreshVariant
}

// NewExchanger returns the refresh call for c.
func NewExchanger(c *Client, variant RefreshVariant) *Exchanger {
	return &Exchanger{client: c, variant: variant}
}

// ExchangeRefreshToken implements auth.Exchanger. Both response shapes,
// {token} and {token, refreshToken}, are normalised into auth.RefreshResult.
func (e *Exchanger) ExchangeRefreshToken(ctx context.Context, pair auth.TokenPair) (auth.RefreshResult, error) {
	var body any
	switch e.variant {
	case RefreshOnlyBody:
		body = struct {
			RefreshToken string `json:"refreshToken"`
		}{pair.RefreshToken}
	default:
		body = tokenResponse{Token: pair.AccessToken, RefreshToken: pair.RefreshToken}
	}

	logger := log.With().Str("client", e.client.Name()).Stringer("variant", e.variant).Logger()
	logger.Debug().Msg("Exchanging refresh token")

	req, err := e.client.NewRequest(auth.WithRefreshCall(ctx), http.MethodPost, RefreshTokenPath, nil, body)
	if err != nil {
		return auth.RefreshResult{}, err
	}
	var res tokenResponse
	if err := e.client.Do(req, &res); err != nil {
		logger.Error().Err(err).Msg("Refresh token exchange failed")
		return auth.RefreshResult{}, fmt.Errorf("token refresh via %s client failed: %w", e.client.Name(), err)
	}
	if res.Token == "" {
		logger.Error().Msg("Refresh endpoint returned no access token")
		return auth.RefreshResult{}, fmt.Errorf("token refresh via %s client returned no token", e.client.Name())
	}
	logger.Debug().Bool("rotated", res.RefreshToken != "").Msg("Refresh token exchanged")
	return auth.RefreshResult{AccessToken: res.Token, RefreshToken: res.RefreshToken}, nil
}
