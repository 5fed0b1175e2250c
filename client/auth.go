package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/habedi/inspecta/auth"
	"github.com/rs/zerolog/log"
)

// Endpoint paths of the user API.
const (
	LoginPath        = "api/User/login"
	RefreshTokenPath = "api/User/refresh-token"
	LogoutPath       = "api/User/logout"
)

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// AuthAPI is the authentication backend. It implements auth.Authenticator.
type AuthAPI struct {
	*Client
}

// Login posts the credentials. A 401 here means bad credentials and is
// returned as an *HTTPError, never treated as an expired session.
func (a *AuthAPI) Login(ctx context.Context, creds auth.Credentials) (auth.LoginResult, error) {
	log.Debug().Str("client", a.Name()).Msg("Sending login request")
	req, err := a.NewRequest(auth.WithoutRecovery(ctx), http.MethodPost, LoginPath, nil, creds)
	if err != nil {
		return auth.LoginResult{}, err
	}
	var res tokenResponse
	if err := a.Do(req, &res); err != nil {
		return auth.LoginResult{}, err
	}
	if res.Token == "" || res.RefreshToken == "" {
		log.Error().Msg("Login response is missing a token")
		return auth.LoginResult{}, fmt.Errorf("login response is missing a token")
	}
	log.Debug().Msg("Login request succeeded")
	return auth.LoginResult{AccessToken: res.Token, RefreshToken: res.RefreshToken}, nil
}

// Logout invalidates the session on the backend.
func (a *AuthAPI) Logout(ctx context.Context, userID, accessToken string) error {
	query := url.Values{"userId": {userID}, "accessToken": {accessToken}}
	req, err := a.NewRequest(auth.WithoutRecovery(ctx), http.MethodPost, LogoutPath, query, nil)
	if err != nil {
		return err
	}
	if err := a.Do(req, nil); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Logout request failed")
		return err
	}
	log.Debug().Str("user_id", userID).Msg("Logout request succeeded")
	return nil
}
