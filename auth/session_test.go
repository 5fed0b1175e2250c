package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuthenticator struct {
	result      auth.LoginResult
	loginErr    error
	logoutErr   error
	gotCreds    auth.Credentials
	logoutCalls int
	logoutUser  string
	logoutToken string
}

func (m *mockAuthenticator) Login(_ context.Context, creds auth.Credentials) (auth.LoginResult, error) {
	m.gotCreds = creds
	return m.result, m.loginErr
}

func (m *mockAuthenticator) Logout(_ context.Context, userID, accessToken string) error {
	m.logoutCalls++
	m.logoutUser, m.logoutToken = userID, accessToken
	return m.logoutErr
}

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestSessionManager_LoginStoresPair(t *testing.T) {
	env := newTestEnv(t, auth.WithClock(clock.Fake(now)))
	access := tokenFor(t, "42", now.Add(time.Hour))
	authn := &mockAuthenticator{result: auth.LoginResult{AccessToken: access, RefreshToken: "r"}}
	creds := auth.Credentials{Email: "inspector@example.com", Password: "secret", RemoteIPAddress: "10.0.0.5"}

	pair, err := env.manager.Login(context.Background(), authn, creds)
	require.NoError(t, err)
	assert.Equal(t, creds, authn.gotCreds)
	assert.Equal(t, "42", pair.UserID)
	assert.True(t, now.Add(time.Hour).Equal(pair.Expiry))

	stored, ok, err := env.store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, access, stored.AccessToken)
	assert.Equal(t, "r", stored.RefreshToken)
	assert.Equal(t, "42", stored.UserID)
}

func TestSessionManager_LoginFailures(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Login(context.Background(), &mockAuthenticator{loginErr: errors.New("bad credentials")}, auth.Credentials{})
	assert.ErrorContains(t, err, "bad credentials")

	_, err = env.manager.Login(context.Background(), &mockAuthenticator{result: auth.LoginResult{AccessToken: "a"}}, auth.Credentials{})
	assert.Error(t, err)
	env.requirePurged(t)
}

func TestSessionManager_LoginResetsRetryBudget(t *testing.T) {
	env := newTestEnv(t)
	srv := newBearerServer(t, fixed("never"))
	transport := env.manager.Transport("primary", http.DefaultTransport, &mockExchanger{err: errRejected})
	client := &http.Client{Transport: transport}

	env.save(t, "a", "r")
	_, err := client.Get(srv.URL)
	require.ErrorIs(t, err, auth.ErrSessionExpired)
	require.Equal(t, 1, transport.RetryCount())

	authn := &mockAuthenticator{result: auth.LoginResult{AccessToken: tokenFor(t, "1", time.Now().Add(time.Hour)), RefreshToken: "r"}}
	_, err = env.manager.Login(context.Background(), authn, auth.Credentials{})
	require.NoError(t, err)
	assert.Zero(t, transport.RetryCount())
}

func TestSessionManager_LogoutCallsBackendAndPurges(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, "access", "refresh")
	authn := &mockAuthenticator{logoutErr: errors.New("backend down")}

	require.NoError(t, env.manager.Logout(context.Background(), authn))
	assert.Equal(t, 1, authn.logoutCalls)
	assert.Equal(t, "7", authn.logoutUser)
	assert.Equal(t, "access", authn.logoutToken)
	env.requirePurged(t)

	// Logging out without a session does not call the backend.
	require.NoError(t, env.manager.Logout(context.Background(), authn))
	assert.Equal(t, 1, authn.logoutCalls)
}

func TestSessionManager_InitializeValidSession(t *testing.T) {
	env := newTestEnv(t, auth.WithClock(clock.Fake(now)))
	access := tokenFor(t, "42", now.Add(10*time.Minute))
	env.save(t, access, "r")

	pair, err := env.manager.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, pair.AccessToken)
}

func TestSessionManager_InitializeExpiredTokenActsLikeNoToken(t *testing.T) {
	fake := clock.Fake(now)
	env := newTestEnv(t, auth.WithClock(fake))
	access := tokenFor(t, "42", now.Add(-time.Minute))
	authn := &mockAuthenticator{result: auth.LoginResult{AccessToken: access, RefreshToken: "r"}}

	pair, err := env.manager.Login(context.Background(), authn, auth.Credentials{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	require.True(t, pair.Expired(now))

	_, err = env.manager.Initialize(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoSession)
	env.requirePurged(t)

	// Same outcome as never having logged in.
	_, err = env.manager.Initialize(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestSessionManager_InitializeUndecodableTokenActsLikeNoToken(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, "opaque", "r")

	_, err := env.manager.Initialize(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoSession)
	env.requirePurged(t)
}

func TestSessionManager_OnExpiredRemove(t *testing.T) {
	env := newTestEnv(t)
	srv := newBearerServer(t, fixed("never"))
	client := &http.Client{Transport: env.manager.Transport("asset", nil, &mockExchanger{err: errRejected})}

	var got []*auth.SessionExpiredError
	remove := env.manager.OnExpired(func(e *auth.SessionExpiredError) { got = append(got, e) })

	env.save(t, "a", "r")
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, auth.ReasonRefreshRejected, got[0].Reason)

	remove()
	env.save(t, "a", "r")
	_, err = client.Get(srv.URL)
	require.Error(t, err)
	assert.Len(t, got, 1)
}

func TestSessionExpiredError_Message(t *testing.T) {
	err := &auth.SessionExpiredError{Client: "asset", Reason: auth.ReasonRetriesExhausted}
	assert.Equal(t, "session expired on asset client: retries_exhausted", err.Error())

	wrapped := &auth.SessionExpiredError{Reason: auth.ReasonRefreshRejected, Err: errRejected}
	assert.Equal(t, "session expired: refresh_rejected: invalid refresh token", wrapped.Error())
	assert.ErrorIs(t, wrapped, auth.ErrSessionExpired)
	assert.ErrorIs(t, wrapped, errRejected)
}
