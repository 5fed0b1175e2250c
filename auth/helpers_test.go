package auth_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/db"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	repo    db.TokenRepository
	store   *auth.TokenStore
	manager *auth.SessionManager
}

func newTestEnv(t *testing.T, opts ...auth.Option) *testEnv {
	t.Helper()
	gormDB, err := db.OpenInMemory()
	require.NoError(t, err)
	repo := db.NewTokenRepository(gormDB)
	store := auth.NewTokenStore(repo)
	return &testEnv{repo: repo, store: store, manager: auth.NewSessionManager(store, opts...)}
}

func (e *testEnv) save(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), auth.TokenPair{AccessToken: access, RefreshToken: refresh, UserID: "7"}))
}

func (e *testEnv) requirePurged(t *testing.T) {
	t.Helper()
	_, ok, err := e.store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok, "store should be empty")
	row, err := e.repo.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, row, "session row should be deleted")
}

// mockExchanger counts exchanges and answers with token, or err when set.
type mockExchanger struct {
	calls   atomic.Int32
	token   string
	rotated string
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *mockExchanger) ExchangeRefreshToken(ctx context.Context, pair auth.TokenPair) (auth.RefreshResult, error) {
	m.calls.Add(1)
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return auth.RefreshResult{}, m.err
	}
	return auth.RefreshResult{AccessToken: m.token, RefreshToken: m.rotated}, nil
}

var errRejected = errors.New("invalid refresh token")

func makeJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return token
}

func tokenFor(t *testing.T, userID string, exp time.Time) string {
	return makeJWT(t, jwt.MapClaims{"sub": userID, "exp": exp.Unix()})
}

const (
	testTimeout = 2 * time.Second
	pollEvery   = 5 * time.Millisecond
)
