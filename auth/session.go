package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/habedi/inspecta/pkg/clock"
	"github.com/rs/zerolog/log"
)

// Credentials are what the login endpoint expects.
type Credentials struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	RemoteIPAddress string `json:"remoteIpAddress"`
}

// LoginResult is the token pair returned by a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
}

// Authenticator talks to the login and logout endpoints.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	Logout(ctx context.Context, userID, accessToken string) error
}

// SessionManager owns the TokenStore and the RefreshCoordinator and installs
// an interceptor Transport on every API client. Pass it by reference to
// whatever builds the clients.
type SessionManager struct {
	store       *TokenStore
	coordinator *RefreshCoordinator
	clock       clock.Clock
	maxRetries  int

	mu         sync.Mutex
	transports []*Transport
	hooks      map[int]func(*SessionExpiredError)
	nextHook   int
}

// Option configures a SessionManager.
type Option func(*sessionOptions)

type sessionOptions struct {
	clock          clock.Clock
	maxRetries     int
	refreshTimeout time.Duration
}

// WithClock sets the clock used for expiry checks.
func WithClock(c clock.Clock) Option { return func(o *sessionOptions) { o.clock = c } }

// WithMaxRetries sets the per-client refresh budget.
func WithMaxRetries(n int) Option { return func(o *sessionOptions) { o.maxRetries = n } }

// WithRefreshTimeout bounds every refresh exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *sessionOptions) { o.refreshTimeout = d }
}

// NewSessionManager builds a manager around store.
func NewSessionManager(store *TokenStore, opts ...Option) *SessionManager {
	o := sessionOptions{clock: clock.Real(), maxRetries: DefaultMaxRetries, refreshTimeout: DefaultRefreshTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	m := &SessionManager{
		store:      store,
		clock:      o.clock,
		maxRetries: o.maxRetries,
		hooks:      make(map[int]func(*SessionExpiredError)),
	}
	m.coordinator = newRefreshCoordinator(store, o.refreshTimeout, m.expire)
	return m
}

// Store returns the token store.
func (m *SessionManager) Store() *TokenStore { return m.store }

// Coordinator returns the shared refresh coordinator.
func (m *SessionManager) Coordinator() *RefreshCoordinator { return m.coordinator }

// Transport installs an interceptor for the API client called name. ex is the
// client's own refresh endpoint; base defaults to http.DefaultTransport.
func (m *SessionManager) Transport(name string, base http.RoundTripper, ex Exchanger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{name: name, base: base, session: m, exchanger: ex, maxRetries: m.maxRetries}
	m.mu.Lock()
	m.transports = append(m.transports, t)
	m.mu.Unlock()
	return t
}

// OnExpired registers fn to run whenever the session is torn down by a
// failed recovery. The returned func removes it.
func (m *SessionManager) OnExpired(fn func(*SessionExpiredError)) (remove func()) {
	m.mu.Lock()
	id := m.nextHook
	m.nextHook++
	m.hooks[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// expire purges the store, notifies the hooks and returns e.
func (m *SessionManager) expire(ctx context.Context, e *SessionExpiredError) error {
	if err := m.store.Purge(ctx); err != nil {
		log.Error().Err(err).Msg("Could not purge tokens of expired session")
	}
	log.Warn().Str("client", e.Client).Str("reason", string(e.Reason)).Msg("Session expired, tokens purged")

	m.mu.Lock()
	hooks := make([]func(*SessionExpiredError), 0, len(m.hooks))
	for _, h := range m.hooks {
		hooks = append(hooks, h)
	}
	m.mu.Unlock()
	for _, h := range hooks {
		h(e)
	}
	return e
}

func (m *SessionManager) resetAllRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transports {
		t.resetRetries()
	}
}

// Login authenticates, stores the new pair and gives every client a fresh
// refresh budget.
func (m *SessionManager) Login(ctx context.Context, authn Authenticator, creds Credentials) (TokenPair, error) {
	res, err := authn.Login(ctx, creds)
	if err != nil {
		return TokenPair{}, fmt.Errorf("login failed: %w", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return TokenPair{}, errors.New("login response is missing a token")
	}

	pair := TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	if claims, err := DecodeClaims(res.AccessToken); err == nil {
		pair.UserID = claims.UserID
		pair.Expiry = claims.Expiry
	} else {
		log.Warn().Err(err).Msg("Could not decode claims of the new access token")
	}

	if err := m.store.Save(ctx, pair); err != nil {
		return TokenPair{}, err
	}
	m.resetAllRetries()
	log.Info().Str("user_id", pair.UserID).Msg("Logged in")
	return pair, nil
}

// Logout tells the backend (best effort) and clears the stored session.
func (m *SessionManager) Logout(ctx context.Context, authn Authenticator) error {
	pair, ok, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if ok && authn != nil {
		if err := authn.Logout(ctx, pair.UserID, pair.AccessToken); err != nil {
			log.Warn().Err(err).Msg("Backend logout failed, clearing local session anyway")
		}
	}
	if err := m.store.Purge(ctx); err != nil {
		return err
	}
	log.Info().Msg("Logged out")
	return nil
}

// Initialize validates the stored session at startup. A missing session and
// one whose access token is already expired are handled the same way: the
// store is purged and ErrNoSession returned.
func (m *SessionManager) Initialize(ctx context.Context) (TokenPair, error) {
	pair, ok, err := m.store.Load(ctx)
	if err != nil {
		return TokenPair{}, err
	}
	if ok && !pair.Expired(m.clock.Now()) {
		return pair, nil
	}
	if ok {
		log.Info().Time("expiry", pair.Expiry).Msg("Stored access token expired, logging out")
	}
	if err := m.store.Purge(ctx); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{}, ErrNoSession
}
