package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habedi/inspecta/db"
	"github.com/rs/zerolog/log"
)

// TokenPair is the current session as seen by the API clients.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Expiry       time.Time // zero when the access token carries no readable exp claim
}

// Expired reports whether the access token is unusable at now. A pair
// without a readable expiry counts as expired.
func (p TokenPair) Expired(now time.Time) bool {
	return p.Expiry.IsZero() || !now.Before(p.Expiry)
}

// TokenStore is the single source of truth for the session tokens, backed by
// a TokenRepository. Reads are served from memory after the first load; every
// write goes to the repository before the cache is updated.
type TokenStore struct {
	repo db.TokenRepository

	mu     sync.RWMutex
	loaded bool
	cached *db.Token
}

// NewTokenStore wraps repo.
func NewTokenStore(repo db.TokenRepository) *TokenStore {
	return &TokenStore{repo: repo}
}

func (s *TokenStore) current(ctx context.Context) (*db.Token, error) {
	s.mu.RLock()
	if s.loaded {
		tok := s.cached
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

func (s *TokenStore) currentLocked(ctx context.Context) (*db.Token, error) {
	if s.loaded {
		return s.cached, nil
	}
	tok, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve token record: %w", err)
	}
	s.cached, s.loaded = tok, true
	return tok, nil
}

// Load returns the stored pair. ok is false when nobody is logged in.
func (s *TokenStore) Load(ctx context.Context) (pair TokenPair, ok bool, err error) {
	tok, err := s.current(ctx)
	if err != nil || tok == nil || tok.AccessToken == "" {
		return TokenPair{}, false, err
	}
	pair = TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, UserID: tok.UserID}
	if claims, err := DecodeClaims(tok.AccessToken); err == nil {
		pair.Expiry = claims.Expiry
	} else {
		log.Debug().Err(err).Msg("Stored access token has no readable expiry")
	}
	return pair, true, nil
}

// AccessToken returns the stored access token or "".
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.current(ctx)
	if err != nil || tok == nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// RefreshToken returns the stored refresh token or "".
func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	tok, err := s.current(ctx)
	if err != nil || tok == nil {
		return "", err
	}
	return tok.RefreshToken, nil
}

// Save replaces the whole session. Both tokens are required.
func (s *TokenStore) Save(ctx context.Context, pair TokenPair) error {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return fmt.Errorf("access and refresh token must be set together")
	}
	return s.write(ctx, &db.Token{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, UserID: pair.UserID})
}

// UpdateAccessToken stores a refreshed access token. The refresh token is
// replaced only when rotated is non-empty. It fails with ErrNoSession when the
// session was purged in the meantime; a purged session is never brought back.
func (s *TokenStore) UpdateAccessToken(ctx context.Context, accessToken, rotated string) error {
	if accessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.currentLocked(ctx)
	if err != nil {
		return err
	}
	if tok == nil || tok.RefreshToken == "" {
		return fmt.Errorf("no session to update: %w", ErrNoSession)
	}
	next := *tok
	next.AccessToken = accessToken
	if rotated != "" {
		next.RefreshToken = rotated
	}
	return s.writeLocked(ctx, &next)
}

func (s *TokenStore) write(ctx context.Context, tok *db.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, tok)
}

func (s *TokenStore) writeLocked(ctx context.Context, tok *db.Token) error {
	if err := s.repo.Upsert(ctx, tok); err != nil {
		log.Error().Err(err).Msg("Failed to save session tokens")
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	s.cached, s.loaded = tok, true
	return nil
}

// Purge clears the access token, the refresh token and the user id.
func (s *TokenStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to purge session tokens")
		return fmt.Errorf("failed to purge session tokens: %w", err)
	}
	s.cached, s.loaded = nil, true
	return nil
}
