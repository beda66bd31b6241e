package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenSource hands out the bearer token for the next request or connection.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("empty token")
	}
	return string(t), nil
}

// RefreshFunc obtains a fresh token.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshingTokenSource caches a JWT and calls Refresh once the token is
// within Leeway of its expiry. Signatures are not verified: the server does
// that.
type RefreshingTokenSource struct {
	Refresh RefreshFunc
	Leeway  time.Duration

	mu    sync.Mutex
	token string
	exp   time.Time
	now   func() time.Time
}

// NewRefreshingTokenSource seeds the source with an initial token, which may
// be empty.
func NewRefreshingTokenSource(initial string, refresh RefreshFunc) *RefreshingTokenSource {
	s := &RefreshingTokenSource{Refresh: refresh, Leeway: 30 * time.Second, now: time.Now}
	if initial != "" {
		s.token, s.exp = initial, expiry(initial)
	}
	return s
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && (s.exp.IsZero() || s.now().Add(s.Leeway).Before(s.exp)) {
		return s.token, nil
	}
	if s.Refresh == nil {
		if s.token != "" {
			return s.token, nil
		}
		return "", errors.New("no token available")
	}
	tok, err := s.Refresh(ctx)
	if err != nil {
		return "", err
	}
	s.token, s.exp = tok, expiry(tok)
	return tok, nil
}

// expiry reads the exp claim without verifying the signature. Opaque tokens
// yield the zero time and never expire locally.
func expiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
