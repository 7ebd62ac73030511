package qauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quatton/apsflow/pkg/kv"
	"github.com/quatton/apsflow/pkg/qlog"
	"golang.org/x/oauth2"
)

// RefreshTokenTTL bounds how long a 3-legged token stays cached after its
// access token expired, so it can still be refreshed.
const RefreshTokenTTL = 14 * 24 * time.Hour

// TwoLeggedKey is the cache key of an app-only token.
func TwoLeggedKey(clientID string, scopes []string) string {
	return fmt.Sprintf("aps:2l:%s:%s", clientID, strings.Join(normalizeScopes(scopes), " "))
}

// ThreeLeggedKey is the cache key of a user token.
func ThreeLeggedKey(clientID, redirectURL string, scopes []string) string {
	return fmt.Sprintf("aps:3l:%s:%s:%s", clientID, redirectURL, strings.Join(normalizeScopes(scopes), " "))
}

// TokenCache stores oauth2 tokens in a kv.Store.
type TokenCache struct {
	store kv.Store
}

func NewTokenCache(store kv.Store) *TokenCache {
	return &TokenCache{store: store}
}

// Load returns kv.ErrNotFound when nothing is cached.
func (c *TokenCache) Load(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decoding cached token %s: %w", key, err)
	}
	return &tok, nil
}

func (c *TokenCache) Save(ctx context.Context, key string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	var ttl time.Duration
	switch {
	case tok.RefreshToken != "":
		ttl = RefreshTokenTTL
	case !tok.Expiry.IsZero():
		ttl = time.Until(tok.Expiry)
		if ttl <= 0 {
			return nil
		}
	}
	return c.store.Set(ctx, key, raw, ttl)
}

func (c *TokenCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

type fetchFunc func(ctx context.Context, prev *oauth2.Token) (*oauth2.Token, error)

// cachingSource serves a fresh token from memory, then from the shared cache,
// and otherwise fetches one. The mutex keeps at most one fetch in flight.
type cachingSource struct {
	ctx    context.Context
	key    string
	cache  *TokenCache
	fetch  fetchFunc
	logger *qlog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *oauth2.Token
}

func (s *cachingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if Fresh(s.current, now) {
		return s.current, nil
	}

	if s.cache != nil {
		tok, err := s.cache.Load(s.ctx, s.key)
		switch {
		case err == nil && Fresh(tok, now):
			s.current = tok
			return tok, nil
		case err == nil:
			// stale but may still carry a refresh token
			if s.current == nil || s.current.RefreshToken == "" {
				s.current = tok
			}
		case !errors.Is(err, kv.ErrNotFound):
			s.logger.Warn("token cache read failed", "key", s.key, "error", err)
		}
	}

	tok, err := s.fetch(s.ctx, s.current)
	if err != nil {
		return nil, err
	}
	tok = fillExpiry(tok)
	s.current = tok

	if s.cache != nil {
		if err := s.cache.Save(s.ctx, s.key, tok); err != nil {
			s.logger.Warn("token cache write failed", "key", s.key, "error", err)
		}
	}
	return tok, nil
}
