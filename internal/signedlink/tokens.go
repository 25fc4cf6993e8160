package signedlink

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sashko-guz/objstore/internal/logger"
)

// Grant is what an opaque token resolves to. A zero ExpiresAt means the
// grant never expires.
type Grant struct {
	Dataset   string
	Key       string
	ExpiresAt time.Time
}

func (g Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

func (g Grant) matches(dataset, key string) bool {
	return g.Dataset == dataset && g.Key == key
}

// TokenStore keeps signed-link expiry on the server, keyed by opaque tokens,
// so clients cannot extend a link by editing its query string. Grants live in
// memory only; the least recently used ones are dropped once the store is full
// and everything is lost on restart. This applies to grants without an expiry
// too: their links stay valid only while the grant is retained.
type TokenStore struct {
	grants *lru.Cache[string, Grant]
}

func NewTokenStore(size int) (*TokenStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("token store size must be positive, got %d", size)
	}
	grants, err := lru.NewWithEvict[string, Grant](size, func(token string, g Grant) {
		if g.ExpiresAt.IsZero() {
			logger.Warnf("[SignedLinks] Evicted non-expiring grant for %s/%s; its link is no longer valid", g.Dataset, g.Key)
			return
		}
		logger.Debugf("[SignedLinks] Evicted grant for %s/%s", g.Dataset, g.Key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}
	logger.Infof("[SignedLinks] Token store initialized: capacity=%d", size)
	return &TokenStore{grants: grants}, nil
}

// Issue records a grant and returns the token that refers to it.
func (s *TokenStore) Issue(g Grant) string {
	token := uuid.NewString()
	s.grants.Add(token, g)
	return token
}

func (s *TokenStore) Resolve(token string) (Grant, bool) {
	if token == "" {
		return Grant{}, false
	}
	return s.grants.Get(token)
}

func (s *TokenStore) Revoke(token string) {
	s.grants.Remove(token)
}

func (s *TokenStore) Len() int {
	return s.grants.Len()
}
