// Package profile serves the user profile through the cache.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/cache"
)

// ErrNoUser is returned when neither the caller nor the config names a user.
var ErrNoUser = errors.New("profile: no user id configured")

// Fetcher loads a profile from the user service.
type Fetcher interface {
	Profile(ctx context.Context, userID string) (json.RawMessage, error)
}

// Service reads profiles, caching them for ttl.
type Service struct {
	api    Fetcher
	cache  *cache.Cache
	userID string
	ttl    time.Duration
}

// NewService creates the profile loader. ttl <= 0 uses ten minutes.
func NewService(api Fetcher, c *cache.Cache, defaultUserID string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{api: api, cache: c, userID: defaultUserID, ttl: ttl}
}

// Get returns the profile for userID (or the configured user).
func (s *Service) Get(ctx context.Context, userID string, refresh bool) (json.RawMessage, error) {
	if userID == "" {
		userID = s.userID
	}
	if userID == "" {
		return nil, ErrNoUser
	}

	key := cache.ProfileKey(userID)
	if !refresh {
		if cached, ok := cache.Get[json.RawMessage](ctx, s.cache, key, s.ttl); ok {
			return cached, nil
		}
	}

	raw, err := s.api.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	cache.Set(ctx, s.cache, key, raw)
	return raw, nil
}
