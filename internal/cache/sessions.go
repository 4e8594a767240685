package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache keeps a token-hash → user-id mapping in redis so the auth
// middleware can skip the sessions table on the hot path. Entries carry the
// session's remaining TTL and are dropped on logout. The database row stays
// authoritative; a cache miss just falls through.
type SessionCache struct {
	client *redis.Client
}

func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) key(tokenHash []byte) string {
	return "sess:" + hex.EncodeToString(tokenHash)
}

func (c *SessionCache) Put(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(tokenHash), userID, ttl).Err()
}

// Get returns the cached user id, or "" on a miss.
func (c *SessionCache) Get(ctx context.Context, tokenHash []byte) (string, error) {
	userID, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return userID, nil
}

func (c *SessionCache) Delete(ctx context.Context, tokenHash []byte) error {
	return c.client.Del(ctx, c.key(tokenHash)).Err()
}
