// Package session caches channel membership lookups in Redis so that
// reconnect storms do not hammer the membership table.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"stagehand/api/internal/rbac"
)

// RoleLookup is the membership source being cached.
type RoleLookup interface {
	LookupRole(ctx context.Context, channelSlug, userID string) (rbac.Role, bool, error)
}

// roleEntry is the cached value for one (channel, user) pair. Misses are
// cached too so absent rows do not fall through every time.
type roleEntry struct {
	Role     rbac.Role `json:"role"`
	Found    bool      `json:"found"`
	CachedAt time.Time `json:"cached_at"`
}

// RedisStore is a read-through role cache.
type RedisStore struct {
	client *redis.Client
	next   RoleLookup
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to redisURL and wraps next.
func NewRedisStore(redisURL string, next RoleLookup, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, next, ttl), nil
}

// NewRedisStoreWithClient creates a cache from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, next RoleLookup, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStore{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "role:",
	}
}

func (s *RedisStore) key(channelSlug, userID string) string {
	return s.prefix + channelSlug + ":" + userID
}

// LookupRole serves from Redis when possible. A Redis failure degrades to
// the underlying lookup rather than failing the caller.
func (s *RedisStore) LookupRole(ctx context.Context, channelSlug, userID string) (rbac.Role, bool, error) {
	key := s.key(channelSlug, userID)
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry roleEntry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			return rbac.Normalize(string(entry.Role)), entry.Found, nil
		}
	case err != redis.Nil:
		log.Printf("session: role cache read %s: %v", key, err)
	}

	role, found, err := s.next.LookupRole(ctx, channelSlug, userID)
	if err != nil {
		return role, found, err
	}

	data, err := json.Marshal(roleEntry{Role: role, Found: found, CachedAt: time.Now()})
	if err != nil {
		return role, found, nil
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Printf("session: role cache write %s: %v", key, err)
	}
	return role, found, nil
}

// Invalidate drops the cached entry after a membership change.
func (s *RedisStore) Invalidate(ctx context.Context, channelSlug, userID string) error {
	if err := s.client.Del(ctx, s.key(channelSlug, userID)).Err(); err != nil {
		return fmt.Errorf("invalidate role: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
