// redis.go -- go-redis backed session store.
//
// Stores sessions as JSON with a TTL matching session expiry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore wraps a Redis client for session operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisClient parses redisURL, connects, and pings to verify connectivity.
// Call once at startup; the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisStore returns a RedisStore over an existing client.
// The caller owns the client and closes it.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// SetSession stores a session under its token hash with the given TTL (in seconds).
// A ttl <= 0 is rejected: Redis SET with TTL 0 means no expiry.
func (s *RedisStore) SetSession(ctx context.Context, tokenHash string, sess Session, ttl int) error {
	if ttl <= 0 {
		return fmt.Errorf("caching session: non-positive ttl %d", ttl)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(tokenHash), raw, time.Duration(ttl)*time.Second).Err(); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token hash.
// Returns ErrCacheMiss if the key does not exist.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session. Deleting a missing key is not an error.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string) error {
	if err := s.rdb.Del(ctx, sessionKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionKey(tokenHash string) string {
	return "session:" + tokenHash
}
