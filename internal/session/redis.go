package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] fingerprint key
// ARGV[1] expected ("" = none), ARGV[2] next, ARGV[3] ttl in ms (0 = no expiry)
const rotateScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  current = ""
end
if current ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

var rotateLua = redis.NewScript(rotateScript)

// RedisStore keeps one key per identity. Keys expire with the refresh token
// lifetime, so an abandoned session drops out on its own.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(identityID string) string {
	return s.prefix + ":rt:" + identityID
}

func (s *RedisStore) Fingerprint(ctx context.Context, identityID string) (string, error) {
	val, err := s.rdb.Get(ctx, s.key(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get fingerprint: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Rotate(ctx context.Context, identityID, expected, next string) error {
	if next == "" {
		return ErrEmptyFingerprint
	}

	swapped, err := rotateLua.Run(ctx, s.rdb, []string{s.key(identityID)}, expected, next, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis rotate fingerprint: %w", err)
	}
	if swapped != 1 {
		return ErrConflict
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, identityID string) error {
	if err := s.rdb.Del(ctx, s.key(identityID)).Err(); err != nil {
		return fmt.Errorf("redis clear fingerprint: %w", err)
	}
	return nil
}
