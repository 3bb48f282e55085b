package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitLua applies the window rule atomically.
// KEYS[1] = record hash
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = max attempts
//
// Returns {allowed (0|1), count}.
var admitLua = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])

if (not count) or (not start) or now > start + window then
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'count', 1)
  redis.call('HSET', KEYS[1], 'start', now)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1}
end

if count >= maxAttempts then
  return {0, count}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count}
`)

// RedisStore keeps window records in Redis hashes that expire with their window.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. An empty prefix defaults to "vrl".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "vrl"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + ":" + identifier
}

func (s *RedisStore) Admit(ctx context.Context, key string, maxAttempts int, window time.Duration, now time.Time) (bool, error) {
	res, err := admitLua.Run(ctx, s.redis,
		[]string{s.key(key)},
		now.UnixMilli(),
		window.Milliseconds(),
		maxAttempts,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("%w: unexpected lua result", ErrStoreUnavailable)
	}
	return res[0] == 1, nil
}
