package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// addScript rolls the window over when it has elapsed and increments the count.
// Times are unix milliseconds. The key expires two window lengths after the last write.
var addScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start') or '0')
local now = tonumber(ARGV[1])
local len = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
if start == 0 or now - start >= len then
  redis.call('HSET', KEYS[1], 'start', now, 'count', n)
else
  redis.call('HINCRBY', KEYS[1], 'count', n)
end
redis.call('PEXPIRE', KEYS[1], len * 2)
return {redis.call('HGET', KEYS[1], 'start'), redis.call('HGET', KEYS[1], 'count')}
`)

// RedisStore keeps counters in Redis hashes so every instance shares them.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore creates a RedisStore with keys under namespace.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(k string) string {
	return s.namespace + ":" + k
}

// Get returns the stored counter for key, zero if absent.
func (s *RedisStore) Get(ctx context.Context, key string) (Counter, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counter{}, nil
		}
		return Counter{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return Counter{}, nil
	}
	return parseCounter(fields["start"], fields["count"])
}

// Add rolls the counter over if its window elapsed, then adds n, atomically.
func (s *RedisStore) Add(ctx context.Context, key string, n int, now time.Time, length time.Duration) (Counter, error) {
	vals, err := addScript.Run(ctx, s.client, []string{s.key(key)}, now.UnixMilli(), length.Milliseconds(), n).StringSlice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis add %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("redis add %s: unexpected reply %v", key, vals)
	}
	return parseCounter(vals[0], vals[1])
}

func parseCounter(start, count string) (Counter, error) {
	ms, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return Counter{}, fmt.Errorf("parse window start %q: %w", start, err)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return Counter{}, fmt.Errorf("parse count %q: %w", count, err)
	}
	return Counter{Start: time.UnixMilli(ms), Count: n}, nil
}
