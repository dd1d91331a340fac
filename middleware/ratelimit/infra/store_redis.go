package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docuquery-api/middleware/ratelimit/domain"
)

// admitScript runs the fixed-window transition server side so that concurrent
// gateways sharing one Redis see a single counter per key.
//
// KEYS[1] record hash; ARGV: limit, window_ms, now_ms, ttl_ms.
// Returns {allowed, count, window_start_ms}.
var admitScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))

if count == nil or start == nil or count <= 0 or (now_ms - start) > window_ms then
  redis.call('HSET', KEYS[1], 'count', 1, 'start', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ttl_ms)
  return {1, 1, now_ms}
end

if count >= limit then
  return {0, count, start}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, start}
`)

// RedisStore is a domain.QuotaStore shared by every instance pointing at the same
// Redis. Records expire on their own window + idleTTL after the window opened.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

type RedisStoreOption func(*RedisStore)

func WithQuotaPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithQuotaIdleTTL(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.idleTTL = d }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		prefix:  "ratelimit:quota",
		idleTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k domain.Key) string {
	return s.prefix + ":" + string(k)
}

// Admit implements domain.QuotaStore.
func (s *RedisStore) Admit(ctx context.Context, key domain.Key, p domain.Policy, now time.Time) (domain.Decision, error) {
	ttl := p.Window + s.idleTTL
	res, err := admitScript.Run(ctx, s.rdb, []string{s.key(key)},
		p.Limit,
		p.Window.Milliseconds(),
		now.UnixMilli(),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis admit %q: %w", key, err)
	}
	if len(res) != 3 {
		return domain.Decision{}, fmt.Errorf("redis admit %q: unexpected reply %v", key, res)
	}

	rec := domain.QuotaRecord{
		Key:         key,
		Count:       int(res[1]),
		WindowStart: time.UnixMilli(res[2]),
	}
	allowed := res[0] == 1

	dec := domain.Decision{
		Allowed:     allowed,
		Limit:       p.Limit,
		Window:      p.Window,
		WindowStart: rec.WindowStart,
		ResetAt:     rec.ResetAt(p),
	}
	if allowed {
		dec.Remaining = max(0, p.Limit-rec.Count)
	}
	return dec, nil
}

// Peek implements domain.QuotaStore.
func (s *RedisStore) Peek(ctx context.Context, key domain.Key) (domain.QuotaRecord, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(key), "count", "start").Result()
	if err != nil {
		return domain.QuotaRecord{}, false, fmt.Errorf("redis peek %q: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return domain.QuotaRecord{}, false, nil
	}

	count, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return domain.QuotaRecord{}, false, fmt.Errorf("redis peek %q: bad count: %w", key, err)
	}
	start, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return domain.QuotaRecord{}, false, fmt.Errorf("redis peek %q: bad start: %w", key, err)
	}
	return domain.QuotaRecord{Key: key, Count: int(count), WindowStart: time.UnixMilli(start)}, true, nil
}

// Ping checks connectivity; used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis quota store unreachable"), err)
	}
	return nil
}
