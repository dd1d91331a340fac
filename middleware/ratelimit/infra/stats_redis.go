package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docuquery-api/middleware/ratelimit/domain"
)

// RedisStatsStore aggregates decision counters in Redis hashes:
//
//	<prefix>:total                 allowed/denied, cumulative
//	<prefix>:minute:YYYYMMDDhhmm   allowed/denied per minute, expires after ttl
//	<prefix>:route                 "METHOD path:allowed|denied"
//	<prefix>:key:<key>             allowed/denied per key (only with trackKeys)
//
// Each process writes at most maxRoutes distinct routes to the route hash; later
// ones are counted under OtherRoute.
type RedisStatsStore struct {
	rdb redis.UniversalClient

	mu        sync.Mutex
	routes    map[string]struct{}
	maxRoutes int

	prefix string
	// ttl applies to time-series and per-key hashes only; total never expires.
	ttl time.Duration

	bucket string // "minute" (default) or "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

// WithStatsMaxRoutes caps the distinct routes this process writes. n <= 0 turns
// per-route counting off.
func WithStatsMaxRoutes(n int) RedisStatsOption {
	return func(s *RedisStatsStore) { s.maxRoutes = n }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:       rdb,
		routes:    make(map[string]struct{}),
		maxRoutes: DefaultMaxRoutes,
		prefix:    "ratelimit:stats",
		ttl:       24 * time.Hour,
		bucket:    "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if route := s.routeField(routeName(ev)); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals implements domain.StatsReader.
func (s *RedisStatsStore) Totals(ctx context.Context) (domain.Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.totalKey()).Result()
	if err != nil {
		return domain.Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	var c domain.Counters
	if v, ok := vals["allowed"]; ok {
		c.Allowed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["denied"]; ok {
		c.Denied, _ = strconv.ParseInt(v, 10, 64)
	}
	return c, nil
}

func (s *RedisStatsStore) routeField(route string) string {
	if s.maxRoutes <= 0 || route == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[route]; ok {
		return route
	}
	if len(s.routes) >= s.maxRoutes {
		return OtherRoute
	}
	s.routes[route] = struct{}{}
	return route
}

func (s *RedisStatsStore) totalKey() string { return s.prefix + ":total" }
