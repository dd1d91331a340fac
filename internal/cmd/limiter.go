package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"docuquery-api/internal/config"
	"docuquery-api/internal/observability"
	"docuquery-api/internal/server/handlers"
	"docuquery-api/middleware/ratelimit"
	"docuquery-api/middleware/ratelimit/application"
	"docuquery-api/middleware/ratelimit/domain"
	"docuquery-api/middleware/ratelimit/infra"
)

// limiterStack is the assembled admission control of the server.
type limiterStack struct {
	rateLimit   func(http.Handler) http.Handler
	concurrency *ratelimit.Concurrency

	clients  domain.Sizer
	stats    domain.StatsReader
	checkers map[string]handlers.HealthChecker

	closers []func() error
}

func (l *limiterStack) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		_ = l.closers[i]()
	}
}

// buildLimiter wires the quota store, stats store, rate limit and concurrency
// middlewares from the settings. The memory janitor stops with ctx.
func buildLimiter(ctx context.Context, st *config.Settings, logger zerolog.Logger, m *observability.Metrics) (*limiterStack, error) {
	rl := st.RateLimit
	lim := &limiterStack{
		concurrency: ratelimit.NewConcurrency(ratelimit.ConcurrencyOptions{
			Max:            st.Concurrency.Max,
			AcquireTimeout: st.Concurrency.Timeout,
			OnReject:       m.InflightRejected.Inc,
		}),
		checkers: make(map[string]handlers.HealthChecker),
	}
	if !rl.Enabled {
		logger.Warn().Msg("rate limiting disabled")
		return lim, nil
	}

	var rdb redis.UniversalClient
	if st.NeedsRedis() {
		client, err := newRedisClient(ctx, st, logger)
		if err != nil {
			return nil, err
		}
		rdb = client
		lim.closers = append(lim.closers, client.Close)
		lim.checkers["redis"] = handlers.CheckerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	policy := domain.Policy{Limit: rl.Requests, Window: rl.Window()}

	var store domain.QuotaStore
	switch rl.Backend {
	case config.BackendRedis:
		rs := infra.NewRedisStore(rdb,
			infra.WithQuotaPrefix(rl.RedisPrefix),
			infra.WithQuotaIdleTTL(rl.IdleTTL),
		)
		store = rs
		lim.checkers["ratelimit_store"] = handlers.CheckerFunc(rs.Ping)
	default:
		ms := infra.NewStore(
			infra.WithIdleTTL(rl.IdleTTL),
			infra.WithCleanupEvery(rl.SweepInterval),
			infra.WithEvictHook(func(n int) { m.RateLimitEvicted.Add(float64(n)) }),
		)
		ms.StartJanitor(ctx, policy)
		store = ms
		lim.clients = ms
		m.TrackClients(ms.Len)
		lim.checkers["ratelimit_store"] = handlers.CheckerFunc(func(context.Context) error { return nil })
	}

	mode := application.RetryAfterWindow
	if rl.PreciseRetryAfter {
		mode = application.RetryAfterRemaining
	}
	svc, err := application.NewService(store, policy, mode)
	if err != nil {
		return nil, err
	}

	var stats domain.StatsStore
	if rl.StatsEnabled {
		switch rl.StatsBackend {
		case config.BackendRedis:
			rs := infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(rl.StatsPrefix),
				infra.WithStatsTTL(rl.StatsTTL),
				infra.WithStatsTrackKeys(rl.StatsTrackKeys),
				infra.WithStatsMaxRoutes(rl.StatsMaxRoutes),
			)
			stats, lim.stats = rs, rs
		default:
			ms := infra.NewMemoryStatsStore(
				infra.WithTrackKeys(rl.StatsTrackKeys),
				infra.WithMaxRoutes(rl.StatsMaxRoutes),
			)
			stats, lim.stats = ms, ms
		}
	}

	lim.rateLimit = ratelimit.Middleware(ratelimit.Options{
		Service:            svc,
		Stats:              stats,
		KeyHeader:          rl.KeyHeader,
		TrustXForwardedFor: rl.TrustXFF,
		ExemptPaths:        rl.ExemptPaths,
		FailOpen:           rl.FailOpen,
		OnDecision: func(o ratelimit.Outcome) {
			m.RateLimitDecisions.WithLabelValues(string(o)).Inc()
		},
		OnStoreError: func(error) { m.RateLimitStoreErrs.Inc() },
	})

	logger.Info().
		Str("backend", rl.Backend).
		Int("requests", rl.Requests).
		Dur("window", rl.Window()).
		Bool("precise_retry_after", rl.PreciseRetryAfter).
		Bool("fail_open", rl.FailOpen).
		Strs("exempt_paths", rl.ExemptPaths).
		Msg("rate limiting enabled")
	return lim, nil
}

// newRedisClient connects and pings. A failed ping is fatal only when the
// limiter fails closed.
func newRedisClient(ctx context.Context, st *config.Settings, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(st.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis_url: %w", err)
	}
	if st.Redis.PoolSize > 0 {
		opts.PoolSize = st.Redis.PoolSize
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if !st.RateLimit.FailOpen {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Warn().Err(err).Msg("redis unreachable at startup, rate limiting fails open")
	}
	return client, nil
}
