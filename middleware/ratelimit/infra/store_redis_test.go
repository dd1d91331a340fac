package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docuquery-api/middleware/ratelimit/domain"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_ScenarioThreePerMinute(t *testing.T) {
	_, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb)
	ctx := context.Background()

	for i, want := range []int{2, 1, 0} {
		dec, err := s.Admit(ctx, "A", policy, t0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if !dec.Allowed || dec.Remaining != want {
			t.Fatalf("request %d: expected allowed remaining=%d, got allowed=%v remaining=%d", i+1, want, dec.Allowed, dec.Remaining)
		}
		if !dec.ResetAt.Equal(t0.Add(time.Minute)) {
			t.Fatalf("request %d: expected reset at t0+60s, got %s", i+1, dec.ResetAt)
		}
	}

	dec, err := s.Admit(ctx, "A", policy, t0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if dec.Allowed || dec.Remaining != 0 {
		t.Fatalf("expected rejection with remaining=0, got allowed=%v remaining=%d", dec.Allowed, dec.Remaining)
	}

	dec, err = s.Admit(ctx, "A", policy, t0.Add(61*time.Second))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !dec.Allowed || dec.Remaining != 2 {
		t.Fatalf("expected new window at t=61, got allowed=%v remaining=%d", dec.Allowed, dec.Remaining)
	}
	if !dec.WindowStart.Equal(t0.Add(61 * time.Second)) {
		t.Fatalf("expected window start t0+61s, got %s", dec.WindowStart)
	}
}

func TestRedisStore_DenialDoesNotMutate(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb, WithQuotaPrefix("q:"))
	ctx := context.Background()
	p := domain.Policy{Limit: 1, Window: time.Minute}

	_, _ = s.Admit(ctx, "A", p, t0)
	_, _ = s.Admit(ctx, "A", p, t0.Add(time.Second))

	if got := mr.HGet("q:A", "count"); got != "1" {
		t.Fatalf("expected count to stay 1 after denial, got %q", got)
	}

	rec, ok, err := s.Peek(ctx, "A")
	if err != nil || !ok {
		t.Fatalf("peek: ok=%v err=%v", ok, err)
	}
	if rec.Count != 1 || !rec.WindowStart.Equal(t0) {
		t.Fatalf("expected {1, t0}, got {%d, %s}", rec.Count, rec.WindowStart)
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb, WithQuotaIdleTTL(time.Minute))

	_, _ = s.Admit(context.Background(), "A", policy, t0)

	if ttl := mr.TTL("ratelimit:quota:A"); ttl != 2*time.Minute {
		t.Fatalf("expected ttl=window+idle=2m, got %s", ttl)
	}

	mr.FastForward(3 * time.Minute)
	if _, ok, _ := s.Peek(context.Background(), "A"); ok {
		t.Fatalf("expected record to expire")
	}
}

func TestRedisStore_PeekMissing(t *testing.T) {
	_, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb)

	_, ok, err := s.Peek(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if ok {
		t.Fatalf("expected no record")
	}
}

func TestRedisStore_ConcurrentSameKey(t *testing.T) {
	_, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb)
	p := domain.Policy{Limit: 20, Window: time.Minute}
	ctx := context.Background()

	const n = 30
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			dec, err := s.Admit(ctx, "A", p, t0)
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if dec.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != p.Limit {
		t.Fatalf("expected exactly %d admissions, got %d", p.Limit, allowed)
	}
}

func TestRedisStore_ErrorsWhenUnreachable(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	s := NewRedisStore(rdb)
	mr.Close()

	if _, err := s.Admit(context.Background(), "A", policy, t0); err == nil {
		t.Fatalf("expected an error with redis down")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error with redis down")
	}
}
