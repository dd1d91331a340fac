package infra

import (
	"context"
	"sync"

	"docuquery-api/middleware/ratelimit/domain"
)

// MemoryStatsStore keeps decision counters in process memory.
//
// Nothing expires. Per-route counters hold at most maxRoutes distinct routes and
// fold the rest into OtherRoute; per-key tracking is off by default because the
// key space is unbounded.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   domain.Counters
	byRoute map[string]domain.Counters
	byKey   map[string]domain.Counters

	maxRoutes int
	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxRoutes caps the number of distinct routes counted. n <= 0 turns
// per-route counting off.
func WithMaxRoutes(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.maxRoutes = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:   make(map[string]domain.Counters),
		byKey:     make(map[string]domain.Counters),
		maxRoutes: DefaultMaxRoutes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := routeName(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	bump(&s.total, ev.Allowed)

	if s.maxRoutes > 0 && route != "" {
		if _, ok := s.byRoute[route]; !ok && len(s.byRoute) >= s.maxRoutes {
			route = OtherRoute
		}
		c := s.byRoute[route]
		bump(&c, ev.Allowed)
		s.byRoute[route] = c
	}

	if s.trackKeys {
		k := s.byKey[string(ev.Key)]
		bump(&k, ev.Allowed)
		s.byKey[string(ev.Key)] = k
	}
	return nil
}

func bump(c *domain.Counters, allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// Totals implements domain.StatsReader.
func (s *MemoryStatsStore) Totals(context.Context) (domain.Counters, error) {
	return s.Total(), nil
}

func (s *MemoryStatsStore) Total() domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
