package infra

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"docuquery-api/middleware/ratelimit/domain"
)

const defaultShards = 32

// Store is the in-memory fixed-window quota table.
//
// Keys are spread over mutex-guarded shards by xxhash, so requests for the same key
// serialize while unrelated keys rarely contend. Records whose window ended more
// than idleTTL ago are removed by Sweep.
type Store struct {
	shards       []*shard
	idleTTL      time.Duration
	cleanupEvery time.Duration
	onEvict      func(n int)
}

type shard struct {
	mu      sync.Mutex
	entries map[domain.Key]*domain.QuotaRecord
}

// StoreOption configures a Store built by NewStore.
type StoreOption func(*Store)

// WithIdleTTL sets how long a record is kept after its window closed.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

// WithCleanupEvery sets the janitor period. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

// WithShards overrides the shard count (rounded up to 1).
func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n < 1 {
			n = 1
		}
		s.shards = newShards(n)
	}
}

// WithEvictHook registers a callback receiving the number of records removed by
// each sweep.
func WithEvictHook(fn func(n int)) StoreOption {
	return func(s *Store) { s.onEvict = fn }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards:       newShards(defaultShards),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{entries: make(map[domain.Key]*domain.QuotaRecord)}
	}
	return out
}

func (s *Store) shardFor(key domain.Key) *shard {
	return s.shards[xxhash.Sum64String(string(key))%uint64(len(s.shards))]
}

func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

// Admit implements domain.QuotaStore.
func (s *Store) Admit(_ context.Context, key domain.Key, p domain.Policy, now time.Time) (domain.Decision, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.entries[key]
	if !ok {
		rec = &domain.QuotaRecord{Key: key}
		sh.entries[key] = rec
	}
	return rec.Admit(p, now), nil
}

// Peek implements domain.QuotaStore.
func (s *Store) Peek(_ context.Context, key domain.Key) (domain.QuotaRecord, bool, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.entries[key]
	if !ok {
		return domain.QuotaRecord{}, false, nil
	}
	return *rec, true, nil
}

// Len reports the number of tracked keys.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes records whose window is over and has been idle for longer than
// idleTTL at now, and returns how many were removed. The window length comes from p.
func (s *Store) Sweep(p domain.Policy, now time.Time) int {
	cutoff := now.Add(-s.idleTTL)
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, rec := range sh.entries {
			if rec.ResetAt(p).Before(cutoff) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 && s.onEvict != nil {
		s.onEvict(removed)
	}
	return removed
}

// StartJanitor starts a goroutine that sweeps idle records periodically.
// Stop it by cancelling ctx.
func (s *Store) StartJanitor(ctx context.Context, p domain.Policy) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Sweep(p, now)
			}
		}
	}()
}
