package application

import (
	"context"
	"time"

	"docuquery-api/middleware/ratelimit/domain"
)

// tryAcquirer is implemented by pools that can hand out a free slot without
// waiting.
type tryAcquirer interface {
	TryAcquire() (release func(), ok bool)
}

// ConcurrencyService caps in-flight work with a SlotPool. A nil Pool admits
// everything.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout bounds the wait for a slot. Zero or less waits until the
	// caller's context is done.
	AcquireTimeout time.Duration
}

// Acquire takes a slot, waiting at most AcquireTimeout. When ok is false no
// slot is held and release is nil.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if p, ok := s.Pool.(tryAcquirer); ok {
		if release, ok := p.TryAcquire(); ok {
			return release, true
		}
	}
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	return s.Pool.Acquire(ctx)
}

// InFlight reports how many slots are held right now.
func (s ConcurrencyService) InFlight() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
