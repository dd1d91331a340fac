package infra

import (
	"context"
	"sync"

	"docuquery-api/middleware/ratelimit/domain"
)

// chanPool is a counting semaphore: every token buffered in sem is a held slot.
type chanPool struct {
	sem chan struct{}
}

// NewChanPool returns a semaphore with max slots, at least one.
func NewChanPool(max int) domain.SlotPool {
	if max < 1 {
		max = 1
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

// TryAcquire takes a slot only if one is free right now.
func (p *chanPool) TryAcquire() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
		return nil, false
	}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	if release, ok := p.TryAcquire(); ok {
		return release, true
	}
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

// releaser frees the slot once, however many times it is called.
func (p *chanPool) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}

// InUse reports the slots held right now.
func (p *chanPool) InUse() int { return len(p.sem) }

// Cap is the number of slots.
func (p *chanPool) Cap() int { return cap(p.sem) }
