package ratelimit

import (
	"net/http"
	"time"

	"docuquery-api/internal/apperrors"
	"docuquery-api/middleware/ratelimit/application"
	"docuquery-api/middleware/ratelimit/domain"
	"docuquery-api/middleware/ratelimit/infra"
)

// ConcurrencyOptions configures the in-flight limiter. Max 0 with no Pool
// disables it.
type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	// Pool overrides the default channel semaphore of Max slots.
	Pool     domain.SlotPool
	OnReject func()
}

// Concurrency is the in-flight limiter. Its zero value admits everything.
type Concurrency struct {
	svc      application.ConcurrencyService
	onReject func()
}

func NewConcurrency(opts ConcurrencyOptions) *Concurrency {
	c := &Concurrency{onReject: opts.OnReject}
	pool := opts.Pool
	if pool == nil && opts.Max > 0 {
		pool = infra.NewChanPool(opts.Max)
	}
	c.svc = application.ConcurrencyService{Pool: pool, AcquireTimeout: opts.AcquireTimeout}
	return c
}

// InFlight reports the slots currently held.
func (c *Concurrency) InFlight() int { return c.svc.InFlight() }

func (c *Concurrency) Middleware(next http.Handler) http.Handler {
	if c.svc.Pool == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := c.svc.Acquire(r.Context())
		if !ok {
			if c.onReject != nil {
				c.onReject()
			}
			apperrors.Respond(w, r, apperrors.ServiceUnavailable("Server is at capacity, please retry shortly"))
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

// ConcurrencyMiddleware is shorthand for NewConcurrency(opts).Middleware.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrency(opts).Middleware
}
