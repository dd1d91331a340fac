package application

import (
	"context"
	"errors"
	"math"
	"time"

	"docuquery-api/middleware/ratelimit/domain"
)

// ErrInvalidPolicy is returned when the limit is not positive or the window is
// shorter than domain.MinWindow.
var ErrInvalidPolicy = errors.New("ratelimit: limit must be positive and window at least 1s")

// RetryAfterMode selects how Retry-After is computed on denial.
type RetryAfterMode int

const (
	// RetryAfterWindow always reports the full window length.
	RetryAfterWindow RetryAfterMode = iota
	// RetryAfterRemaining reports the time left until the current window closes.
	RetryAfterRemaining
)

// Service holds the application rule of the admission controller.
//
// It knows nothing about HTTP (headers/status), it only returns a decision.
type Service struct {
	Store      domain.QuotaStore
	Policy     domain.Policy
	RetryAfter RetryAfterMode
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewService validates the policy and returns a ready Service.
func NewService(store domain.QuotaStore, p domain.Policy, mode RetryAfterMode) (*Service, error) {
	if !p.Valid() {
		return nil, ErrInvalidPolicy
	}
	return &Service{Store: store, Policy: p, RetryAfter: mode}, nil
}

// Admit counts one request for key and decides whether it may proceed.
//
// A denial is a regular Decision with Allowed=false; the error is reserved for
// store failures.
func (s *Service) Admit(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{
			Allowed:   true,
			Limit:     s.Policy.Limit,
			Remaining: s.Policy.Limit,
			Window:    s.Policy.Window,
			ResetAt:   s.now().Add(s.Policy.Window),
		}, nil
	}
	if key == "" {
		key = domain.UnknownKey
	}

	now := s.now()
	dec, err := s.Store.Admit(ctx, key, s.Policy, now)
	if err != nil {
		return domain.Decision{}, err
	}
	if !dec.Allowed {
		dec.RetryAfter = s.retryAfter(dec, now)
	}
	return dec, nil
}

// RemainingFor reports the quota left for key at the current time without
// counting a request.
func (s *Service) RemainingFor(ctx context.Context, key domain.Key) (int, error) {
	if s.Store == nil {
		return s.Policy.Limit, nil
	}
	if key == "" {
		key = domain.UnknownKey
	}
	rec, ok, err := s.Store.Peek(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.Policy.Limit, nil
	}
	return rec.Remaining(s.Policy, s.now()), nil
}

func (s *Service) retryAfter(dec domain.Decision, now time.Time) time.Duration {
	if s.RetryAfter != RetryAfterRemaining {
		return s.Policy.Window
	}
	left := dec.ResetAt.Sub(now)
	// whole seconds, at least 1
	secs := math.Ceil(left.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
