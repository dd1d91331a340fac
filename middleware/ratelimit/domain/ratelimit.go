package domain

// Rate limit domain layer.
//
// Fixed-window quota rules and the contracts around them, with no dependency on net/http.

import (
	"context"
	"time"
)

// Key identifies the subject being limited (peer address, API key, ...).
type Key string

// UnknownKey is used when no identity can be discovered for a request.
// Every such request shares the same quota bucket.
const UnknownKey Key = "unknown"

// Policy is the quota applied to every key: Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// MinWindow is the shortest window a Policy accepts. Headers carry whole seconds.
const MinWindow = time.Second

// Valid reports whether the limit is positive and the window is at least MinWindow.
func (p Policy) Valid() bool {
	return p.Limit > 0 && p.Window >= MinWindow
}

// QuotaRecord is the per-key window state.
type QuotaRecord struct {
	Key         Key
	Count       int
	WindowStart time.Time
}

// Expired reports whether the window opened at WindowStart is over at now.
// The boundary itself still belongs to the window.
func (r QuotaRecord) Expired(p Policy, now time.Time) bool {
	return now.Sub(r.WindowStart) > p.Window
}

// ResetAt is the instant the current window closes.
func (r QuotaRecord) ResetAt(p Policy) time.Time {
	return r.WindowStart.Add(p.Window)
}

// Admit applies one request to the record and returns the decision.
//
// A nil-equivalent record (zero Count) or an expired window opens a new window with
// Count=1. A live window below the limit is incremented in place. A saturated
// window is left untouched and the request is denied.
func (r *QuotaRecord) Admit(p Policy, now time.Time) Decision {
	if r.Count <= 0 || r.Expired(p, now) {
		r.Count = 1
		r.WindowStart = now
		return r.decision(p, true)
	}
	if r.Count >= p.Limit {
		return r.decision(p, false)
	}
	r.Count++
	return r.decision(p, true)
}

// Remaining is the read-only counterpart of Admit: the quota left at now without
// counting a request.
func (r QuotaRecord) Remaining(p Policy, now time.Time) int {
	if r.Count <= 0 || r.Expired(p, now) {
		return p.Limit
	}
	return max(0, p.Limit-r.Count)
}

func (r QuotaRecord) decision(p Policy, allowed bool) Decision {
	d := Decision{
		Allowed:     allowed,
		Limit:       p.Limit,
		Window:      p.Window,
		WindowStart: r.WindowStart,
		ResetAt:     r.ResetAt(p),
	}
	if allowed {
		d.Remaining = max(0, p.Limit-r.Count)
	}
	return d
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Remaining is the quota left after this request was counted (0 when denied).
	Remaining int
	Limit     int
	Window    time.Duration
	// WindowStart and ResetAt bound the window the decision was taken in.
	WindowStart time.Time
	ResetAt     time.Time
	// RetryAfter is what callers should wait before retrying. Only set when denied.
	RetryAfter time.Duration
}

// QuotaStore owns the quota table.
//
// Admit must run the whole check-and-update for one key atomically: two concurrent
// calls for the same key never both see the last free slot.
type QuotaStore interface {
	Admit(ctx context.Context, key Key, p Policy, now time.Time) (Decision, error)
	// Peek returns the record for key without mutating it.
	Peek(ctx context.Context, key Key) (QuotaRecord, bool, error)
}

// Sizer is implemented by stores that can report how many keys they track.
type Sizer interface {
	Len() int
}
