package domain

import (
	"context"
	"time"
)

// StatsEvent is one admission decision as seen by the statistics layer.
//
// Method/Path are plain strings so the event is not tied to HTTP.
// Mind cardinality: recording raw keys or paths can blow up the number of series
// in Redis or Prometheus.
type StatsEvent struct {
	Key     Key
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore persists decision statistics.
//
// Callers treat errors as best-effort and never fail a request because of them.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters are allowed/denied totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// StatsReader exposes the cumulative totals of a StatsStore.
type StatsReader interface {
	Totals(ctx context.Context) (Counters, error)
}
