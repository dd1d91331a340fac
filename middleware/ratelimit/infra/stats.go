package infra

import (
	"strings"

	"docuquery-api/middleware/ratelimit/domain"
)

// DefaultMaxRoutes bounds per-route counters. Paths are raw request paths, so
// unmatched URLs share the overflow bucket once the table is full.
const DefaultMaxRoutes = 256

// OtherRoute collects the routes seen after the route table is full.
const OtherRoute = "other"

func routeName(ev domain.StatsEvent) string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
}
