// Package ratelimit provides the net/http adapters of the admission controller:
// the fixed-window rate limit middleware and the in-flight concurrency limiter.
//
// Layers:
//
//   - domain: quota record, policy and the store contracts (no net/http)
//   - application: the admission and acquire/timeout use cases (no net/http)
//   - infra: sharded in-memory store, Redis store, stats stores, slot pool
//   - ratelimit (this package): key extraction, headers, status codes
//
// Request flow:
//
//  1. Skip exempt paths
//  2. Resolve the client key (header, X-Forwarded-For, peer address, "unknown")
//  3. Ask the application layer for a decision
//  4. Denied: 429 with X-RateLimit-Limit, X-RateLimit-Window, X-RateLimit-Reset and
//     Retry-After; the next handler is not called
//  5. Admitted: set X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset and
//     call the next handler
package ratelimit
