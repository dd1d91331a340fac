package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"docuquery-api/internal/apperrors"
	"docuquery-api/middleware/ratelimit/application"
	"docuquery-api/middleware/ratelimit/domain"
)

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderWindow     = "X-RateLimit-Window"
	HeaderRetryAfter = "Retry-After"
)

// DeniedMessage is the message of the 429 envelope.
const DeniedMessage = "Rate limit exceeded. Please try again later."

// Outcome labels an admission decision for metrics.
type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeDenied     Outcome = "denied"
	OutcomeExempt     Outcome = "exempt"
	OutcomeFailOpen   Outcome = "fail_open"
	OutcomeFailClosed Outcome = "fail_closed"
)

// KeyFunc resolves the quota key of a request. An empty result is counted
// against domain.UnknownKey.
type KeyFunc func(r *http.Request) string

// Options configures Middleware.
type Options struct {
	// Service decides admission. Nil disables the middleware.
	Service *application.Service
	// Stats receives every admission decision, best-effort.
	Stats domain.StatsStore

	// KeyFn overrides DefaultKeyFunc(KeyHeader, TrustXForwardedFor).
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	// ExemptPaths bypass the controller. An entry matches the path itself and
	// everything below it.
	ExemptPaths []string

	// FailOpen admits requests when the quota store errors; otherwise they get 503.
	FailOpen bool

	// StoreErrorLogEvery throttles store error logs. Defaults to 10s.
	StoreErrorLogEvery time.Duration

	OnDecision   func(Outcome)
	OnStoreError func(error)
}

// DefaultKeyFunc resolves the client identity: keyHeader when set and present,
// then the first X-Forwarded-For hop when trusted, then the peer host. Requests
// with none of those share domain.UnknownKey.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(addr)
		if err == nil && host != "" {
			return host
		}
		if addr != "" {
			return addr
		}
		return string(domain.UnknownKey)
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Service == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.StoreErrorLogEvery <= 0 {
		opts.StoreErrorLogEvery = 10 * time.Second
	}

	svc := opts.Service
	exempt := newPathSet(opts.ExemptPaths)
	errLog := &rate.Sometimes{Interval: opts.StoreErrorLogEvery}

	observe := func(o Outcome) {
		if opts.OnDecision != nil {
			opts.OnDecision(o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt.match(r.URL.Path) {
				observe(OutcomeExempt)
				next.ServeHTTP(w, r)
				return
			}

			key := domain.Key(opts.KeyFn(r))
			dec, err := svc.Admit(r.Context(), key)
			if err != nil {
				if opts.OnStoreError != nil {
					opts.OnStoreError(err)
				}
				errLog.Do(func() {
					zerolog.Ctx(r.Context()).Error().Err(err).
						Str("client", string(key)).
						Bool("fail_open", opts.FailOpen).
						Msg("rate limit store unavailable")
				})
				if opts.FailOpen {
					observe(OutcomeFailOpen)
					next.ServeHTTP(w, r)
					return
				}
				observe(OutcomeFailClosed)
				apperrors.Respond(w, r, apperrors.New(http.StatusServiceUnavailable,
					apperrors.CodeRateLimiterDown, "Rate limiter unavailable").Wrap(err))
				return
			}

			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     key,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
			}

			h := w.Header()
			h.Set(HeaderLimit, formatInt(dec.Limit))
			h.Set(HeaderReset, formatInt64(dec.ResetAt.Unix()))

			if !dec.Allowed {
				observe(OutcomeDenied)
				h.Set(HeaderWindow, formatSeconds(dec.Window))
				h.Set(HeaderRetryAfter, formatSeconds(dec.RetryAfter))
				apperrors.Respond(w, r, apperrors.RateLimitExceeded(DeniedMessage).WithDetails(map[string]any{
					"limit":          dec.Limit,
					"window_seconds": wholeSeconds(dec.Window),
					"retry_after":    wholeSeconds(dec.RetryAfter),
				}))
				return
			}

			observe(OutcomeAllowed)
			h.Set(HeaderRemaining, formatInt(dec.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

type pathSet []string

func newPathSet(paths []string) pathSet {
	var out pathSet
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p != "/" {
			p = strings.TrimSuffix(p, "/")
		}
		out = append(out, p)
	}
	return out
}

func (s pathSet) match(path string) bool {
	for _, p := range s {
		if p == "/" || path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
