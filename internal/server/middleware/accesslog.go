package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"docuquery-api/internal/observability"
)

// Logger attaches a copy of logger to every request and writes one access log
// line per request, at a level chosen from the status.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(logger)(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).WithLevel(observability.LevelForStatus(status)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("query", r.URL.RawQuery).
					Str("remote", r.RemoteAddr).
					Str("ua", r.UserAgent()).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Msg("request")
			})(next),
		)
	}
}
