// Package middleware holds the cross-cutting HTTP middlewares of the API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docuquery-api/internal/observability"
)

const maxRequestIDLen = 128

// RequestID reuses a sane incoming X-Request-ID or generates a UUID, echoes it on
// the response and stores it in the context. When a request logger is attached
// it gains a request_id field.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(observability.RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		w.Header().Set(observability.RequestIDHeader, id)

		ctx := observability.WithRequestID(r.Context(), id)
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", id)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
