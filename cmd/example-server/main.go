// Command example-server shows the rate limit middleware mounted directly on a
// plain net/http mux, without the full DocuQuery server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/hlog"

	"docuquery-api/internal/observability"
	"docuquery-api/middleware/ratelimit"
	"docuquery-api/middleware/ratelimit/application"
	"docuquery-api/middleware/ratelimit/domain"
	"docuquery-api/middleware/ratelimit/infra"
)

func main() {
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"), os.Stdout, true)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy := domain.Policy{Limit: 5, Window: 10 * time.Second}
	store := infra.NewStore(infra.WithIdleTTL(time.Minute))
	store.StartJanitor(ctx, policy)

	svc, err := application.NewService(store, policy, application.RetryAfterRemaining)
	if err != nil {
		logger.Fatal().Err(err).Msg("rate limit service")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Service:            svc,
		KeyHeader:          "X-Api-Key", // empty keys by client IP
		TrustXForwardedFor: true,
		ExemptPaths:        []string{"/health"},
	})(h)
	h = hlog.NewHandler(logger)(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
