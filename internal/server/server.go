// Package server assembles the chi router, the middleware chain and the HTTP
// listeners of the API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"docuquery-api/internal/apperrors"
	"docuquery-api/internal/config"
	"docuquery-api/internal/observability"
	"docuquery-api/internal/server/handlers"
	servermw "docuquery-api/internal/server/middleware"
)

type Middleware = func(http.Handler) http.Handler

// Deps are the collaborators the server is built from. Nil middlewares are skipped.
type Deps struct {
	Settings *config.Settings
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Health   *handlers.HealthManager
	Info     *handlers.Info

	Concurrency Middleware
	RateLimit   Middleware
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger
}

func New(d Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    d.Logger,
	}
	st := d.Settings

	r := s.router
	r.Use(servermw.Logger(d.Logger))
	r.Use(servermw.RequestID)
	r.Use(servermw.Recovery)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(servermw.Timing)
	r.Use(servermw.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   st.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(servermw.BodyLimit(st.Server.MaxBodyBytes))
	if d.Concurrency != nil {
		r.Use(d.Concurrency)
	}
	if d.RateLimit != nil {
		r.Use(d.RateLimit)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Respond(w, req, apperrors.NotFound("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.Respond(w, req, apperrors.MethodNotAllowed("The requested method is not allowed for this resource"))
	})

	s.registerRoutes(d)

	s.http = &http.Server{
		Addr:         st.Server.Addr(),
		Handler:      r,
		ReadTimeout:  st.Server.ReadTimeout,
		WriteTimeout: st.Server.WriteTimeout,
		IdleTimeout:  st.Server.IdleTimeout,
	}
	return s
}

var exposedHeaders = []string{
	observability.RequestIDHeader,
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"X-RateLimit-Window",
	"Retry-After",
	servermw.HeaderProcessTime,
	servermw.HeaderProcessTimeMS,
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.http.Addr }

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.http.Shutdown(ctx)
}

// NewMetricsServer serves the Prometheus registry on its own listener.
func NewMetricsServer(addr string, m *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
