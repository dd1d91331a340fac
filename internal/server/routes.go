package server

import "github.com/go-chi/chi/v5"

// APIPrefix is where the versioned API is mounted.
const APIPrefix = "/api/v1"

func (s *Server) registerRoutes(d Deps) {
	s.router.Route(APIPrefix, func(r chi.Router) {
		if d.Health != nil {
			r.Get("/health", d.Health.HealthHandler)
			r.Get("/health/ready", d.Health.ReadinessHandler)
			r.Get("/health/live", d.Health.LivenessHandler)
		}
		if d.Info != nil {
			r.Get("/info", d.Info.InfoHandler)
			r.Get("/info/features", d.Info.FeaturesHandler)
			r.Get("/info/status", d.Info.StatusHandler)
		}
	})
}
