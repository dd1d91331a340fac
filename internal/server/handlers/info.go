package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"docuquery-api/internal/config"
	"docuquery-api/middleware/ratelimit/domain"
)

// BuildInfo is stamped by the linker.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"git_commit"`
	Date    string `json:"build_date"`
}

// LimiterState exposes the live admission controller state to /info/status.
// Every field is optional.
type LimiterState struct {
	Stats    domain.StatsReader
	Clients  domain.Sizer
	InFlight func() int
}

// Info serves the /info endpoints from the loaded settings.
type Info struct {
	settings *config.Settings
	build    BuildInfo
	started  time.Time
	limiter  LimiterState
	now      func() time.Time
}

func NewInfo(settings *config.Settings, build BuildInfo, started time.Time, limiter LimiterState) *Info {
	return &Info{
		settings: settings,
		build:    build,
		started:  started,
		limiter:  limiter,
		now:      time.Now,
	}
}

type infoResponse struct {
	Name             string              `json:"name"`
	Version          string              `json:"version"`
	Description      string              `json:"description"`
	BuildInfo        buildInfoResponse   `json:"build_info"`
	Features         config.FeatureFlags `json:"features"`
	SupportedFormats []string            `json:"supported_formats"`
	LLMProviders     []string            `json:"llm_providers"`
	VectorStores     []string            `json:"vector_stores"`
	Capabilities     map[string]any      `json:"capabilities"`
	API              map[string]string   `json:"api"`
	Limits           map[string]any      `json:"limits"`
}

type buildInfoResponse struct {
	BuildInfo
	Environment string `json:"environment"`
}

// InfoHandler serves GET /info.
func (i *Info) InfoHandler(w http.ResponseWriter, _ *http.Request) {
	s := i.settings
	writeJSON(w, http.StatusOK, infoResponse{
		Name:        s.App.Name,
		Version:     s.App.Version,
		Description: s.App.Description,
		BuildInfo: buildInfoResponse{
			BuildInfo:   i.build,
			Environment: s.App.Environment,
		},
		Features:         s.Features,
		SupportedFormats: s.Documents.SupportedFormats,
		LLMProviders:     s.LLM.Providers,
		VectorStores:     s.Vector.Stores,
		Capabilities: map[string]any{
			"max_document_size_mb":   s.Documents.MaxDocumentSizeMB,
			"max_concurrent_uploads": s.Documents.MaxConcurrentUpload,
			"max_query_length":       s.Documents.MaxQueryLength,
			"max_response_tokens":    s.LLM.MaxTokens,
			"ocr_support":            s.Features.DocumentOCR,
		},
		API: map[string]string{
			"version":  "v1",
			"base_url": "/api/v1",
		},
		Limits: map[string]any{
			"rate_limit_enabled":  s.RateLimit.Enabled,
			"rate_limit_requests": s.RateLimit.Requests,
			"rate_limit_window":   s.RateLimit.WindowSeconds,
			"max_file_size_mb":    s.Documents.MaxDocumentSizeMB,
			"max_concurrent":      s.Concurrency.Max,
		},
	})
}

// FeaturesHandler serves GET /info/features.
func (i *Info) FeaturesHandler(w http.ResponseWriter, _ *http.Request) {
	s := i.settings
	writeJSON(w, http.StatusOK, map[string]any{
		"authentication": map[string]any{
			"jwt": map[string]any{
				"enabled":                     s.Auth.JWTSecret != "",
				"algorithm":                   s.Auth.JWTAlgorithm,
				"access_token_expiry_minutes": s.Auth.AccessTokenExpireMins,
				"refresh_token_expiry_days":   s.Auth.RefreshTokenExpireDay,
			},
			"oauth2": map[string]any{
				"enabled": s.Features.OAuth,
				"providers": map[string]any{
					"google":    map[string]bool{"enabled": s.Features.OAuth, "client_id_configured": s.Auth.GoogleClientID != ""},
					"microsoft": map[string]bool{"enabled": s.Features.OAuth, "client_id_configured": s.Auth.MicrosoftClientID != ""},
				},
			},
		},
		"document_processing": map[string]any{
			"upload": map[string]any{
				"enabled":           true,
				"max_file_size_mb":  s.Documents.MaxDocumentSizeMB,
				"supported_formats": s.Documents.SupportedFormats,
			},
			"ocr": map[string]any{
				"enabled": s.Features.DocumentOCR,
			},
			"chunking": map[string]any{
				"enabled":        true,
				"max_chunk_size": s.Documents.ChunkSize,
				"overlap":        s.Documents.ChunkOverlap,
			},
		},
		"vector_search": map[string]any{
			"enabled":         s.Features.VectorSearch,
			"provider":        firstOr(s.Vector.Stores, ""),
			"embedding_model": s.LLM.EmbeddingModel,
		},
		"llm_integration": map[string]any{
			"enabled":          s.LLM.OpenAIAPIKey != "",
			"primary_provider": firstOr(s.LLM.Providers, ""),
			"model":            s.LLM.Model,
			"max_tokens":       s.LLM.MaxTokens,
			"temperature":      s.LLM.Temperature,
			"streaming":        s.Features.Streaming,
		},
		"rate_limiting": map[string]any{
			"enabled":             s.RateLimit.Enabled,
			"backend":             s.RateLimit.Backend,
			"requests_per_window": s.RateLimit.Requests,
			"window_seconds":      s.RateLimit.WindowSeconds,
			"precise_retry_after": s.RateLimit.PreciseRetryAfter,
			"fail_open":           s.RateLimit.FailOpen,
		},
	})
}

type statusResponse struct {
	Operational     bool             `json:"operational"`
	MaintenanceMode bool             `json:"maintenance_mode"`
	Uptime          string           `json:"uptime"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	RateLimit       *rateLimitStatus `json:"rate_limit,omitempty"`
	InFlight        int              `json:"in_flight_requests"`
}

type rateLimitStatus struct {
	Decisions      *domain.Counters `json:"decisions,omitempty"`
	TrackedClients *int             `json:"tracked_clients,omitempty"`
}

// StatusHandler serves GET /info/status. Stats read errors are logged and the
// field is left out.
func (i *Info) StatusHandler(w http.ResponseWriter, r *http.Request) {
	up := i.now().Sub(i.started)
	resp := statusResponse{
		Operational:   true,
		Uptime:        FormatUptime(up),
		UptimeSeconds: int64(up / time.Second),
	}

	if i.settings.RateLimit.Enabled {
		rl := &rateLimitStatus{}
		if i.limiter.Stats != nil {
			tot, err := i.limiter.Stats.Totals(r.Context())
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("read rate limit totals")
			} else {
				rl.Decisions = &tot
			}
		}
		if i.limiter.Clients != nil {
			n := i.limiter.Clients.Len()
			rl.TrackedClients = &n
		}
		resp.RateLimit = rl
	}
	if i.limiter.InFlight != nil {
		resp.InFlight = i.limiter.InFlight()
	}

	writeJSON(w, http.StatusOK, resp)
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
