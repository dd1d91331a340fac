// Package config loads the service settings from defaults, an optional YAML file,
// a .env file and the process environment, in increasing order of precedence.
//
// Keys are flat and match the environment variable names in lower case, so
// RATE_LIMIT_REQUESTS and `rate_limit_requests:` in a config file set the same value.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Settings struct {
	App         AppSettings         `mapstructure:",squash"`
	Server      ServerSettings      `mapstructure:",squash"`
	CORS        CORSSettings        `mapstructure:",squash"`
	Redis       RedisSettings       `mapstructure:",squash"`
	RateLimit   RateLimitSettings   `mapstructure:",squash"`
	Concurrency ConcurrencySettings `mapstructure:",squash"`
	Monitoring  MonitoringSettings  `mapstructure:",squash"`
	Features    FeatureFlags        `mapstructure:",squash"`
	Auth        AuthSettings        `mapstructure:",squash"`
	LLM         LLMSettings         `mapstructure:",squash"`
	Vector      VectorSettings      `mapstructure:",squash"`
	Documents   DocumentSettings    `mapstructure:",squash"`
}

type AppSettings struct {
	Name        string `mapstructure:"app_name"`
	Version     string `mapstructure:"app_version"`
	Description string `mapstructure:"app_description"`
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"`
}

type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr is host:port for net/http.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RedisSettings struct {
	URL      string `mapstructure:"redis_url"`
	PoolSize int    `mapstructure:"redis_pool_size"`
}

type RateLimitSettings struct {
	Enabled  bool `mapstructure:"rate_limit_enabled"`
	Requests int  `mapstructure:"rate_limit_requests"`
	// WindowSeconds is the fixed window length in whole seconds.
	WindowSeconds int    `mapstructure:"rate_limit_window"`
	Backend       string `mapstructure:"rate_limit_backend"`

	KeyHeader   string   `mapstructure:"rate_limit_key_header"`
	TrustXFF    bool     `mapstructure:"rate_limit_trust_xff"`
	ExemptPaths []string `mapstructure:"rate_limit_exempt_paths"`

	IdleTTL           time.Duration `mapstructure:"rate_limit_idle_ttl"`
	SweepInterval     time.Duration `mapstructure:"rate_limit_sweep_interval"`
	PreciseRetryAfter bool          `mapstructure:"rate_limit_precise_retry_after"`
	FailOpen          bool          `mapstructure:"rate_limit_fail_open"`
	RedisPrefix       string        `mapstructure:"rate_limit_redis_prefix"`

	StatsEnabled   bool          `mapstructure:"rate_limit_stats_enabled"`
	StatsBackend   string        `mapstructure:"rate_limit_stats_backend"`
	StatsPrefix    string        `mapstructure:"rate_limit_stats_prefix"`
	StatsTTL       time.Duration `mapstructure:"rate_limit_stats_ttl"`
	StatsTrackKeys bool          `mapstructure:"rate_limit_stats_track_keys"`
	// StatsMaxRoutes caps distinct per-route counters; 0 disables them.
	StatsMaxRoutes int `mapstructure:"rate_limit_stats_max_routes"`
}

func (r RateLimitSettings) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type ConcurrencySettings struct {
	Max     int           `mapstructure:"concurrency_max"`
	Timeout time.Duration `mapstructure:"concurrency_timeout"`
}

type MonitoringSettings struct {
	PrometheusEnabled bool `mapstructure:"prometheus_enabled"`
	PrometheusPort    int  `mapstructure:"prometheus_port"`
}

type FeatureFlags struct {
	MultiTenancy         bool `mapstructure:"feature_multi_tenancy" json:"multi_tenancy"`
	OAuth                bool `mapstructure:"feature_oauth_enabled" json:"oauth2"`
	DocumentOCR          bool `mapstructure:"feature_document_ocr" json:"document_ocr"`
	VectorSearch         bool `mapstructure:"feature_vector_search" json:"vector_search"`
	CitationGeneration   bool `mapstructure:"feature_citation_generation" json:"citation_generation"`
	Streaming            bool `mapstructure:"feature_streaming" json:"streaming"`
	BackgroundProcessing bool `mapstructure:"feature_background_processing" json:"background_processing"`
}

type AuthSettings struct {
	JWTSecret             string `mapstructure:"jwt_secret"`
	JWTAlgorithm          string `mapstructure:"jwt_algorithm"`
	AccessTokenExpireMins int    `mapstructure:"jwt_access_token_expire_minutes"`
	RefreshTokenExpireDay int    `mapstructure:"jwt_refresh_token_expire_days"`
	GoogleClientID        string `mapstructure:"google_client_id"`
	MicrosoftClientID     string `mapstructure:"microsoft_client_id"`
}

type LLMSettings struct {
	Providers      []string `mapstructure:"llm_providers"`
	OpenAIAPIKey   string   `mapstructure:"openai_api_key"`
	Model          string   `mapstructure:"openai_model"`
	EmbeddingModel string   `mapstructure:"openai_embedding_model"`
	MaxTokens      int      `mapstructure:"openai_max_tokens"`
	Temperature    float64  `mapstructure:"openai_temperature"`
}

type VectorSettings struct {
	Stores    []string `mapstructure:"vector_stores"`
	QdrantURL string   `mapstructure:"qdrant_url"`
	QdrantKey string   `mapstructure:"qdrant_api_key"`
}

type DocumentSettings struct {
	SupportedFormats    []string `mapstructure:"supported_formats"`
	MaxDocumentSizeMB   int      `mapstructure:"max_document_size_mb"`
	MaxConcurrentUpload int      `mapstructure:"max_concurrent_uploads"`
	MaxQueryLength      int      `mapstructure:"max_query_length"`
	ChunkSize           int      `mapstructure:"chunk_size"`
	ChunkOverlap        int      `mapstructure:"chunk_overlap"`
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled"}

// Validate reports every invalid value at once.
func (s *Settings) Validate() error {
	var errs []error

	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", s.Server.Port))
	}
	if !slices.Contains(logLevels, strings.ToLower(s.App.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level %q is not a known level", s.App.LogLevel))
	}

	rl := s.RateLimit
	if rl.Requests <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_requests must be positive, got %d", rl.Requests))
	}
	if rl.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_window must be positive, got %d", rl.WindowSeconds))
	}
	switch rl.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("rate_limit_backend must be %q or %q, got %q", BackendMemory, BackendRedis, rl.Backend))
	}
	if rl.StatsEnabled {
		switch rl.StatsBackend {
		case BackendMemory, BackendRedis:
		default:
			errs = append(errs, fmt.Errorf("rate_limit_stats_backend must be %q or %q, got %q", BackendMemory, BackendRedis, rl.StatsBackend))
		}
	}
	if s.NeedsRedis() && strings.TrimSpace(s.Redis.URL) == "" {
		errs = append(errs, errors.New("redis_url is required by the redis backend"))
	}
	if rl.IdleTTL < 0 || rl.SweepInterval < 0 {
		errs = append(errs, errors.New("rate_limit_idle_ttl and rate_limit_sweep_interval must not be negative"))
	}
	if rl.StatsMaxRoutes < 0 {
		errs = append(errs, fmt.Errorf("rate_limit_stats_max_routes must not be negative, got %d", rl.StatsMaxRoutes))
	}

	if s.Concurrency.Max < 0 {
		errs = append(errs, fmt.Errorf("concurrency_max must not be negative, got %d", s.Concurrency.Max))
	}
	if s.Monitoring.PrometheusEnabled {
		if p := s.Monitoring.PrometheusPort; p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("prometheus_port must be in 1..65535, got %d", p))
		} else if p == s.Server.Port {
			errs = append(errs, errors.New("prometheus_port must differ from port"))
		}
	}

	return errors.Join(errs...)
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (s *Settings) NeedsRedis() bool {
	rl := s.RateLimit
	if !rl.Enabled {
		return false
	}
	return rl.Backend == BackendRedis || (rl.StatsEnabled && rl.StatsBackend == BackendRedis)
}

const redacted = "***"

// Redacted returns a copy safe to print: secrets are masked and URL passwords
// removed.
func (s Settings) Redacted() Settings {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return redacted
	}
	s.Auth.JWTSecret = mask(s.Auth.JWTSecret)
	s.LLM.OpenAIAPIKey = mask(s.LLM.OpenAIAPIKey)
	s.Vector.QdrantKey = mask(s.Vector.QdrantKey)
	if u, err := url.Parse(s.Redis.URL); err == nil && u.User != nil {
		s.Redis.URL = u.Redacted()
	}
	return s
}
