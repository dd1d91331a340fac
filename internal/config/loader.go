package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is read when no env file is named. It may be absent.
const DefaultEnvFile = ".env"

// Sources names the optional files Load reads.
type Sources struct {
	ConfigFile string
	EnvFile    string
}

// NewViper returns a viper instance with every default registered and the
// environment bound. Flags may be bound on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "DocuQuery AI")
	v.SetDefault("app_version", "0.1.0")
	v.SetDefault("app_description", "Production-ready AI Document Q&A API")
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "development")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("read_timeout", 15*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("idle_timeout", 60*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("max_body_bytes", int64(100<<20))

	v.SetDefault("allowed_origins", []string{"http://localhost:3000", "http://localhost:8000"})

	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_pool_size", 10)

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_requests", 100)
	v.SetDefault("rate_limit_window", 60)
	v.SetDefault("rate_limit_backend", BackendMemory)
	v.SetDefault("rate_limit_key_header", "")
	v.SetDefault("rate_limit_trust_xff", false)
	v.SetDefault("rate_limit_exempt_paths", []string{})
	v.SetDefault("rate_limit_idle_ttl", 15*time.Minute)
	v.SetDefault("rate_limit_sweep_interval", 2*time.Minute)
	v.SetDefault("rate_limit_precise_retry_after", false)
	v.SetDefault("rate_limit_fail_open", true)
	v.SetDefault("rate_limit_redis_prefix", "docuquery:ratelimit:quota")
	v.SetDefault("rate_limit_stats_enabled", true)
	v.SetDefault("rate_limit_stats_backend", BackendMemory)
	v.SetDefault("rate_limit_stats_prefix", "docuquery:ratelimit:stats")
	v.SetDefault("rate_limit_stats_ttl", 24*time.Hour)
	v.SetDefault("rate_limit_stats_track_keys", false)
	v.SetDefault("rate_limit_stats_max_routes", 256)

	v.SetDefault("concurrency_max", 0)
	v.SetDefault("concurrency_timeout", time.Duration(0))

	v.SetDefault("prometheus_enabled", true)
	v.SetDefault("prometheus_port", 9090)

	v.SetDefault("feature_multi_tenancy", true)
	v.SetDefault("feature_oauth_enabled", true)
	v.SetDefault("feature_document_ocr", true)
	v.SetDefault("feature_vector_search", true)
	v.SetDefault("feature_citation_generation", true)
	v.SetDefault("feature_streaming", true)
	v.SetDefault("feature_background_processing", true)

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("jwt_access_token_expire_minutes", 30)
	v.SetDefault("jwt_refresh_token_expire_days", 7)
	v.SetDefault("google_client_id", "")
	v.SetDefault("microsoft_client_id", "")

	v.SetDefault("llm_providers", []string{"openai", "anthropic", "azure_openai"})
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "gpt-4")
	v.SetDefault("openai_embedding_model", "text-embedding-ada-002")
	v.SetDefault("openai_max_tokens", 4000)
	v.SetDefault("openai_temperature", 0.1)

	v.SetDefault("vector_stores", []string{"qdrant", "pinecone", "pgvector"})
	v.SetDefault("qdrant_url", "http://localhost:6333")
	v.SetDefault("qdrant_api_key", "")

	v.SetDefault("supported_formats", []string{"pdf", "docx", "txt", "md"})
	v.SetDefault("max_document_size_mb", 100)
	v.SetDefault("max_concurrent_uploads", 10)
	v.SetDefault("max_query_length", 1000)
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)
}

// Load reads the env file, then the optional config file, and decodes the merged
// view of v into validated Settings. A missing default env file is not an error;
// a missing file that was named explicitly is.
func Load(v *viper.Viper, src Sources) (*Settings, error) {
	if err := loadEnvFile(src.EnvFile); err != nil {
		return nil, err
	}

	if src.ConfigFile != "" {
		v.SetConfigFile(src.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", src.ConfigFile, err)
		}
	}

	var s Settings
	err := v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	// godotenv never overrides variables already set in the environment
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (s *Settings) normalize() {
	s.App.LogLevel = strings.ToLower(strings.TrimSpace(s.App.LogLevel))
	s.RateLimit.Backend = strings.ToLower(strings.TrimSpace(s.RateLimit.Backend))
	s.RateLimit.StatsBackend = strings.ToLower(strings.TrimSpace(s.RateLimit.StatsBackend))
	s.RateLimit.KeyHeader = strings.TrimSpace(s.RateLimit.KeyHeader)

	s.CORS.AllowedOrigins = cleanList(s.CORS.AllowedOrigins)
	s.RateLimit.ExemptPaths = cleanList(s.RateLimit.ExemptPaths)
	s.LLM.Providers = cleanList(s.LLM.Providers)
	s.Vector.Stores = cleanList(s.Vector.Stores)
	s.Documents.SupportedFormats = cleanList(s.Documents.SupportedFormats)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// YAML renders the redacted settings with the flat keys Load reads, so the output
// works as a --config file once secrets are filled back in.
func (s Settings) YAML() ([]byte, error) {
	flat := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &flat})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(s.Redacted()); err != nil {
		return nil, fmt.Errorf("flatten settings: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(flat); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
