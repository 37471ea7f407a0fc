// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quarry/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: content-store directories and PostgreSQL connection
//   - Embedder: provider selection, model, dimension, rate limiting
//   - Chunking: sectioner and chunker parameters
//   - Query: retrieval depth, fusion constant, excerpt bounds
//   - Observability: OTLP trace export
//
// Security: the PostgreSQL password is masked in MarshalJSON and String.
//
// Error Handling:
//   - Sentinel errors for Go-idiomatic checks with errors.Is()
//   - Wrapped with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Embedder provider identifiers used in Config.EmbedderProvider.
const (
	EmbedderHash   = "hash"
	EmbedderOllama = "ollama"
)

// Generator provider identifiers used in Config.GeneratorProvider.
const (
	GeneratorNone   = "none"
	GeneratorOllama = "ollama"
)

// Reranker provider identifiers used in Config.RerankerProvider.
const (
	RerankerNone = "none"
	RerankerNoop = "noop"
)

// Preamble policies for the heading sectioner.
const (
	PreambleSeparate       = "separate"
	PreambleMergeIntoFirst = "merge_into_first"
	PreambleDrop           = "drop"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Content store root. Raw blobs, normalized blobs and assets live in
	// subdirectories underneath it.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedder selection
	EmbedderProvider  string  `mapstructure:"embedder_provider" json:"embedder_provider"` // "hash" or "ollama"
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	OllamaHost        string  `mapstructure:"ollama_host" json:"ollama_host"`
	OllamaRateLimit   float64 `mapstructure:"ollama_rate_limit" json:"ollama_rate_limit"` // requests per second, 0 = unlimited

	// Generator selection ("none" disables answer synthesis)
	GeneratorProvider string `mapstructure:"generator_provider" json:"generator_provider"`
	GeneratorModel    string `mapstructure:"generator_model" json:"generator_model"`

	// Reranker selection ("none" skips the rerank stage)
	RerankerProvider string `mapstructure:"reranker_provider" json:"reranker_provider"`

	// Text canonicalization profile applied before hashing and embedding.
	TextNormProfile string `mapstructure:"text_norm_profile" json:"text_norm_profile"`

	// Sectioning
	PreamblePolicy  string `mapstructure:"preamble_policy" json:"preamble_policy"`
	IncludeHeading  bool   `mapstructure:"include_heading" json:"include_heading"`
	MaxSectionLevel int    `mapstructure:"max_section_level" json:"max_section_level"`

	// Chunking
	ChunkTargetChars  int `mapstructure:"chunk_target_chars" json:"chunk_target_chars"`
	ChunkOverlapChars int `mapstructure:"chunk_overlap_chars" json:"chunk_overlap_chars"`

	// Query pipeline
	TopK               int `mapstructure:"top_k" json:"top_k"`
	CandidatesPerQuery int `mapstructure:"candidates_per_query" json:"candidates_per_query"`
	FusionK            int `mapstructure:"fusion_k" json:"fusion_k"`
	ExcerptMaxChars    int `mapstructure:"excerpt_max_chars" json:"excerpt_max_chars"`

	// Observability (see observability.go in internal/observability for setup)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	TraceEnabled bool   `mapstructure:"trace_enabled" json:"trace_enabled"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL wins over individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("data_dir", filepath.Join(configDir, "data"))

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quarry")
	v.SetDefault("postgres_password", "quarry_dev_password")
	v.SetDefault("postgres_db_name", "quarry")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_provider", EmbedderHash)
	v.SetDefault("embedder_model", "hash-bow")
	v.SetDefault("embedder_dimension", 64)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("ollama_rate_limit", 0.0)

	v.SetDefault("generator_provider", GeneratorNone)
	v.SetDefault("generator_model", "llama3.2")

	v.SetDefault("reranker_provider", RerankerNone)

	v.SetDefault("text_norm_profile", "default")

	v.SetDefault("preamble_policy", PreambleSeparate)
	v.SetDefault("include_heading", true)
	v.SetDefault("max_section_level", 6)

	v.SetDefault("chunk_target_chars", 1200)
	v.SetDefault("chunk_overlap_chars", 150)

	v.SetDefault("top_k", 8)
	v.SetDefault("candidates_per_query", 30)
	v.SetDefault("fusion_k", 60)
	v.SetDefault("excerpt_max_chars", 320)

	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("environment", "dev")
	v.SetDefault("service_name", "quarry")
	v.SetDefault("trace_enabled", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a panic here is a bug, not a runtime error.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("data_dir", "QUARRY_DATA_DIR")
	mustBind("postgres_host", "QUARRY_POSTGRES_HOST")
	mustBind("postgres_port", "QUARRY_POSTGRES_PORT")
	mustBind("postgres_user", "QUARRY_POSTGRES_USER")
	mustBind("postgres_password", "QUARRY_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "QUARRY_POSTGRES_DB")
	mustBind("embedder_provider", "QUARRY_EMBEDDER_PROVIDER")
	mustBind("embedder_model", "QUARRY_EMBEDDER_MODEL")
	mustBind("ollama_host", "QUARRY_OLLAMA_HOST")
	mustBind("generator_provider", "QUARRY_GENERATOR_PROVIDER")
	mustBind("reranker_provider", "QUARRY_RERANKER_PROVIDER")
	mustBind("otlp_endpoint", "QUARRY_OTLP_ENDPOINT")
	mustBind("trace_enabled", "QUARRY_TRACE_ENABLED")
	mustBind("log_level", "QUARRY_LOG_LEVEL")
}

// parseDatabaseURL overrides the postgres_* fields from a postgres:// URL.
// An empty rawURL is a no-op.
func (c *Config) parseDatabaseURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidPostgresHost, u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.PostgresHost = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%w: port %q", ErrInvalidPostgresPort, p)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "" && db != "/" && db != "." {
		c.PostgresDBName = db
	}
	if ssl := u.Query().Get("sslmode"); ssl != "" {
		c.PostgresSSLMode = ssl
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL for pgx and migrations.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// RawDir returns the directory holding raw ingested blobs.
func (c *Config) RawDir() string { return filepath.Join(c.DataDir, "raw") }

// NormalizedDir returns the directory holding normalized document blobs.
func (c *Config) NormalizedDir() string { return filepath.Join(c.DataDir, "normalized") }

// AssetsDir returns the directory holding extracted asset blobs.
func (c *Config) AssetsDir() string { return filepath.Join(c.DataDir, "assets") }

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last 2 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
