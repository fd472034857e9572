// Package config loads the environment-recognized options from spec.md §6.3
// into a typed, validated struct, following the teacher's DefaultConfig
// idiom (pkg/core.Config / pkg/core.DefaultConfig).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DistanceMetric selects the similarity/distance function used by the
// buffer, the index, and scoring.
type DistanceMetric string

const (
	MetricCosine    DistanceMetric = "cosine"
	MetricEuclidean DistanceMetric = "euclidean"
	MetricDot       DistanceMetric = "dot"
)

// IndexType selects between the HNSW graph and an exhaustive flat scan.
type IndexType string

const (
	IndexHNSW IndexType = "hnsw"
	IndexFlat IndexType = "flat"
)

// EmbeddingProvider selects the text -> vector backend.
type EmbeddingProvider string

const (
	ProviderOpenAI EmbeddingProvider = "openai"
	ProviderLocal  EmbeddingProvider = "local"
)

// Config is the process-wide configuration snapshot, the one piece of
// global mutable state spec.md's design notes permit (§9: "the only
// remaining process-wide state is the server's configuration snapshot and
// the logger sink").
type Config struct {
	MaxMemoryMB     int
	DefaultDim      int
	IndexType       IndexType
	DistanceMetric  DistanceMetric
	MaxVectors      int
	RateLimitWindow time.Duration
	RateLimitMax    int
	APIKeySaltRounds int
	EmbeddingProvider EmbeddingProvider
	EmbeddingModel    string
	LogLevel          string
}

// Default returns the configuration's documented defaults.
func Default() Config {
	return Config{
		MaxMemoryMB:       512,
		DefaultDim:        1536,
		IndexType:         IndexHNSW,
		DistanceMetric:    MetricCosine,
		MaxVectors:        0, // 0 = derive from MaxMemoryMB/DefaultDim
		RateLimitWindow:   time.Minute,
		RateLimitMax:      120,
		APIKeySaltRounds:  12,
		EmbeddingProvider: ProviderLocal,
		EmbeddingModel:    "text-embedding-3-small",
		LogLevel:          "info",
	}
}

// Load reads the table in spec.md §6.3 from the process environment,
// overlaying it onto Default(). Malformed numeric/duration values are
// reported rather than silently ignored.
func Load() (Config, error) {
	// Loaded best-effort: a missing .env is normal outside local dev, and
	// godotenv.Load never overrides a variable already set in the
	// environment, so CI/production exports still win.
	_ = godotenv.Load()

	cfg := Default()

	if v, ok := lookup("MAX_MEMORY_MB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: MAX_MEMORY_MB: %w", err)
		}
		cfg.MaxMemoryMB = n
	}
	if v, ok := lookup("DEFAULT_DIMENSIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: DEFAULT_DIMENSIONS: %w", err)
		}
		cfg.DefaultDim = n
	}
	if v, ok := lookup("INDEX_TYPE"); ok {
		switch IndexType(strings.ToLower(v)) {
		case IndexHNSW, IndexFlat:
			cfg.IndexType = IndexType(strings.ToLower(v))
		default:
			return cfg, fmt.Errorf("config: INDEX_TYPE: unknown value %q", v)
		}
	}
	if v, ok := lookup("DISTANCE_METRIC"); ok {
		switch DistanceMetric(strings.ToLower(v)) {
		case MetricCosine, MetricEuclidean, MetricDot:
			cfg.DistanceMetric = DistanceMetric(strings.ToLower(v))
		default:
			return cfg, fmt.Errorf("config: DISTANCE_METRIC: unknown value %q", v)
		}
	}
	if v, ok := lookup("MAX_VECTORS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: MAX_VECTORS: %w", err)
		}
		cfg.MaxVectors = n
	}
	if v, ok := lookup("RATE_LIMIT_WINDOW_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: RATE_LIMIT_WINDOW_MS: %w", err)
		}
		cfg.RateLimitWindow = time.Duration(n) * time.Millisecond
	}
	if v, ok := lookup("RATE_LIMIT_MAX_REQUESTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: RATE_LIMIT_MAX_REQUESTS: %w", err)
		}
		cfg.RateLimitMax = n
	}
	if v, ok := lookup("API_KEY_SALT_ROUNDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: API_KEY_SALT_ROUNDS: %w", err)
		}
		cfg.APIKeySaltRounds = n
	}
	if v, ok := lookup("EMBEDDING_PROVIDER"); ok {
		switch EmbeddingProvider(strings.ToLower(v)) {
		case ProviderOpenAI, ProviderLocal:
			cfg.EmbeddingProvider = EmbeddingProvider(strings.ToLower(v))
		default:
			return cfg, fmt.Errorf("config: EMBEDDING_PROVIDER: unknown value %q", v)
		}
	}
	if v, ok := lookup("EMBEDDING_MODEL"); ok {
		cfg.EmbeddingModel = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}

	if cfg.MaxVectors == 0 && cfg.DefaultDim > 0 {
		vectorBytes := cfg.DefaultDim * 4
		cfg.MaxVectors = (cfg.MaxMemoryMB * 1024 * 1024) / vectorBytes
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DefaultDim <= 0 {
		return fmt.Errorf("config: defaultDimensions must be positive, got %d", c.DefaultDim)
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("config: maxMemoryMB must be positive, got %d", c.MaxMemoryMB)
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("config: rateLimitMaxRequests must be positive, got %d", c.RateLimitMax)
	}
	return nil
}

func lookup(name string) (string, bool) {
	v := os.Getenv(name)
	if v == "" {
		return "", false
	}
	return v, true
}
