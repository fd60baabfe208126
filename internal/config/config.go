// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage backend: "file" or "postgres".
	StorageBackend string
	DataDir        string // Root directory for the file backend.
	DatabaseURL    string // Postgres URL for the postgres backend.

	// Vector index backend: "sqlite" or "qdrant".
	IndexBackend   string
	IndexPath      string // SQLite file for the embedded index.
	QdrantURL      string
	QdrantAPIKey   string
	CollectionName string

	// Embedding provider settings.
	EmbeddingProvider   string // "mock", "openai", or "ollama"
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OllamaURL           string
	OllamaModel         string

	// Reasoning model settings. Empty provider disables model-assisted
	// debate and the pipeline uses the deterministic path only.
	ReasonerProvider string // "", "openai", or "ollama"
	ReasonerModel    string

	// Web search settings.
	SearchProvider   string // "mock" or "http"
	SearchURL        string
	SearchAPIKey     string
	SearchAllowlist  string // Comma-separated domain suffixes.
	SearchMaxResults int

	// Seed data paths for ingestion.
	TransactionsCSV string
	BehaviorsCSV    string
	PoliciesJSON    string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("CENTINELA_PORT", 8080),
		ReadTimeout:         envDuration("CENTINELA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("CENTINELA_WRITE_TIMEOUT", 30*time.Second),
		StorageBackend:      envStr("CENTINELA_STORAGE_BACKEND", "file"),
		DataDir:             envStr("CENTINELA_DATA_DIR", "./data"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		IndexBackend:        envStr("CENTINELA_INDEX_BACKEND", "sqlite"),
		IndexPath:           envStr("CENTINELA_INDEX_PATH", "./data/policies.db"),
		QdrantURL:           envStr("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		CollectionName:      envStr("CENTINELA_COLLECTION", "fraud_policies"),
		EmbeddingProvider:   envStr("CENTINELA_EMBEDDING_PROVIDER", "mock"),
		EmbeddingModel:      envStr("CENTINELA_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("CENTINELA_EMBEDDING_DIMENSIONS", 256),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envStr("OPENAI_BASE_URL", "https://api.openai.com"),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		ReasonerProvider:    envStr("CENTINELA_REASONER_PROVIDER", ""),
		ReasonerModel:       envStr("CENTINELA_REASONER_MODEL", "gpt-4o-mini"),
		SearchProvider:      envStr("CENTINELA_SEARCH_PROVIDER", "mock"),
		SearchURL:           envStr("CENTINELA_SEARCH_URL", ""),
		SearchAPIKey:        envStr("CENTINELA_SEARCH_API_KEY", ""),
		SearchAllowlist:     envStr("CENTINELA_SEARCH_ALLOWLIST", "example.com,owasp.org,mitre.org"),
		SearchMaxResults:    envInt("CENTINELA_SEARCH_MAX_RESULTS", 3),
		TransactionsCSV:     envStr("CENTINELA_TRANSACTIONS_CSV", "./seed/transactions.csv"),
		BehaviorsCSV:        envStr("CENTINELA_BEHAVIORS_CSV", "./seed/customer_behavior.csv"),
		PoliciesJSON:        envStr("CENTINELA_POLICIES_JSON", "./seed/fraud_policies.json"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "centinela"),
		LogLevel:            envStr("CENTINELA_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("CENTINELA_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case "file":
		if c.DataDir == "" {
			return fmt.Errorf("config: CENTINELA_DATA_DIR is required for the file backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}

	switch c.IndexBackend {
	case "sqlite":
		if c.IndexPath == "" {
			return fmt.Errorf("config: CENTINELA_INDEX_PATH is required for the sqlite index")
		}
	case "qdrant":
		if c.QdrantURL == "" {
			return fmt.Errorf("config: QDRANT_URL is required for the qdrant index")
		}
	default:
		return fmt.Errorf("config: unknown index backend %q", c.IndexBackend)
	}

	switch c.EmbeddingProvider {
	case "mock", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.EmbeddingProvider)
	}

	switch c.ReasonerProvider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown reasoner provider %q", c.ReasonerProvider)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: CENTINELA_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.SearchMaxResults <= 0 {
		return fmt.Errorf("config: CENTINELA_SEARCH_MAX_RESULTS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: CENTINELA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
