// Package config handles symbiont configuration via YAML files and
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SYMBIONT_*)
//  2. Config file (config.yaml)
//  3. Built-in defaults
//
// Common environment variables:
//
//	Storage:
//	- SYMBIONT_DATA_DIR="./data" (empty = in-memory)
//	- SYMBIONT_DIMENSIONS=1536 (0 = adopt from first embedding)
//
//	Index:
//	- SYMBIONT_INDEX_BACKEND="embedded", "remote", or "composite"
//	- SYMBIONT_INDEX_URL="http://localhost:6333"
//	- SYMBIONT_INDEX_COLLECTION="paragraphs"
//
//	Embedding:
//	- SYMBIONT_EMBEDDING_PROVIDER="openai" or "hash"
//	- SYMBIONT_EMBEDDING_API_URL="https://api.openai.com"
//	- SYMBIONT_EMBEDDING_API_KEY="sk-..."
//	- SYMBIONT_EMBEDDING_MODEL="text-embedding-3-small"
//
//	Server:
//	- SYMBIONT_HTTP_ADDRESS="0.0.0.0"
//	- SYMBIONT_HTTP_PORT=8080
//
//	Logging:
//	- SYMBIONT_LOG_LEVEL="info"
//	- SYMBIONT_LOG_FORMAT="json"
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all symbiont configuration.
//
// Example:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("listening on %s:%d\n", cfg.Server.Address, cfg.Server.Port)
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig holds storage engine settings.
type StorageConfig struct {
	// Backend selects the engine: "badger" or "memory".
	Backend string `yaml:"backend"`
	// DataDir is the badger directory. Empty runs badger in-memory.
	DataDir string `yaml:"data_dir"`
	// Dimensions fixes the embedding dimensionality. 0 adopts the
	// dimensionality of the first embedding written.
	Dimensions int `yaml:"dimensions"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Backend selects the index: "embedded", "remote", or "composite"
	// (remote primary with embedded fallback).
	Backend string `yaml:"backend"`
	// URL of the remote vector service, for "remote" and "composite".
	URL string `yaml:"url"`
	// Collection name on the remote service.
	Collection string `yaml:"collection"`
	// Timeout for remote calls.
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedder: "openai" or "hash".
	Provider string        `yaml:"provider"`
	APIURL   string        `yaml:"api_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds orchestrator defaults.
type RetrievalConfig struct {
	// K bounds paragraph results per retrieval.
	K int `yaml:"k"`
	// Alpha is the hybrid blend weight in [0,1].
	Alpha float64 `yaml:"alpha"`
	// Depth is the graph expansion depth.
	Depth int `yaml:"depth"`
	// Rerank enables the rerank stage on every retrieval.
	Rerank bool `yaml:"rerank"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// RequestTimeout bounds each request's handler.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
}

// LoadDefaults returns a Config with all built-in defaults: an in-memory
// badger store, the embedded index, and the hash embedder, so a zero-config
// start works with no external services.
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    "badger",
			DataDir:    "",
			Dimensions: 0,
		},
		Index: IndexConfig{
			Backend:    "embedded",
			Collection: "paragraphs",
			Timeout:    5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "hash",
			Timeout:  30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			K:     10,
			Alpha: 0.7,
			Depth: 2,
		},
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file when
// path is non-empty, then SYMBIONT_* environment overrides, then Validate.
func Load(path string) (*Config, error) {
	cfg := LoadDefaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns defaults with environment overrides applied, skipping
// any config file.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

func applyEnvVars(cfg *Config) {
	cfg.Storage.Backend = getEnv("SYMBIONT_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.DataDir = getEnv("SYMBIONT_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.Dimensions = getEnvInt("SYMBIONT_DIMENSIONS", cfg.Storage.Dimensions)

	cfg.Index.Backend = getEnv("SYMBIONT_INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.URL = getEnv("SYMBIONT_INDEX_URL", cfg.Index.URL)
	cfg.Index.Collection = getEnv("SYMBIONT_INDEX_COLLECTION", cfg.Index.Collection)
	cfg.Index.Timeout = getEnvDuration("SYMBIONT_INDEX_TIMEOUT", cfg.Index.Timeout)

	cfg.Embedding.Provider = getEnv("SYMBIONT_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.APIURL = getEnv("SYMBIONT_EMBEDDING_API_URL", cfg.Embedding.APIURL)
	cfg.Embedding.APIKey = getEnv("SYMBIONT_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getEnv("SYMBIONT_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Timeout = getEnvDuration("SYMBIONT_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)

	cfg.Retrieval.K = getEnvInt("SYMBIONT_RETRIEVAL_K", cfg.Retrieval.K)
	cfg.Retrieval.Alpha = getEnvFloat("SYMBIONT_RETRIEVAL_ALPHA", cfg.Retrieval.Alpha)
	cfg.Retrieval.Depth = getEnvInt("SYMBIONT_RETRIEVAL_DEPTH", cfg.Retrieval.Depth)
	cfg.Retrieval.Rerank = getEnvBool("SYMBIONT_RETRIEVAL_RERANK", cfg.Retrieval.Rerank)

	cfg.Server.Address = getEnv("SYMBIONT_HTTP_ADDRESS", cfg.Server.Address)
	cfg.Server.Port = getEnvInt("SYMBIONT_HTTP_PORT", cfg.Server.Port)
	cfg.Server.RequestTimeout = getEnvDuration("SYMBIONT_HTTP_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)

	cfg.Logging.Level = getEnv("SYMBIONT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("SYMBIONT_LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Dimensions < 0 {
		return fmt.Errorf("invalid dimensions: %d", c.Storage.Dimensions)
	}

	switch c.Index.Backend {
	case "embedded":
	case "remote", "composite":
		if c.Index.URL == "" {
			return fmt.Errorf("index backend %q requires index.url", c.Index.Backend)
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}

	switch c.Embedding.Provider {
	case "hash", "openai":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("retrieval alpha must be in [0,1], got %v", c.Retrieval.Alpha)
	}
	if c.Retrieval.K < 0 {
		return fmt.Errorf("invalid retrieval k: %d", c.Retrieval.K)
	}
	if c.Retrieval.Depth < 0 {
		return fmt.Errorf("invalid retrieval depth: %d", c.Retrieval.Depth)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	return nil
}

// String returns a loggable representation. API keys are never included.
func (c *Config) String() string {
	dataDir := c.Storage.DataDir
	if dataDir == "" {
		dataDir = "(in-memory)"
	}
	return fmt.Sprintf("Config{Storage: %s %s, Index: %s, Embedding: %s, HTTP: %s:%d}",
		c.Storage.Backend, dataDir, c.Index.Backend, c.Embedding.Provider,
		c.Server.Address, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
