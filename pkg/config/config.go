// Package config loads skumatch configuration from an optional .env file,
// an optional YAML file and SKUMATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	CORSOrigin   string        `mapstructure:"cors_origin"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider      string        `mapstructure:"provider"` // local | ollama | openai
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Dimensions    int           `mapstructure:"dimensions"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

type MatchingConfig struct {
	TopK          int     `mapstructure:"top_k"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	Concurrency   int     `mapstructure:"concurrency"`
}

type IndexConfig struct {
	Backend    string `mapstructure:"backend"` // memory | qdrant
	QdrantAddr string `mapstructure:"qdrant_addr"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

var (
	providers = map[string]bool{"local": true, "ollama": true, "openai": true}
	backends  = map[string]bool{"memory": true, "qdrant": true}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	if !providers[c.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("embedding.provider %q must be one of local, ollama, openai", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
	}
	if c.Embedding.Provider == "ollama" && c.Embedding.BaseURL == "" {
		errs = append(errs, errors.New("embedding.base_url is required for the ollama provider"))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, errors.New("embedding.timeout must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Matching.TopK <= 0 {
		errs = append(errs, errors.New("matching.top_k must be positive"))
	}
	if c.Matching.MinConfidence < 0 || c.Matching.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("matching.min_confidence %v must be within [0,1]", c.Matching.MinConfidence))
	}
	if c.Matching.Concurrency <= 0 {
		errs = append(errs, errors.New("matching.concurrency must be positive"))
	}
	c.Index.Backend = strings.ToLower(c.Index.Backend)
	if !backends[c.Index.Backend] {
		errs = append(errs, fmt.Errorf("index.backend %q must be memory or qdrant", c.Index.Backend))
	}
	if c.Index.Backend == "qdrant" && c.Index.QdrantAddr == "" {
		errs = append(errs, errors.New("index.qdrant_addr is required for the qdrant backend"))
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required when the cache is enabled"))
	}

	return errors.Join(errs...)
}
