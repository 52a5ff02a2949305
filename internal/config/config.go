// Package config provides configuration loading for quilld.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the quilld service.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Enrichment  EnrichmentConfig  `koanf:"enrichment"`
	VectorIndex VectorIndexConfig `koanf:"vectorindex"`
	Backfill    BackfillConfig    `koanf:"backfill"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

// EnrichmentConfig holds settings for the AI enrichment client.
//
// BaseURL may point at OpenAI or any OpenAI-compatible endpoint
// (e.g. a local TEI or llama.cpp server).
type EnrichmentConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Model          string        `koanf:"model"`
	EmbeddingModel string        `koanf:"embedding_model"`
	APIKey         string        `koanf:"api_key"`
	Timeout        time.Duration `koanf:"timeout"`
}

// VectorIndexConfig holds settings for the embedded chromem index.
type VectorIndexConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
	// VectorSize must match the embedding model's output dimension.
	VectorSize int `koanf:"vector_size"`
}

// BackfillConfig holds settings for the backfill coordinator.
type BackfillConfig struct {
	// CheckpointInterval is the number of successfully processed notes
	// between durable commits.
	CheckpointInterval int `koanf:"checkpoint_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8480
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "~/.config/quilld/notes.db"
	}

	if cfg.Enrichment.BaseURL == "" {
		cfg.Enrichment.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Enrichment.Model == "" {
		cfg.Enrichment.Model = "gpt-4o-mini"
	}
	if cfg.Enrichment.EmbeddingModel == "" {
		cfg.Enrichment.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Enrichment.Timeout == 0 {
		cfg.Enrichment.Timeout = 30 * time.Second
	}

	if cfg.VectorIndex.Path == "" {
		cfg.VectorIndex.Path = "~/.config/quilld/vectorindex"
	}
	if cfg.VectorIndex.VectorSize == 0 {
		cfg.VectorIndex.VectorSize = 1536 // text-embedding-3-small dimensions
	}

	if cfg.Backfill.CheckpointInterval == 0 {
		cfg.Backfill.CheckpointInterval = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Enrichment.BaseURL == "" {
		return fmt.Errorf("enrichment.base_url is required")
	}
	if c.Enrichment.Model == "" {
		return fmt.Errorf("enrichment.model is required")
	}
	if c.VectorIndex.VectorSize <= 0 {
		return fmt.Errorf("vectorindex.vector_size must be positive, got %d", c.VectorIndex.VectorSize)
	}
	if c.Backfill.CheckpointInterval < 1 {
		return fmt.Errorf("backfill.checkpoint_interval must be at least 1, got %d", c.Backfill.CheckpointInterval)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
