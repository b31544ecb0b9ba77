// Package config provides configuration loading and structs for the kiji server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Refresh   RefreshConfig   `yaml:"refresh"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database, the vector blob, the
// keyword index, and the ingestion spool directory. Database and vector blob
// share a lifecycle: both must be present and mutually consistent at startup.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	SpoolPath        string `yaml:"spool_path"`
}

// EmbeddingConfig holds settings for the external embedding service.
type EmbeddingConfig struct {
	ServiceURL     string `yaml:"service_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RerankConfig holds settings for the external cross-encoder rerank service.
type RerankConfig struct {
	ServiceURL     string `yaml:"service_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RetrievalConfig holds the default retrieval thresholds. All of them are
// overridable per query.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	MinCosine           float64 `yaml:"min_cosine"`
	DaysFilter          int     `yaml:"days_filter"`
	DecayRate           float64 `yaml:"decay_rate"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
}

// RefreshConfig holds periodic corpus refresh settings. SourceURL points at a
// collector service serving article batches; refresh stays off without it.
type RefreshConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SourceURL       string `yaml:"source_url"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.SpoolPath = expandPath(cfg.Storage.SpoolPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
