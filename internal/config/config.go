// Package config provides configuration loading for the kotae server and CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Query     QueryConfig     `yaml:"query"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the persistence directory of the vector store and the catalog database path.
type StorageConfig struct {
	IndexDir     string `yaml:"index_dir"`
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // "onnx" or "hash"
	ModelName   string `yaml:"model_name"`
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	OutputName  string `yaml:"output_name"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Type string `yaml:"type"` // "memory" or "faiss"
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	DefaultTopK int      `yaml:"default_top_k"`
	MaxTopK     int      `yaml:"max_top_k"`
	MinScore    *float64 `yaml:"min_score"`
}

// MinScoreOrDefault returns the relevance threshold; defaults to DefaultMinScore when unset.
func (q *QueryConfig) MinScoreOrDefault() float64 {
	if q.MinScore != nil {
		return *q.MinScore
	}
	return DefaultMinScore
}

// IngestConfig holds document loading and chunking settings.
type IngestConfig struct {
	DataDir      string        `yaml:"data_dir"`
	Extensions   []string      `yaml:"extensions"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	Workers      int           `yaml:"workers"`
	Watch        bool          `yaml:"watch"`
	Debounce     time.Duration `yaml:"debounce"`
}

// HasExtension reports whether path's extension is in the configured list.
func (c *IngestConfig) HasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// An empty path yields the defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.LibraryPath = expandPath(cfg.Embedding.LibraryPath, configDir)
	cfg.Ingest.DataDir = expandPath(cfg.Ingest.DataDir, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "onnx", "hash":
	default:
		return fmt.Errorf("invalid embedding.provider %q (supported: onnx, hash)", c.Embedding.Provider)
	}
	switch c.Index.Type {
	case "memory", "faiss":
	default:
		return fmt.Errorf("invalid index.type %q (supported: memory, faiss)", c.Index.Type)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Query.DefaultTopK > c.Query.MaxTopK {
		return fmt.Errorf("query.default_top_k (%d) exceeds max_top_k (%d)", c.Query.DefaultTopK, c.Query.MaxTopK)
	}
	return nil
}

// Environment variables that override the config file.
const (
	EnvIndexDir      = "KOTAE_INDEX_DIR"
	EnvDataDir       = "KOTAE_DATA_DIR"
	EnvDatabasePath  = "KOTAE_DATABASE_PATH"
	EnvModelPath     = "KOTAE_MODEL_PATH"
	EnvProvider      = "KOTAE_EMBEDDING_PROVIDER"
	EnvONNXLibrary   = "KOTAE_ONNXRUNTIME_LIB"
	EnvDebug         = "KOTAE_DEBUG"
	EnvServerAddress = "KOTAE_SERVER"
)

// ApplyEnv overrides cfg from the process environment and, for variables not set
// there, from envFile (a .env file). A missing envFile is ignored.
func ApplyEnv(cfg *Config, envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		if vars != nil {
			fileVars = vars
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	paths := []struct {
		key string
		dst *string
	}{
		{EnvIndexDir, &cfg.Storage.IndexDir},
		{EnvDataDir, &cfg.Ingest.DataDir},
		{EnvDatabasePath, &cfg.Storage.DatabasePath},
		{EnvModelPath, &cfg.Embedding.ModelPath},
		{EnvONNXLibrary, &cfg.Embedding.LibraryPath},
	}
	for _, p := range paths {
		if v, ok := lookup(p.key); ok && v != "" {
			abs, err := filepath.Abs(v)
			if err != nil {
				return fmt.Errorf("%s: %w", p.key, err)
			}
			*p.dst = abs
		}
	}
	if v, ok := lookup(EnvProvider); ok && v != "" {
		cfg.Embedding.Provider = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	return cfg.Validate()
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
