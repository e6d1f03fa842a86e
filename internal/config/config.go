// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Upload    UploadConfig    `yaml:"upload"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the metadata registry backend and the data directories.
// Empty paths are derived from DataDir.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	MetadataPath string `yaml:"metadata_path"`
	DocumentsDir string `yaml:"documents_dir"`
	IndexDir     string `yaml:"index_dir"`
}

// UploadConfig holds ingestion limits.
type UploadConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// MaxBytes returns the upload limit in bytes.
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxFileSizeMB) * 1024 * 1024
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string  `yaml:"provider"`
	BaseURL             string  `yaml:"base_url"`
	Model               string  `yaml:"model"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	Dimensions          int     `yaml:"dimensions"`
	BatchSize           int     `yaml:"batch_size"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	QueryTimeoutSeconds int     `yaml:"query_timeout_seconds"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	MaxRetries          int     `yaml:"max_retries"`
	ModelPath           string  `yaml:"model_path"`
	MaxTokens           int     `yaml:"max_tokens"`
	CacheSize           int     `yaml:"cache_size"`
}

// APIKey returns the provider key from the environment variable named by APIKeyEnv.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// ChunkingConfig holds text splitting settings. Sizes are counted in characters.
//
// Strategy "fixed" (default) cuts windows of exactly ChunkSize characters.
// Strategy "recursive" prefers paragraph, line, sentence and word boundaries
// before a hard cut, which matches how RecursiveCharacterTextSplitter chunks;
// its chunks may be shorter than ChunkSize.
//
// An explicit chunk_overlap of 0 disables overlap; only an absent key gets
// the default of 200.
type ChunkingConfig struct {
	Strategy     string `yaml:"strategy"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`

	overlapSet bool
}

// UnmarshalYAML records whether chunk_overlap was present so that 0 can be configured.
func (c *ChunkingConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ChunkingConfig
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "chunk_overlap" {
			c.overlapSet = true
		}
	}
	return nil
}

// RetrievalConfig holds query settings.
type RetrievalConfig struct {
	DefaultK  int    `yaml:"default_k"`
	IndexType string `yaml:"index_type"`
}

// InboxConfig holds the optional auto-ingest directory.
type InboxConfig struct {
	Directory  string `yaml:"directory"`
	DebounceMS int    `yaml:"debounce_ms"`
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

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	resolve(&cfg, filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (with environment overrides applied) instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = &Config{}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	wd, _ := os.Getwd()
	resolve(cfg, wd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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

// ApplyEnv overrides config values from the environment. MAX_FILE_SIZE_MB,
// KOTAE_DATA_DIR and KOTAE_DEBUG are recognised.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MAX_FILE_SIZE_MB %q", v)
		}
		cfg.Upload.MaxFileSizeMB = n
	}
	if v := os.Getenv("KOTAE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KOTAE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KOTAE_DEBUG %q", v)
		}
		cfg.Debug = b
	}
	return nil
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, %d), got %d", c.Chunking.ChunkSize, c.Chunking.ChunkOverlap)
	}
	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown storage.backend %q (want json or sqlite)", c.Storage.Backend)
	}
	switch c.Chunking.Strategy {
	case "fixed", "recursive":
	default:
		return fmt.Errorf("unknown chunking.strategy %q (want fixed or recursive)", c.Chunking.Strategy)
	}
	return nil
}

func resolve(cfg *Config, configDir string) {
	ApplyDefaults(cfg)

	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Storage.MetadataPath == "" {
		name := "metadata.json"
		if cfg.Storage.Backend == "sqlite" {
			name = "metadata.db"
		}
		cfg.Storage.MetadataPath = filepath.Join(cfg.Storage.DataDir, name)
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = filepath.Join(cfg.Storage.DataDir, "documents")
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = filepath.Join(cfg.Storage.DataDir, "vectorstore")
	}
	cfg.Storage.MetadataPath = expandPath(cfg.Storage.MetadataPath, configDir)
	cfg.Storage.DocumentsDir = expandPath(cfg.Storage.DocumentsDir, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
