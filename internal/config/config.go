// Package config loads convomem's config.json document into a typed
// Config tree, falling back to defaults on any load or parse failure
// (ConfigError policy: degrade, never abort).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/convomem/convomem/internal/memlog"
)

// StorageConfig controls the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DBPath  string `mapstructure:"db_path"`
}

// EmbeddingConfig controls the embedding provider.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Dimensions int    `mapstructure:"dimensions"`
	Device     string `mapstructure:"device"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// RecallConfig controls recall defaults.
type RecallConfig struct {
	MinSimilarity         float64 `mapstructure:"min_similarity"`
	MaxResults            int     `mapstructure:"max_results"`
	VectorWeight          float64 `mapstructure:"vector_weight"`
	KeywordWeight         float64 `mapstructure:"keyword_weight"`
	TimeDecayFactor       float64 `mapstructure:"time_decay_factor"`
	MaxMessagesPerSession int     `mapstructure:"max_messages_per_session"`
}

// Config is the root convomem configuration document.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Recall    RecallConfig    `mapstructure:"recall"`
}

// Default returns the built-in default configuration, used both as the
// viper default layer and as the fallback when config.json cannot be
// read or parsed.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			DBPath:  "~/.convomem/memory/memory.db",
		},
		Embedding: EmbeddingConfig{
			Provider:   "mock",
			Dimensions: 384,
			Device:     "cpu",
			BatchSize:  32,
		},
		Recall: RecallConfig{
			MinSimilarity:         0.0,
			MaxResults:            10,
			VectorWeight:          0.6,
			KeywordWeight:         0.4,
			TimeDecayFactor:       0.001,
			MaxMessagesPerSession: 3,
		},
	}
}

// Load reads <configRoot>/memory/config.json into a Config, applying
// Default() for any key it does not set. A missing or malformed file is
// not an error: a missing file returns Default() silently, and a
// malformed one logs a warning and returns Default() verbatim, per the
// ConfigError policy in the storage spec.
func Load(configRoot string, logger memlog.Logger) *Config {
	if logger == nil {
		logger = memlog.Nop()
	}

	path := filepath.Join(configRoot, "memory", "config.json")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	applyDefaults(v, Default())

	if _, err := os.Stat(path); err != nil {
		return Default()
	}

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("malformed config, using defaults", "path", path, "error", err)
		return Default()
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		logger.Warn("malformed config, using defaults", "path", path, "error", err)
		return Default()
	}

	return cfg
}

// ExpandPath expands a leading "~" to the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.device", d.Embedding.Device)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("recall.min_similarity", d.Recall.MinSimilarity)
	v.SetDefault("recall.max_results", d.Recall.MaxResults)
	v.SetDefault("recall.vector_weight", d.Recall.VectorWeight)
	v.SetDefault("recall.keyword_weight", d.Recall.KeywordWeight)
	v.SetDefault("recall.time_decay_factor", d.Recall.TimeDecayFactor)
	v.SetDefault("recall.max_messages_per_session", d.Recall.MaxMessagesPerSession)
}
