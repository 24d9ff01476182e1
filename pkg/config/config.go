package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the complete core configuration (spec §6 table).
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	VectorDimension int    `mapstructure:"vector_dimension"`
	VectorBackend   string `mapstructure:"vector_backend"`   // "embedded" or "qdrant"
	MetadataBackend string `mapstructure:"metadata_backend"` // "sqlite" or "postgres"
	EmbedderBackend string `mapstructure:"embedder_backend"` // "stub" or "ollama"

	AutoAssociateThreshold float64 `mapstructure:"auto_associate_threshold"`
	GraphDepth             int     `mapstructure:"graph_depth"`

	HybridWeights HybridWeights `mapstructure:"hybrid_weights"`

	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	WorkingMemoryCapacity int     `mapstructure:"working_memory_capacity"`
	HalfLifeDays          float64 `mapstructure:"half_life_days"`
	TouchBatchIntervalMs  int     `mapstructure:"touch_batch_interval_ms"`

	Logging  LoggingConfig  `mapstructure:"logging"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	MaintenanceCron string `mapstructure:"maintenance_cron"`
	PulseRedisAddr  string `mapstructure:"pulse_redis_addr"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"`
}

// HybridWeights is the (w_bm25, w_vec, w_recency, w_importance,
// w_graph) tuple fusing candidate features into a score (spec §4.7).
type HybridWeights struct {
	BM25       float64 `mapstructure:"bm25"`
	Vector     float64 `mapstructure:"vector"`
	Recency    float64 `mapstructure:"recency"`
	Importance float64 `mapstructure:"importance"`
	Graph      float64 `mapstructure:"graph"`
}

// DefaultHybridWeights is the spec's prescribed default tuple.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{BM25: 0.35, Vector: 0.35, Recency: 0.20, Importance: 0.10, Graph: 0.15}
}

// MaintenanceConfig parameterizes the periodic decay/prune/hard-delete job.
type MaintenanceConfig struct {
	DecayRate         float64 `mapstructure:"decay_rate"`
	PruneThreshold    float64 `mapstructure:"prune_threshold"`
	MinAgeDays        float64 `mapstructure:"min_age_days"`
	HardRetentionDays float64 `mapstructure:"hard_retention_days"`
	DryRun            bool    `mapstructure:"dry_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OllamaConfig holds the Ollama embedder backend configuration.
type OllamaConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// QdrantConfig holds the optional Qdrant VectorStore backend configuration.
type QdrantConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig holds the optional Postgres MetadataStore backend configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DefaultConfig returns configuration with the spec's documented defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".memcore")

	return &Config{
		DataDir:         dataDir,
		VectorDimension: 768,
		VectorBackend:   "embedded",
		MetadataBackend: "sqlite",
		EmbedderBackend: "stub",

		AutoAssociateThreshold: 0.85,
		GraphDepth:             1,

		HybridWeights: DefaultHybridWeights(),

		Maintenance: MaintenanceConfig{
			DecayRate:         0.05,
			PruneThreshold:    0.1,
			MinAgeDays:        30,
			HardRetentionDays: 90,
			DryRun:            false,
		},

		WorkingMemoryCapacity: 20,
		HalfLifeDays:          30,
		TouchBatchIntervalMs:  250,

		Logging: LoggingConfig{Level: "info", Format: "console"},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
		},
		Qdrant:   QdrantConfig{Addr: "localhost:6334"},
		Postgres: PostgresConfig{DSN: ""},

		MaintenanceCron: "",
		PulseRedisAddr:  "",
		MetricsEnabled:  true,
	}
}

// Load loads configuration from YAML with fallback to defaults.
// Searches ./config.yaml, ~/.memcore/config.yaml, and /etc/memcore.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".memcore"))
	v.AddConfigPath("/etc/memcore")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("vector_dimension", d.VectorDimension)
	v.SetDefault("vector_backend", d.VectorBackend)
	v.SetDefault("metadata_backend", d.MetadataBackend)
	v.SetDefault("embedder_backend", d.EmbedderBackend)
	v.SetDefault("auto_associate_threshold", d.AutoAssociateThreshold)
	v.SetDefault("graph_depth", d.GraphDepth)
	v.SetDefault("hybrid_weights.bm25", d.HybridWeights.BM25)
	v.SetDefault("hybrid_weights.vector", d.HybridWeights.Vector)
	v.SetDefault("hybrid_weights.recency", d.HybridWeights.Recency)
	v.SetDefault("hybrid_weights.importance", d.HybridWeights.Importance)
	v.SetDefault("hybrid_weights.graph", d.HybridWeights.Graph)
	v.SetDefault("maintenance.decay_rate", d.Maintenance.DecayRate)
	v.SetDefault("maintenance.prune_threshold", d.Maintenance.PruneThreshold)
	v.SetDefault("maintenance.min_age_days", d.Maintenance.MinAgeDays)
	v.SetDefault("maintenance.hard_retention_days", d.Maintenance.HardRetentionDays)
	v.SetDefault("working_memory_capacity", d.WorkingMemoryCapacity)
	v.SetDefault("half_life_days", d.HalfLifeDays)
	v.SetDefault("touch_batch_interval_ms", d.TouchBatchIntervalMs)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("ollama.base_url", d.Ollama.BaseURL)
	v.SetDefault("ollama.embedding_model", d.Ollama.EmbeddingModel)
	v.SetDefault("qdrant.addr", d.Qdrant.Addr)
	v.SetDefault("metrics_enabled", d.MetricsEnabled)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.VectorDimension <= 0 {
		return fmt.Errorf("vector_dimension must be > 0")
	}
	if c.VectorBackend != "embedded" && c.VectorBackend != "qdrant" {
		return fmt.Errorf("vector_backend must be 'embedded' or 'qdrant'")
	}
	if c.MetadataBackend != "sqlite" && c.MetadataBackend != "postgres" {
		return fmt.Errorf("metadata_backend must be 'sqlite' or 'postgres'")
	}
	if c.EmbedderBackend != "stub" && c.EmbedderBackend != "ollama" {
		return fmt.Errorf("embedder_backend must be 'stub' or 'ollama'")
	}
	if c.AutoAssociateThreshold < 0 || c.AutoAssociateThreshold > 1 {
		return fmt.Errorf("auto_associate_threshold must be in [0,1]")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}
	return nil
}

// EnsureDataDir creates the data directory (and FTIndex/VecIndex
// sibling directories) if they don't exist (spec §6 persistence layout).
func (c *Config) EnsureDataDir() error {
	for _, sub := range []string{"", "ftindex", "vecindex"} {
		if err := os.MkdirAll(filepath.Join(c.DataDir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return nil
}

// StorePath returns the default sqlite database path under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "memories.db")
}

// Watcher reloads configuration from disk whenever the backing file
// changes, grounded on viper's fsnotify integration.
type Watcher struct {
	v      *viper.Viper
	mu     sync.RWMutex
	cfg    *Config
	onLoad func(*Config)
}

// WatchFile starts watching path for changes, invoking onLoad with the
// freshly parsed Config on every write. The initial Config is returned
// immediately; the watcher runs in the background until the process
// exits.
func WatchFile(path string, onLoad func(*Config)) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	w := &Watcher{v: v, cfg: cfg, onLoad: onLoad}
	v.OnConfigChange(func(e fsnotify.Event) {
		next := &Config{}
		if err := v.Unmarshal(next); err != nil {
			return
		}
		if err := next.Validate(); err != nil {
			return
		}
		w.mu.Lock()
		w.cfg = next
		w.mu.Unlock()
		if w.onLoad != nil {
			w.onLoad(next)
		}
	})
	v.WatchConfig()

	return cfg, nil
}

// reloadDebounce is the value ReloadDebounce reports. WatchFile does
// not consult it: every change event viper delivers triggers a reload.
var reloadDebounce = 100 * time.Millisecond

// ReloadDebounce returns reloadDebounce.
func ReloadDebounce() time.Duration { return reloadDebounce }

// Current returns the watcher's most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}
