package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.VectorDimension != 768 {
		t.Errorf("expected VectorDimension=768, got %d", cfg.VectorDimension)
	}
	if cfg.VectorBackend != "embedded" {
		t.Errorf("expected VectorBackend=embedded, got %s", cfg.VectorBackend)
	}
	if cfg.MetadataBackend != "sqlite" {
		t.Errorf("expected MetadataBackend=sqlite, got %s", cfg.MetadataBackend)
	}
	if cfg.EmbedderBackend != "stub" {
		t.Errorf("expected EmbedderBackend=stub, got %s", cfg.EmbedderBackend)
	}
	if cfg.AutoAssociateThreshold != 0.85 {
		t.Errorf("expected AutoAssociateThreshold=0.85, got %v", cfg.AutoAssociateThreshold)
	}
	if cfg.WorkingMemoryCapacity != 20 {
		t.Errorf("expected WorkingMemoryCapacity=20, got %d", cfg.WorkingMemoryCapacity)
	}
	if cfg.HalfLifeDays != 30 {
		t.Errorf("expected HalfLifeDays=30, got %v", cfg.HalfLifeDays)
	}
	if cfg.Ollama.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("expected EmbeddingModel=nomic-embed-text, got %s", cfg.Ollama.EmbeddingModel)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("expected Ollama BaseURL=http://localhost:11434, got %s", cfg.Ollama.BaseURL)
	}
	if cfg.Qdrant.Addr != "localhost:6334" {
		t.Errorf("expected Qdrant Addr=localhost:6334, got %s", cfg.Qdrant.Addr)
	}

	w := DefaultHybridWeights()
	sum := w.BM25 + w.Vector + w.Recency + w.Importance
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("expected non-graph hybrid weights to sum close to 1, got %v", sum)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "valid config", modify: func(c *Config) {}, expectErr: false},
		{
			name:      "empty data dir",
			modify:    func(c *Config) { c.DataDir = "" },
			expectErr: true,
		},
		{
			name:      "zero vector dimension",
			modify:    func(c *Config) { c.VectorDimension = 0 },
			expectErr: true,
		},
		{
			name:      "invalid vector backend",
			modify:    func(c *Config) { c.VectorBackend = "pinecone" },
			expectErr: true,
		},
		{
			name:      "invalid metadata backend",
			modify:    func(c *Config) { c.MetadataBackend = "mongo" },
			expectErr: true,
		},
		{
			name:      "invalid embedder backend",
			modify:    func(c *Config) { c.EmbedderBackend = "openai" },
			expectErr: true,
		},
		{
			name:      "auto associate threshold out of range",
			modify:    func(c *Config) { c.AutoAssociateThreshold = 1.5 },
			expectErr: true,
		},
		{
			name:      "invalid logging level",
			modify:    func(c *Config) { c.Logging.Level = "invalid" },
			expectErr: true,
		},
		{
			name:      "invalid logging format",
			modify:    func(c *Config) { c.Logging.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with missing config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}
	if cfg.VectorBackend != "embedded" {
		t.Errorf("expected default vector_backend=embedded, got %s", cfg.VectorBackend)
	}
}

func TestLoadConfig_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
data_dir: /tmp/memcore-test
vector_dimension: 384
vector_backend: qdrant
metadata_backend: postgres
embedder_backend: ollama
auto_associate_threshold: 0.9
logging:
  level: debug
  format: json
qdrant:
  addr: example:6334
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.DataDir != "/tmp/memcore-test" {
		t.Errorf("expected data_dir=/tmp/memcore-test, got %s", cfg.DataDir)
	}
	if cfg.VectorDimension != 384 {
		t.Errorf("expected vector_dimension=384, got %d", cfg.VectorDimension)
	}
	if cfg.VectorBackend != "qdrant" {
		t.Errorf("expected vector_backend=qdrant, got %s", cfg.VectorBackend)
	}
	if cfg.MetadataBackend != "postgres" {
		t.Errorf("expected metadata_backend=postgres, got %s", cfg.MetadataBackend)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging.level=debug, got %s", cfg.Logging.Level)
	}
	if cfg.Qdrant.Addr != "example:6334" {
		t.Errorf("expected qdrant.addr=example:6334, got %s", cfg.Qdrant.Addr)
	}
}

func TestEnsureDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{DataDir: filepath.Join(tmpDir, "subdir")}

	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}

	for _, sub := range []string{"", "ftindex", "vecindex"} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, sub)); os.IsNotExist(err) {
			t.Errorf("expected directory %s to be created", sub)
		}
	}
}

func TestStorePath(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/memcore"}
	if filepath.Base(cfg.StorePath()) != "memories.db" {
		t.Errorf("expected database file named memories.db, got %s", filepath.Base(cfg.StorePath()))
	}
}
