package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "auto", cfg.Engine.DefaultRetrievalMode)
	assert.Equal(t, 3, cfg.Retrieval.MaxDocsPerQuery)
	assert.Equal(t, 12, cfg.Memory.CompactThreshold)
	assert.Equal(t, 8, cfg.Memory.CompactKeep)
	assert.Equal(t, 10, cfg.Memory.ShortTermWindow)
	assert.Equal(t, 5, cfg.Tools.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 3, cfg.Ingest.MaxConcurrent)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
engine:
  default_retrieval_mode: vector_only
retrieval:
  max_docs_per_query: 5
memory:
  compact_threshold: 20
  compact_keep: 10
tools:
  timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "vector_only", cfg.Engine.DefaultRetrievalMode)
	assert.Equal(t, 5, cfg.Retrieval.MaxDocsPerQuery)
	assert.Equal(t, 20, cfg.Memory.CompactThreshold)
	assert.Equal(t, 10*time.Second, cfg.Tools.Timeout)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 10, cfg.Memory.ShortTermWindow)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RAGFLOW_RETRIEVAL_MAX_DOCS_PER_QUERY", "7")
	t.Setenv("RAGFLOW_TOOLS_TIMEOUT", "45s")
	t.Setenv("RAGFLOW_DATABASE_DRIVER", "sqlite")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retrieval.MaxDocsPerQuery)
	assert.Equal(t, 45*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  max_docs_per_query: 5\n"), 0644))

	t.Setenv("RAGFLOW_RETRIEVAL_MAX_DOCS_PER_QUERY", "9")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieval.MaxDocsPerQuery)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.CompactKeep = 12
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tools.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Engine.DefaultRetrievalMode)
}
