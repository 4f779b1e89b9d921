package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "archiva.db", cfg.Database.Path)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 0.3, cfg.Search.SimilarityFloor)
	assert.Equal(t, 2.0, cfg.Search.KeywordFloor)
	assert.Equal(t, 1.3, cfg.Search.DualMatchBoost)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
chunking:
  size: 500
  overlap: 50
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ARCHIVA_PORT", "7070")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Auth.Secret = testSecret

	cfg.Chunking.Size = 100
	cfg.Chunking.Overlap = 100
	assert.Error(t, cfg.Validate())

	cfg.Chunking.Overlap = 99
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
