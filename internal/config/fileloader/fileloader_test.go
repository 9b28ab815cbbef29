package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/syncd/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  type: minio
  dir: inbox
  minio:
    endpoint: localhost:9000
    bucket: sync
local:
  dir: /var/data/in
leader:
  enabled: true
  heart_beat: 500ms
`)

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "inbox", cfg.Remote.Dir)
	assert.Equal(t, "sync", cfg.Remote.Minio.Bucket)
	assert.Equal(t, 500*time.Millisecond, cfg.Leader.HeartBeat)

	// Defaults.
	assert.Equal(t, "syncd", cfg.Local.SourceName)
	assert.Equal(t, config.LockRegistryMemory, cfg.Leader.Registry)
	assert.Equal(t, config.MetadataStoreMemory, cfg.Metadata.Type)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.Local.AutoCreateDirEnabled())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
remote:
  type: minio
  dir: inbox
`)
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsPostgresStoreWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
remote:
  type: memory
local:
  dir: /var/data/in
metadata:
  type: postgres
`)
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	require.Error(t, err)
}
