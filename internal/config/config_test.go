package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
logging:
  level: debug
  format: console
store:
  path: /tmp/memories.db
history:
  capacity: 256
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/tmp/memories.db", cfg.Store.Path)
	assert.Equal(t, 256, cfg.History.Capacity)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")

	t.Setenv("INVOICED_SERVER_PORT", "7777")
	t.Setenv("INVOICED_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 8080
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg.Logging.Format = "json"
	cfg.History.Capacity = -1
	assert.Error(t, cfg.Validate())

	cfg.History.Capacity = 0
	assert.NoError(t, cfg.Validate())
}
