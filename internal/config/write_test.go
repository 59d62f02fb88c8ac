package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConfig_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, CreateConfig(path, "https://files.example.com", testLogger(t)))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com", cfg.Server.URL)
	assert.Equal(t, DefaultConfig().Transfers, cfg.Transfers)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestSetKey_ReplacesCommentedDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, CreateConfig(path, "https://files.example.com", testLogger(t)))

	require.NoError(t, SetKey(path, "transfers", "retry_count", "2", testLogger(t)))
	require.NoError(t, SetKey(path, "server", "probe_tus", "false", testLogger(t)))
	require.NoError(t, SetKey(path, "server", "url", "https://other.example.com", testLogger(t)))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Transfers.RetryCount)
	assert.False(t, cfg.Server.ProbeTus)
	assert.Equal(t, "https://other.example.com", cfg.Server.URL)
}

func TestSetKey_AppendsMissingSection(t *testing.T) {
	path := writeTestConfig(t, "[server]\nurl = \"https://files.example.com\"")

	require.NoError(t, SetKey(path, "auth", "token_file", "/tmp/tok", testLogger(t)))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tok", cfg.Auth.TokenFile)
}

func TestSetKey_MissingFile(t *testing.T) {
	err := SetKey(filepath.Join(t.TempDir(), "absent.toml"), "server", "url", "x", testLogger(t))
	assert.Error(t, err)
}

func TestFormatTOMLValue(t *testing.T) {
	assert.Equal(t, "true", formatTOMLValue("true"))
	assert.Equal(t, "12", formatTOMLValue("12"))
	assert.Equal(t, `"10MiB"`, formatTOMLValue("10MiB"))
	assert.Equal(t, `""`, formatTOMLValue(""))
}
