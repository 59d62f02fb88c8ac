package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPaths_XDGOverride(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG overrides apply on Linux only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	assert.Equal(t, filepath.Join("/xdg/config", appName, configFileName), DefaultConfigPath())
	assert.Equal(t, filepath.Join("/xdg/data", appName, tokenFileName), DefaultTokenPath())
}

func TestDefaultPaths_HomeFallback(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("fallback layout checked on Linux only")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", appName), DefaultDataDir())
}

func TestInDir_EmptyDir(t *testing.T) {
	assert.Empty(t, inDir("", "token"))
}
