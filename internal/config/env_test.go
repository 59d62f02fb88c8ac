package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvServer, "https://files.example.com")
	t.Setenv(EnvTokenFile, "/custom/token")

	o := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, "/custom/config.toml", o.ConfigPath)
	assert.Equal(t, "https://files.example.com", o.Server)
	assert.Equal(t, "/custom/token", o.TokenFile)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvServer, "")
	t.Setenv(EnvTokenFile, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(testLogger(t)))
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "RESOURCECTL_CONFIG", EnvConfig)
	assert.Equal(t, "RESOURCECTL_SERVER", EnvServer)
	assert.Equal(t, "RESOURCECTL_TOKEN_FILE", EnvTokenFile)
}
