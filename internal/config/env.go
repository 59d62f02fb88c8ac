package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig    = "RESOURCECTL_CONFIG"
	EnvServer    = "RESOURCECTL_SERVER"
	EnvTokenFile = "RESOURCECTL_TOKEN_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // RESOURCECTL_CONFIG: override config file path
	Server     string // RESOURCECTL_SERVER: server URL
	TokenFile  string // RESOURCECTL_TOKEN_FILE: token file path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Server:     os.Getenv(EnvServer),
		TokenFile:  os.Getenv(EnvTokenFile),
	}

	logger.Debug("read environment overrides",
		slog.String("config_path", o.ConfigPath),
		slog.String("server", o.Server),
		slog.String("token_file", o.TokenFile),
	)

	return o
}
