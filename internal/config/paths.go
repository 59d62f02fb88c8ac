package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names the per-user directories.
const appName = "resourcectl"

const (
	configFileName = "config.toml"
	tokenFileName  = "token"
)

// xdgDir describes one XDG base directory: its environment override and the
// fallback below $HOME.
type xdgDir struct {
	env      string
	fallback []string
}

var (
	xdgConfig = xdgDir{env: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	xdgData   = xdgDir{env: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// appDir resolves the resourcectl directory for kind. macOS keeps config and
// data together under Application Support; Linux honors the XDG override;
// other systems use the XDG fallback. Empty when $HOME is unknown.
func appDir(kind xdgDir) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == "linux" {
		if base := os.Getenv(kind.env); base != "" {
			return filepath.Join(base, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, kind.fallback...), appName)...)
}

// DefaultConfigDir returns the directory holding config.toml.
func DefaultConfigDir() string { return appDir(xdgConfig) }

// DefaultDataDir returns the directory holding the token, the upload session
// database and watch locks.
func DefaultDataDir() string { return appDir(xdgData) }

// DefaultConfigPath is the config file used when neither RESOURCECTL_CONFIG
// nor --config names one.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultTokenPath is the login token file used when auth.token_file is unset.
func DefaultTokenPath() string {
	return inDir(DefaultDataDir(), tokenFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
