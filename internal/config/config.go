// Package config implements TOML configuration loading, validation, and
// override resolution for resourcectl.
package config

import "time"

// Config is the top-level configuration structure parsed from TOML.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
	Auth      AuthConfig      `toml:"auth"`
}

// ServerConfig locates the resource API and its tus endpoint.
type ServerConfig struct {
	URL         string `toml:"url"`
	Origin      string `toml:"origin"` // environment origin; empty means url's scheme+host
	TusEndpoint string `toml:"tus_endpoint"`
	TusEnabled  bool   `toml:"tus_enabled"`
	ProbeTus    bool   `toml:"probe_tus"`
	RoutePrefix string `toml:"route_prefix"`
}

// TransfersConfig controls upload chunking, retries, and parallelism.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	RetryCount      int    `toml:"retry_count"`
	ParallelBatch   int    `toml:"parallel_batch"`
	ParallelUploads int    `toml:"parallel_uploads"`
	VerifyChecksum  string `toml:"verify_checksum"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// AuthConfig locates the persisted login token.
type AuthConfig struct {
	TokenFile string `toml:"token_file"`
}

// CLIOverrides holds values from command-line flags. Empty strings mean the
// flag was not given.
type CLIOverrides struct {
	ConfigPath string
	Server     string
}

// Resolved is the fully merged configuration with parsed values ready for
// use by the CLI.
type Resolved struct {
	Config

	ConfigPath     string
	ChunkBytes     int64
	ConnectTimeout time.Duration
}
