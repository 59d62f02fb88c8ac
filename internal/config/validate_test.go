package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative url", func(c *Config) { c.Server.URL = "/files" }, "url: must be an absolute URL"},
		{"bad origin", func(c *Config) { c.Server.Origin = "example.com" }, "origin"},
		{"tus endpoint", func(c *Config) { c.Server.TusEndpoint = "api/tus" }, "tus_endpoint"},
		{"route prefix", func(c *Config) { c.Server.RoutePrefix = "files" }, "route_prefix"},
		{"chunk too small", func(c *Config) { c.Transfers.ChunkSize = "512KiB" }, "chunk_size"},
		{"chunk unparsable", func(c *Config) { c.Transfers.ChunkSize = "lots" }, "chunk_size"},
		{"retry count", func(c *Config) { c.Transfers.RetryCount = 51 }, "retry_count"},
		{"parallel uploads", func(c *Config) { c.Transfers.ParallelUploads = 65 }, "parallel_uploads"},
		{"checksum", func(c *Config) { c.Transfers.VerifyChecksum = "crc32" }, "verify_checksum"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"timeout", func(c *Config) { c.Network.ConnectTimeout = "10" }, "connect_timeout"},
		{"timeout too short", func(c *Config) { c.Network.ConnectTimeout = "100ms" }, "at least"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RetryCountZeroAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfers.RetryCount = 0

	assert.NoError(t, Validate(cfg))
}
