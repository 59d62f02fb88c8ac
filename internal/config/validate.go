package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minChunkBytes      = 1 << 20   // 1 MiB
	maxChunkBytes      = 512 << 20 // 512 MiB
	maxRetryCount      = 50
	minParallel        = 1
	maxParallel        = 64
	minConnectTimeout  = 1 * time.Second
	checksumAlgorithms = "md5, sha1, sha256, sha512"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

var validChecksums = map[string]bool{
	"": true, "md5": true, "sha1": true, "sha256": true, "sha512": true,
}

// Validate checks all configuration values and returns every error found,
// joined, so a user can fix them in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if err := validateAbsoluteURL("url", s.URL); err != nil {
		errs = append(errs, err)
	}

	if s.Origin != "" {
		if err := validateAbsoluteURL("origin", s.Origin); err != nil {
			errs = append(errs, err)
		}
	}

	if !strings.HasPrefix(s.TusEndpoint, "/") {
		errs = append(errs, fmt.Errorf("tus_endpoint: must start with /, got %q", s.TusEndpoint))
	}

	if s.RoutePrefix != "" && !strings.HasPrefix(s.RoutePrefix, "/") {
		errs = append(errs, fmt.Errorf("route_prefix: must start with /, got %q", s.RoutePrefix))
	}

	return errs
}

func validateAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute URL, got %q", key, raw)
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	bytes, err := ParseSize(t.ChunkSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	} else if bytes < minChunkBytes || bytes > maxChunkBytes {
		errs = append(errs, fmt.Errorf("chunk_size: must be between 1MiB and 512MiB, got %s", t.ChunkSize))
	}

	if t.RetryCount < 0 || t.RetryCount > maxRetryCount {
		errs = append(errs, fmt.Errorf("retry_count: must be between 0 and %d, got %d",
			maxRetryCount, t.RetryCount))
	}

	if t.ParallelBatch < minParallel || t.ParallelBatch > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_batch: must be between %d and %d, got %d",
			minParallel, maxParallel, t.ParallelBatch))
	}

	if t.ParallelUploads < minParallel || t.ParallelUploads > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallel, maxParallel, t.ParallelUploads))
	}

	if !validChecksums[t.VerifyChecksum] {
		errs = append(errs, fmt.Errorf("verify_checksum: must be empty or one of %s, got %q",
			checksumAlgorithms, t.VerifyChecksum))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return []error{fmt.Errorf("connect_timeout: invalid duration %q: %w", n.ConnectTimeout, err)}
	}

	if d < minConnectTimeout {
		return []error{fmt.Errorf("connect_timeout: must be at least %s, got %s", minConnectTimeout, d)}
	}

	return nil
}
