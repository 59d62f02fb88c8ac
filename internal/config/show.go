package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	renderServerSection(ew, &r.Server)
	renderTransfersSection(ew, &r.Transfers, r.ChunkBytes)
	renderLoggingSection(ew, &r.Logging)
	renderNetworkSection(ew, &r.Network)
	renderAuthSection(ew, &r.Auth)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderServerSection(ew *errWriter, s *ServerConfig) {
	ew.printf("[server]\n")
	ew.printf("  url          = %q\n", s.URL)

	if s.Origin != "" {
		ew.printf("  origin       = %q\n", s.Origin)
	}

	ew.printf("  tus_endpoint = %q\n", s.TusEndpoint)
	ew.printf("  tus_enabled  = %t\n", s.TusEnabled)
	ew.printf("  probe_tus    = %t\n", s.ProbeTus)
	ew.printf("  route_prefix = %q\n", s.RoutePrefix)
	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, t *TransfersConfig, chunkBytes int64) {
	ew.printf("[transfers]\n")
	ew.printf("  chunk_size       = %q  # %d bytes\n", t.ChunkSize, chunkBytes)
	ew.printf("  retry_count      = %d\n", t.RetryCount)
	ew.printf("  parallel_batch   = %d\n", t.ParallelBatch)
	ew.printf("  parallel_uploads = %d\n", t.ParallelUploads)
	ew.printf("  verify_checksum  = %q\n", t.VerifyChecksum)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("\n")
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")
	ew.printf("  token_file = %q\n", a.TokenFile)
}
