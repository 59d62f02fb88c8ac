package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// TusVersion is the tus protocol version this client speaks.
const TusVersion = "1.0.0"

const (
	tusResumableHeader = "Tus-Resumable"
	tusOffsetHeader    = "Upload-Offset"
	tusLengthHeader    = "Upload-Length"
	tusMetadataHeader  = "Upload-Metadata"
	tusPatchType       = "application/offset+octet-stream"
)

// TusCapabilities is the server's answer to a tus OPTIONS probe.
type TusCapabilities struct {
	Versions   []string
	Extensions []string
	MaxSize    int64 // 0 when the server does not advertise a limit
}

// Supports reports whether the server advertises the given protocol version.
func (tc *TusCapabilities) Supports(version string) bool {
	for _, v := range tc.Versions {
		if v == version {
			return true
		}
	}

	return false
}

// UploadSession identifies a tus upload created on the server.
type UploadSession struct {
	URL  string // Location of the upload resource; relative or absolute. NEVER log with query
	Size int64
}

// TusOptions probes the tus endpoint for protocol support.
func (c *Client) TusOptions(ctx context.Context, endpoint string) (*TusCapabilities, error) {
	resp, err := c.Do(ctx, http.MethodOptions, endpoint, nil, WithHeader(tusResumableHeader, TusVersion))
	if err != nil {
		return nil, err
	}

	if drainErr := drainAndClose(resp); drainErr != nil {
		return nil, drainErr
	}

	caps := &TusCapabilities{
		Versions:   splitHeaderList(resp.Header.Get("Tus-Version")),
		Extensions: splitHeaderList(resp.Header.Get("Tus-Extension")),
	}

	if raw := resp.Header.Get("Tus-Max-Size"); raw != "" {
		if n, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			caps.MaxSize = n
		}
	}

	c.logger.Debug("tus capabilities",
		slog.Any("versions", caps.Versions),
		slog.Any("extensions", caps.Extensions),
		slog.Int64("max_size", caps.MaxSize),
	)

	return caps, nil
}

// CreateUpload creates a tus upload for path under endpoint. 409 is returned
// unchanged (destination exists, overwrite not requested); any other failure
// to obtain a session wraps ErrProtocolNegotiation.
func (c *Client) CreateUpload(
	ctx context.Context, endpoint, path string, size int64, overwrite bool, metadata map[string]string,
) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("path", path),
		slog.Int64("size", size),
		slog.Bool("overwrite", overwrite),
	)

	target := ResourcePath(endpoint, path, Params{}.AddBool("override", overwrite))

	opts := []RequestOption{
		WithHeader(tusResumableHeader, TusVersion),
		WithHeader(tusLengthHeader, strconv.FormatInt(size, 10)),
		WithContentLength(0),
	}

	if len(metadata) > 0 {
		opts = append(opts, WithHeader(tusMetadataHeader, encodeMetadata(metadata)))
	}

	resp, err := c.Do(ctx, http.MethodPost, target, nil, opts...)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrAborted) || errors.Is(err, ErrConnectionAborted) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrProtocolNegotiation, err)
	}

	if drainErr := drainAndClose(resp); drainErr != nil {
		return nil, drainErr
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = target
	}

	c.logger.Debug("upload session created", slog.String("path", path))

	return &UploadSession{URL: location, Size: size}, nil
}

// UploadOffset returns the number of bytes the server has acknowledged for
// an upload session.
func (c *Client) UploadOffset(ctx context.Context, session *UploadSession) (int64, error) {
	resp, err := c.Do(ctx, http.MethodHead, session.URL, nil, WithHeader(tusResumableHeader, TusVersion))
	if err != nil {
		return 0, err
	}

	if drainErr := drainAndClose(resp); drainErr != nil {
		return 0, drainErr
	}

	offset, err := parseOffset(resp)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("upload offset", slog.Int64("offset", offset))

	return offset, nil
}

// UploadChunk sends length bytes of chunk starting at offset. Returns the
// offset acknowledged by the server after the write.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk io.Reader, offset, length int64,
) (int64, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", session.Size),
	)

	resp, err := c.Do(ctx, http.MethodPatch, session.URL, chunk,
		WithHeader(tusResumableHeader, TusVersion),
		WithHeader(tusOffsetHeader, strconv.FormatInt(offset, 10)),
		WithContentType(tusPatchType),
		WithContentLength(length),
	)
	if err != nil {
		return 0, err
	}

	if drainErr := drainAndClose(resp); drainErr != nil {
		return 0, drainErr
	}

	if resp.Header.Get(tusOffsetHeader) == "" {
		return offset + length, nil
	}

	return parseOffset(resp)
}

// TerminateUpload asks the server to discard an upload session and its data.
func (c *Client) TerminateUpload(ctx context.Context, session *UploadSession) error {
	c.logger.Info("terminating upload session")

	resp, err := c.Do(ctx, http.MethodDelete, session.URL, nil, WithHeader(tusResumableHeader, TusVersion))
	if err != nil {
		return err
	}

	return drainAndClose(resp)
}

func parseOffset(resp *http.Response) (int64, error) {
	raw := resp.Header.Get(tusOffsetHeader)

	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("api: invalid %s header %q", tusOffsetHeader, raw)
	}

	return offset, nil
}

// encodeMetadata renders tus Upload-Metadata: "key base64(value)" pairs,
// comma separated, keys sorted for stable output.
func encodeMetadata(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(metadata[k])))
	}

	return strings.Join(pairs, ",")
}

func splitHeaderList(v string) []string {
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
