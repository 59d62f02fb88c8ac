package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Upload sends a whole payload in a single POST to the resources endpoint.
// A path ending in "/" creates a directory; the body is then ignored and an
// empty request is sent. overwrite is encoded as the override query flag.
//
// Only 200 settles successfully, with the response body text. 409 is
// returned as *APIError wrapping ErrConflict so callers can ask before
// retrying with overwrite. Unlike transfer-level uploads, this never retries:
// a partially consumed reader cannot be replayed.
func (c *Client) Upload(
	ctx context.Context, path string, body io.Reader, size int64, overwrite bool, contentType string,
) (string, error) {
	isDir := IsDirPath(path)
	if isDir {
		body, size = nil, 0
	}

	c.logger.Info("direct upload",
		slog.String("path", path),
		slog.Int64("size", size),
		slog.Bool("overwrite", overwrite),
		slog.Bool("dir", isDir),
	)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	target := ResourcePath(ResourcesEndpoint, path, Params{}.AddBool("override", overwrite))

	resp, err := c.Do(ctx, http.MethodPost, target, body,
		WithContentType(contentType), WithContentLength(size))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("api: reading upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("direct upload answered with unexpected success status",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return "", &APIError{StatusCode: resp.StatusCode, Message: string(text), Err: ErrServerRejected}
	}

	c.logger.Debug("direct upload complete", slog.String("path", path))

	return string(text), nil
}

// Mkdir creates a directory. The path is given a trailing separator if it
// lacks one.
func (c *Client) Mkdir(ctx context.Context, path string, overwrite bool) error {
	if !IsDirPath(path) {
		path += "/"
	}

	_, err := c.Upload(ctx, path, nil, 0, overwrite, "")

	return err
}
