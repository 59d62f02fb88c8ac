package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Download streams the raw content of a file to w and returns the number of
// bytes written. Partial-stream failures are returned as-is; the caller
// decides whether to retry from scratch.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	c.logger.Info("downloading resource", slog.String("path", path))

	resp, err := c.Do(ctx, http.MethodGet, ResourcePath(RawEndpoint, path, nil), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("api: streaming %s: %w", path, err)
	}

	c.logger.Debug("download complete",
		slog.String("path", path),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// RawURL returns an authenticated absolute link to the raw content of path,
// suitable for handing to another program. The link embeds the credential.
func (c *Client) RawURL(path string, inline bool) (string, error) {
	var params Params
	if inline {
		params = params.AddBool("inline", true)
	}

	return c.urls.Absolute(RawEndpoint, path, params, true)
}
