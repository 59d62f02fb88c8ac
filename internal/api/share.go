package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// FetchShare retrieves a public share by logical path. password may be empty
// for unprotected shares. Listing children are stamped with /share URLs.
func (c *Client) FetchShare(ctx context.Context, path, password string) (*Item, error) {
	c.logger.Info("fetching public share", slog.String("path", path))

	var item Item
	if err := c.DoJSON(ctx, http.MethodGet, ResourcePath(PublicShareEndpoint, path, nil), nil, &item,
		WithSharePassword(password)); err != nil {
		return nil, err
	}

	decorateListing(&item, "/share"+RemovePrefix(path), "")

	return &item, nil
}

// Presign asks the share endpoint for a presigned download URL of path.
// The URL grants access on its own and is never logged.
func (c *Client) Presign(ctx context.Context, path, password string) (string, error) {
	c.logger.Debug("requesting presigned url", slog.String("path", path))

	item, err := c.shareQuery(ctx, path, password, Params{}.AddBool("presign", true))
	if err != nil {
		return "", err
	}

	if item.PresignedURL == "" {
		return "", fmt.Errorf("api: presign response for %s has no presignedURL", path)
	}

	return item.PresignedURL, nil
}

// Preview asks the share endpoint for a preview URL of path rendered at the
// given size (e.g. 256).
func (c *Client) Preview(ctx context.Context, path, password string, size int) (string, error) {
	c.logger.Debug("requesting preview url",
		slog.String("path", path),
		slog.Int("size", size),
	)

	item, err := c.shareQuery(ctx, path, password, Params{}.Add("preview", strconv.Itoa(size)))
	if err != nil {
		return "", err
	}

	if item.PreviewURL == "" {
		return "", fmt.Errorf("api: preview response for %s has no previewURL", path)
	}

	return item.PreviewURL, nil
}

func (c *Client) shareQuery(ctx context.Context, path, password string, params Params) (*Item, error) {
	var item Item
	if err := c.DoJSON(ctx, http.MethodGet, ResourcePath(PublicShareEndpoint, path, params), nil, &item,
		WithSharePassword(password)); err != nil {
		return nil, err
	}

	return &item, nil
}

// DownloadURL builds the public download link for a shared item:
// /api/public/dl/{hash}{path}?file=true&token=... . asFile forces a file
// download instead of an archive for directories.
func (c *Client) DownloadURL(item *Item, asFile bool) (string, error) {
	if item.Hash == "" {
		return "", fmt.Errorf("api: item %s is not part of a public share", item.Path)
	}

	var params Params
	if asFile {
		params = params.AddBool("file", true)
	}

	if item.Token != "" {
		params = params.Add("token", item.Token)
	}

	return c.urls.Absolute(PublicDownloadEndpoint+"/"+url.PathEscape(item.Hash), item.Path, params, false)
}

// Info returns the server's metadata document for path.
func (c *Client) Info(ctx context.Context, path string) (map[string]any, error) {
	var out map[string]any
	if err := c.DoJSON(ctx, http.MethodGet, ResourcePath(InfoEndpoint, path, nil), nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}
