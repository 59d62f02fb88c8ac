package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Fetch retrieves a resource by logical path. Directories include their
// children, each stamped with its listing index and UI URL. sourceName
// selects a storage source and may be empty.
func (c *Client) Fetch(ctx context.Context, path, sourceName string) (*Item, error) {
	c.logger.Info("fetching resource",
		slog.String("path", path),
		slog.String("source", sourceName),
	)

	var params Params
	if sourceName != "" {
		params = params.Add("sourceName", sourceName)
	}

	var item Item
	if err := c.DoJSON(ctx, http.MethodGet, ResourcePath(ResourcesEndpoint, path, params), nil, &item); err != nil {
		return nil, err
	}

	query := ""
	if len(params) > 0 {
		query = "?" + params.Encode()
	}

	decorateListing(&item, "/files"+RemovePrefix(path), query)

	return &item, nil
}

// decorateListing computes the client-side Index and URL fields. query is
// appended to every URL (the sourceName selection must survive navigation).
func decorateListing(item *Item, url, query string) {
	item.URL = url

	if !item.IsDir {
		item.URL += query

		return
	}

	if !strings.HasSuffix(item.URL, "/") {
		item.URL += "/"
	}

	for i := range item.Items {
		child := &item.Items[i]
		child.Index = i
		child.URL = item.URL + EncodeComponent(child.Name)

		if child.IsDir {
			child.URL += "/"
		}

		child.URL += query
	}
}

// Remove deletes a resource. Directories are removed recursively by the server.
func (c *Client) Remove(ctx context.Context, path string) error {
	c.logger.Info("removing resource", slog.String("path", path))

	resp, err := c.Do(ctx, http.MethodDelete, ResourcePath(ResourcesEndpoint, path, nil), nil)
	if err != nil {
		return err
	}

	return drainAndClose(resp)
}

// Put replaces the content of an existing file with text content, the way
// an in-place editor saves.
func (c *Client) Put(ctx context.Context, path, content string) error {
	c.logger.Info("saving resource",
		slog.String("path", path),
		slog.Int("size", len(content)),
	)

	resp, err := c.Do(ctx, http.MethodPut, ResourcePath(ResourcesEndpoint, path, nil),
		strings.NewReader(content), WithContentLength(int64(len(content))))
	if err != nil {
		return err
	}

	return drainAndClose(resp)
}

// MoveCopyParams builds the query for a move or copy PATCH, in the order
// action, destination, override, rename.
func MoveCopyParams(to string, isCopy, overwrite, rename bool) Params {
	action := "rename"
	if isCopy {
		action = "copy"
	}

	return Params{}.
		Add("action", action).
		Add("destination", RemovePrefix(to)).
		AddBool("override", overwrite).
		AddBool("rename", rename)
}

// MoveCopy moves (isCopy=false) or copies (isCopy=true) from to the destination
// path to. overwrite replaces an existing destination; rename lets the server
// pick a free name instead of failing with 409.
func (c *Client) MoveCopy(ctx context.Context, from, to string, isCopy, overwrite, rename bool) (string, error) {
	c.logger.Info("patching resource",
		slog.String("from", from),
		slog.String("to", to),
		slog.Bool("copy", isCopy),
		slog.Bool("overwrite", overwrite),
		slog.Bool("rename", rename),
	)

	target := ResourcePath(ResourcesEndpoint, from, MoveCopyParams(to, isCopy, overwrite, rename))

	return c.DoText(ctx, http.MethodPatch, target, nil)
}

// Checksum asks the server for the checksum of a file with the given
// algorithm (md5, sha1, sha256, sha512) and returns the hex digest.
func (c *Client) Checksum(ctx context.Context, path, algo string) (string, error) {
	if !ValidChecksumAlgorithm(algo) {
		return "", fmt.Errorf("api: unsupported checksum algorithm %q", algo)
	}

	c.logger.Debug("requesting checksum",
		slog.String("path", path),
		slog.String("algorithm", algo),
	)

	var item Item
	target := ResourcePath(ResourcesEndpoint, path, Params{}.Add("checksum", algo))

	if err := c.DoJSON(ctx, http.MethodGet, target, nil, &item); err != nil {
		return "", err
	}

	sum, ok := item.Checksums[algo]
	if !ok {
		return "", fmt.Errorf("api: checksum response for %s has no %s field", path, algo)
	}

	return sum, nil
}

// drainAndClose discards the rest of a response body so the connection can
// be reused.
func drainAndClose(resp *http.Response) error {
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("api: draining response body: %w", err)
	}

	return nil
}
