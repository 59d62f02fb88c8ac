package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tonimelisma/resourcectl/internal/api"
)

// DirectUploader sends a whole payload in one request. Satisfied by *api.Client.
type DirectUploader interface {
	Upload(
		ctx context.Context, path string, body io.Reader, size int64, overwrite bool, contentType string,
	) (string, error)
}

// directUpload performs a single-request upload. Blobs are materialized into
// memory when materialize is set (non-web origins cannot stream them).
// Never retries.
func directUpload(
	ctx context.Context, client DirectUploader, desc *Descriptor, materialize bool,
	tracker *progressTracker, logger *slog.Logger,
) (string, error) {
	size := desc.Payload.Size()

	var body io.Reader
	contentType := ""

	switch {
	case api.IsDirPath(desc.Path):
		size = 0
	case materialize && desc.Payload.Kind() == KindBlob:
		buf, err := desc.Payload.Materialize()
		if err != nil {
			return "", err
		}

		body = bytes.NewReader(buf)
		contentType = desc.Payload.ContentType()
	default:
		body = desc.Payload.Reader()
		contentType = desc.Payload.ContentType()
	}

	if body != nil {
		body = &countingReader{r: body, tracker: tracker}
	}

	logger.Debug("starting direct upload",
		slog.String("path", desc.Path),
		slog.Int64("size", size),
		slog.String("content_type", contentType),
	)

	text, err := client.Upload(ctx, desc.Path, body, size, desc.Overwrite, contentType)
	if err != nil {
		return "", fmt.Errorf("transfer: direct upload of %s: %w", desc.Path, err)
	}

	tracker.report(size)

	return text, nil
}
