package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tonimelisma/resourcectl/internal/api"
)

// Default chunk retry parameters. Backoff bounds match go-retryablehttp's
// client defaults.
const (
	DefaultChunkSize  int64 = 10 << 20
	DefaultRetryCount       = 5

	retryWaitMin = 1 * time.Second
	retryWaitMax = 30 * time.Second
)

// TusClient is the tus protocol surface used by resumable uploads.
// Satisfied by *api.Client.
type TusClient interface {
	CreateUpload(
		ctx context.Context, endpoint, path string, size int64, overwrite bool, metadata map[string]string,
	) (*api.UploadSession, error)
	UploadOffset(ctx context.Context, session *api.UploadSession) (int64, error)
	UploadChunk(
		ctx context.Context, session *api.UploadSession, chunk io.Reader, offset, length int64,
	) (int64, error)
}

// resumableUploader drives a tus upload chunk by chunk.
type resumableUploader struct {
	client     TusClient
	store      *SessionStore // nil = no session persistence
	server     string        // session store key component
	endpoint   string
	chunkSize  int64
	retryCount int
	logger     *slog.Logger

	// sleepFunc waits between chunk attempts. Tests replace it to run instantly.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// timeSleep waits for the specified duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// upload sends desc.Payload through a tus session, resuming a persisted
// session for the same payload when the server still knows it. Settles with
// "" on success.
func (r *resumableUploader) upload(
	ctx context.Context, desc *Descriptor, transferID string, tracker *progressTracker,
) (string, error) {
	size := desc.Payload.Size()
	logger := r.logger.With(slog.String("transfer_id", transferID), slog.String("path", desc.Path))

	fingerprint := ""
	if r.store != nil {
		fp, err := desc.Payload.Fingerprint()
		if err != nil {
			return "", err
		}

		fingerprint = fp
	}

	session, offset, fresh, err := r.openSession(ctx, desc, fingerprint, transferID, logger)
	if err != nil {
		return "", err
	}

	tracker.report(offset)

	attempts := 0

	for offset < size {
		n := min(r.chunkSize, size-offset)

		next, chunkErr := r.client.UploadChunk(ctx, session, desc.Payload.Section(offset, n), offset, n)
		if chunkErr == nil && next > offset && next <= size {
			offset = next
			attempts = 0
			tracker.report(offset)

			continue
		}

		slipped := chunkErr == nil
		if slipped {
			chunkErr = fmt.Errorf("transfer: server acknowledged offset %d after chunk at %d", next, offset)
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("transfer: resumable upload of %s: %w: %w", desc.Path, api.ErrAborted, ctx.Err())
		}

		if api.IsConflict(chunkErr) {
			synced, syncErr := r.client.UploadOffset(ctx, session)
			if syncErr != nil || synced == offset || synced > size {
				if fresh && offset == 0 {
					logger.Info("destination appeared during upload")
				}

				// The session was negotiated with this overwrite flag; a
				// resubmission must negotiate a new one.
				r.forgetSession(ctx, desc.Path, fingerprint, logger)

				return "", fmt.Errorf("transfer: chunk at offset %d of %s: %w", offset, desc.Path, chunkErr)
			}

			attempts++
			if attempts > r.retryCount {
				return "", fmt.Errorf("transfer: chunk at offset %d of %s failed after %d attempts: %w",
					offset, desc.Path, attempts, chunkErr)
			}

			logger.Warn("offset mismatch, continuing from server offset",
				slog.Int64("local_offset", offset),
				slog.Int64("server_offset", synced),
			)

			offset = synced
			tracker.report(offset)

			continue
		}

		attempts++
		if attempts > r.retryCount || !(slipped || retryableChunkError(ctx, chunkErr)) {
			return "", fmt.Errorf("transfer: chunk at offset %d of %s failed after %d attempts: %w",
				offset, desc.Path, attempts, chunkErr)
		}

		wait := retryablehttp.DefaultBackoff(retryWaitMin, retryWaitMax, attempts-1, responseFor(chunkErr))

		logger.Warn("retrying chunk",
			slog.Int64("offset", offset),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", chunkErr.Error()),
		)

		if sleepErr := r.sleepFunc(ctx, wait); sleepErr != nil {
			return "", fmt.Errorf("transfer: resumable upload of %s: %w: %w", desc.Path, api.ErrAborted, sleepErr)
		}

		synced, syncErr := r.client.UploadOffset(ctx, session)
		if syncErr != nil {
			logger.Debug("offset re-sync failed", slog.String("error", syncErr.Error()))

			continue
		}

		if synced > size {
			return "", fmt.Errorf("transfer: server offset %d exceeds size %d", synced, size)
		}

		if synced > offset {
			attempts = 0
		}

		offset = synced
		tracker.report(offset)
	}

	r.forgetSession(ctx, desc.Path, fingerprint, logger)
	tracker.report(size)

	logger.Info("resumable upload complete", slog.Int64("size", size))

	return "", nil
}

// openSession resumes a persisted session when one matches and the server
// still reports it, otherwise creates a new one. fresh is true for a newly
// created session.
func (r *resumableUploader) openSession(
	ctx context.Context, desc *Descriptor, fingerprint, transferID string, logger *slog.Logger,
) (*api.UploadSession, int64, bool, error) {
	size := desc.Payload.Size()

	if r.store != nil {
		rec, err := r.store.Load(ctx, r.server, desc.Path, fingerprint)
		if err != nil {
			logger.Warn("failed to load upload session", slog.String("error", err.Error()))
		}

		if rec != nil && rec.Overwrite != desc.Overwrite {
			logger.Info("persisted upload session has a different overwrite mode, creating fresh session")
			r.forgetSession(ctx, desc.Path, fingerprint, logger)

			rec = nil
		}

		if rec != nil && rec.Size == size {
			session := &api.UploadSession{URL: rec.SessionURL, Size: size}

			offset, offErr := r.client.UploadOffset(ctx, session)
			if offErr == nil && offset <= size {
				logger.Info("resuming upload session", slog.Int64("offset", offset))

				return session, offset, false, nil
			}

			if ctx.Err() != nil {
				return nil, 0, false, fmt.Errorf("transfer: resuming %s: %w: %w", desc.Path, api.ErrAborted, ctx.Err())
			}

			logger.Info("persisted upload session unusable, creating fresh session")
			r.forgetSession(ctx, desc.Path, fingerprint, logger)
		}
	}

	metadata := map[string]string{
		"filename":   path.Base(desc.Path),
		"filetype":   desc.Payload.ContentType(),
		"transferId": transferID,
	}

	session, err := r.client.CreateUpload(ctx, r.endpoint, desc.Path, size, desc.Overwrite, metadata)
	if err != nil {
		return nil, 0, false, fmt.Errorf("transfer: creating upload session for %s: %w", desc.Path, err)
	}

	if r.store != nil {
		if saveErr := r.store.Save(ctx, &SessionRecord{
			Server:      r.server,
			Path:        desc.Path,
			Fingerprint: fingerprint,
			SessionURL:  session.URL,
			Size:        size,
			Overwrite:   desc.Overwrite,
		}); saveErr != nil {
			logger.Warn("failed to save upload session, resume after interruption will not work",
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return session, 0, true, nil
}

func (r *resumableUploader) forgetSession(ctx context.Context, p, fingerprint string, logger *slog.Logger) {
	if r.store == nil {
		return
	}

	if err := r.store.Delete(context.WithoutCancel(ctx), r.server, p, fingerprint); err != nil {
		logger.Warn("failed to delete upload session", slog.String("error", err.Error()))
	}
}

// retryableChunkError classifies a chunk failure with go-retryablehttp's
// default policy: connection failures, 429 and 5xx (except 501) retry.
func retryableChunkError(ctx context.Context, err error) bool {
	if errors.Is(err, api.ErrAborted) {
		return false
	}

	if resp := responseFor(err); resp != nil {
		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, nil)
		return retry
	}

	if !errors.Is(err, api.ErrConnectionAborted) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr
	}

	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err)

	return retry
}

// responseFor rebuilds a minimal response from an *api.APIError so the
// retryablehttp policy and backoff can inspect the status.
func responseFor(err error) *http.Response {
	code := api.StatusCode(err)
	if code == 0 {
		return nil
	}

	return &http.Response{StatusCode: code, Header: http.Header{}}
}
