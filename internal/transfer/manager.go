package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/resourcectl/internal/api"
)

// Sentinel errors for upload lifecycle failures.
var (
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch after upload")
	ErrNotConflicted    = errors.New("transfer: only a conflicted upload can be resubmitted")
)

// IsConflict reports whether err means the destination already exists.
func IsConflict(err error) bool {
	return api.IsConflict(err)
}

// API is the resource API surface the manager needs. Satisfied by *api.Client.
type API interface {
	DirectUploader
	TusClient
	Checksum(ctx context.Context, path, algo string) (string, error)
}

// Descriptor describes one upload. A Path ending in "/" creates a directory
// and ignores Payload.
type Descriptor struct {
	Path      string
	Payload   Payload
	Overwrite bool
	Progress  ProgressFunc // optional
}

// Result reports a settled upload.
type Result struct {
	ID       string
	Path     string
	Strategy Strategy
	Response string // direct upload response body; "" for resumable uploads
	Size     int64
	Checksum string // local digest when verification ran
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Server         string // key for persisted sessions, normally the server URL
	TusEndpoint    string
	ChunkSize      int64
	RetryCount     int // retries per chunk; negative disables retries
	VerifyChecksum string        // "" disables post-upload verification
	Store          *SessionStore // nil disables session persistence
	Logger         *slog.Logger
}

// Manager runs uploads: it selects a strategy per descriptor, falls back to
// a direct upload once when a resumable session cannot be negotiated, and
// optionally verifies the stored content against the server's checksum.
type Manager struct {
	client    API
	selector  *Selector
	resumable *resumableUploader
	verify    string
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(client API, selector *Selector, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	switch {
	case opts.RetryCount == 0:
		opts.RetryCount = DefaultRetryCount
	case opts.RetryCount < 0:
		opts.RetryCount = 0
	}

	if opts.TusEndpoint == "" {
		opts.TusEndpoint = api.DefaultTusEndpoint
	}

	return &Manager{
		client:   client,
		selector: selector,
		resumable: &resumableUploader{
			client:     client,
			store:      opts.Store,
			server:     opts.Server,
			endpoint:   opts.TusEndpoint,
			chunkSize:  opts.ChunkSize,
			retryCount: opts.RetryCount,
			logger:     logger,
			sleepFunc:  timeSleep,
		},
		verify: opts.VerifyChecksum,
		logger: logger,
	}
}

// Upload runs desc to completion. It is Start followed by Wait.
func (m *Manager) Upload(ctx context.Context, desc Descriptor) (Result, error) {
	return m.Start(ctx, desc).Wait()
}

// Start launches desc in its own goroutine and returns its handle.
func (m *Manager) Start(ctx context.Context, desc Descriptor) *Upload {
	u := &Upload{
		id:     uuid.NewString(),
		m:      m,
		parent: ctx,
		desc:   desc,
		state:  Pending,
	}

	u.launch()

	return u
}

// execute performs one submission of desc.
func (m *Manager) execute(ctx context.Context, desc *Descriptor, id string) (Result, error) {
	isDir := api.IsDirPath(desc.Path)

	res := Result{ID: id, Path: desc.Path, Size: desc.Payload.Size()}
	if isDir {
		res.Size = 0
	}

	tracker := newProgressTracker(desc.Progress, res.Size)
	logger := m.logger.With(slog.String("transfer_id", id), slog.String("path", desc.Path))
	started := time.Now()

	res.Strategy = m.selector.Select(ctx, desc.Path, desc.Payload)

	logger.Info("upload started",
		slog.String("strategy", res.Strategy.String()),
		slog.Int64("size", res.Size),
		slog.Bool("overwrite", desc.Overwrite),
	)

	var err error

	if res.Strategy == Resumable {
		res.Response, err = m.resumable.upload(ctx, desc, id, tracker)
		if errors.Is(err, api.ErrProtocolNegotiation) {
			logger.Warn("resumable upload unavailable, falling back to direct upload",
				slog.String("error", err.Error()),
			)

			res.Strategy = Direct
			res.Response, err = directUpload(ctx, m.client, desc, !m.selector.webOrigin(), tracker, logger)
		}
	} else {
		res.Response, err = directUpload(ctx, m.client, desc, !m.selector.webOrigin(), tracker, logger)
	}

	if err != nil {
		return res, err
	}

	if m.verify != "" && !isDir {
		sum, verifyErr := m.verifyChecksum(ctx, desc)
		if verifyErr != nil {
			return res, verifyErr
		}

		res.Checksum = sum
	}

	logger.Info("upload complete",
		slog.String("strategy", res.Strategy.String()),
		slog.Duration("elapsed", time.Since(started)),
	)

	return res, nil
}

// verifyChecksum compares the local digest with the server's.
func (m *Manager) verifyChecksum(ctx context.Context, desc *Descriptor) (string, error) {
	local, err := Digest(desc.Payload, m.verify)
	if err != nil {
		return "", err
	}

	remote, err := m.client.Checksum(ctx, desc.Path, m.verify)
	if err != nil {
		return "", fmt.Errorf("transfer: verifying %s: %w", desc.Path, err)
	}

	if !strings.EqualFold(local, remote) {
		m.logger.Warn("upload checksum mismatch",
			slog.String("path", desc.Path),
			slog.String("algorithm", m.verify),
			slog.String("local", local),
			slog.String("remote", remote),
		)

		return "", fmt.Errorf("%w: %s %s local %s, server %s", ErrChecksumMismatch, desc.Path, m.verify, local, remote)
	}

	return local, nil
}

// Upload is the handle of a started upload.
type Upload struct {
	id     string
	m      *Manager
	parent context.Context

	mu       sync.Mutex
	desc     Descriptor
	state    State
	canceled bool
	cancel   context.CancelFunc
	done     chan struct{}
	result   Result
	err      error
}

// ID returns the transfer ID used in logs and tus metadata.
func (u *Upload) ID() string { return u.id }

// State returns the current lifecycle state.
func (u *Upload) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Done is closed when the current submission settles.
func (u *Upload) Done() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.done
}

// Wait blocks until the current submission settles and returns its outcome.
func (u *Upload) Wait() (Result, error) {
	<-u.Done()

	u.mu.Lock()
	defer u.mu.Unlock()

	return u.result, u.err
}

// Cancel aborts the upload. The in-flight request is interrupted and no
// further chunks are dispatched. No-op once settled.
func (u *Upload) Cancel() {
	u.mu.Lock()

	if u.state.Settled() {
		u.mu.Unlock()
		return
	}

	u.canceled = true
	cancel := u.cancel
	u.mu.Unlock()

	cancel()
}

// Resubmit restarts a conflicted upload, normally with overwrite set.
func (u *Upload) Resubmit(overwrite bool) error {
	u.mu.Lock()

	if !canTransition(u.state, Pending) {
		state := u.state
		u.mu.Unlock()

		return fmt.Errorf("%w (state %s)", ErrNotConflicted, state)
	}

	u.state = Pending
	u.desc.Overwrite = overwrite
	u.result, u.err = Result{}, nil
	u.canceled = false
	u.mu.Unlock()

	u.launch()

	return nil
}

func (u *Upload) launch() {
	ctx, cancel := context.WithCancel(u.parent)
	done := make(chan struct{})

	u.mu.Lock()
	u.cancel = cancel
	u.done = done
	desc := u.desc
	u.mu.Unlock()

	go u.run(ctx, cancel, done, desc)
}

func (u *Upload) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, desc Descriptor) {
	defer close(done)
	defer cancel()

	u.setState(InFlight)

	res, err := u.m.execute(ctx, &desc, u.id)

	u.mu.Lock()
	defer u.mu.Unlock()

	u.result, u.err = res, err

	switch {
	case err == nil:
		u.state = Succeeded
	case u.canceled || errors.Is(err, api.ErrAborted) || errors.Is(err, context.Canceled):
		u.state = Aborted
		if !errors.Is(err, api.ErrAborted) {
			u.err = fmt.Errorf("%w: %w", api.ErrAborted, err)
		}
	case IsConflict(err):
		u.state = Conflicted
	default:
		u.state = Failed
	}

	u.m.logger.Debug("upload settled",
		slog.String("transfer_id", u.id),
		slog.String("state", u.state.String()),
	)
}

func (u *Upload) setState(to State) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if canTransition(u.state, to) {
		u.state = to
	}
}
