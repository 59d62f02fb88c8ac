// Package watch mirrors a local directory tree into a server directory:
// files created or modified locally are uploaded with overwrite once they
// have been quiet for a debounce interval. Local deletions are not mirrored.
package watch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/internal/transfer"
)

const (
	// DefaultDebounce is how long a file must be quiet before it is uploaded.
	DefaultDebounce = 2 * time.Second

	defaultParallel     = 4
	minFlushInterval    = 10 * time.Millisecond
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher is the part of *fsnotify.Watcher the loop uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	*fsnotify.Watcher
}

func (w fsnotifyWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsnotifyWatcher) Errors() <-chan error          { return w.Watcher.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w}, nil
}

// Uploader is satisfied by *transfer.Manager.
type Uploader interface {
	Upload(ctx context.Context, desc transfer.Descriptor) (transfer.Result, error)
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration // 0 selects DefaultDebounce
	Parallel int           // concurrent uploads per flush; 0 selects 4
	Initial  bool          // upload every existing file on start
	Logger   *slog.Logger
}

// Watcher uploads local changes under root to remote.
type Watcher struct {
	root     string
	remote   string
	uploader Uploader
	debounce time.Duration
	parallel int
	initial  bool
	logger   *slog.Logger

	newWatcher func() (FsWatcher, error)
	now        func() time.Time

	pending map[string]time.Time // local path -> last change
}

// New creates a Watcher. remote is the server directory that mirrors root.
func New(root, remote string, uploader Uploader, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.Parallel <= 0 {
		opts.Parallel = defaultParallel
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Watcher{
		root:       filepath.Clean(root),
		remote:     "/" + strings.Trim(remote, "/"),
		uploader:   uploader,
		debounce:   opts.Debounce,
		parallel:   opts.Parallel,
		initial:    opts.Initial,
		logger:     opts.Logger,
		newWatcher: newFsnotifyWatcher,
		now:        time.Now,
		pending:    make(map[string]time.Time),
	}
}

// Run watches until ctx is canceled. Pending changes are flushed only while
// ctx is live; an interrupted watch leaves them for the next run.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", w.root)
	}

	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.root, w.initial); err != nil {
		return err
	}

	w.logger.Info("watching directory",
		slog.String("root", w.root),
		slog.String("remote", w.remote),
		slog.Duration("debounce", w.debounce),
	)

	return w.loop(ctx, watcher)
}

func (w *Watcher) loop(ctx context.Context, watcher FsWatcher) error {
	ticker := time.NewTicker(max(w.debounce/2, minFlushInterval))
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(watcher, ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(watcher FsWatcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if excluded(filepath.Base(ev.Name)) {
		w.logger.Debug("watch: skipping excluded file", slog.String("path", ev.Name))

		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			w.logger.Debug("stat failed for created path",
				slog.String("path", ev.Name), slog.String("error", err.Error()))

			return
		}

		if info.IsDir() {
			// Files written before the watch was registered are only seen
			// by the scan.
			if err := w.addTree(watcher, ev.Name, true); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}

			return
		}

		w.pending[ev.Name] = w.now()

	case ev.Has(fsnotify.Write):
		w.pending[ev.Name] = w.now()

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		w.logger.Info("local removal not mirrored", slog.String("path", ev.Name))
	}
}

// addTree registers watches on dir and its subdirectories. When queue is
// set, the directories themselves and every file found are queued.
func (w *Watcher) addTree(watcher FsWatcher, dir string, queue bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p != dir && excluded(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			if queue && d.Type().IsRegular() {
				w.pending[p] = time.Time{}
			}

			return nil
		}

		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch: adding %s: %w", p, err)
		}

		if queue && p != w.root {
			w.pending[p+string(filepath.Separator)] = time.Time{}
		}

		return nil
	})
}

// flush uploads every pending path that has been quiet for the debounce
// interval. Directories sort before their contents. Paths whose upload
// failed are queued again and retried after another debounce interval.
func (w *Watcher) flush(ctx context.Context) {
	cutoff := w.now().Add(-w.debounce)

	var dirs, files []string

	for p, changed := range w.pending {
		if changed.After(cutoff) {
			continue
		}

		delete(w.pending, p)

		if strings.HasSuffix(p, string(filepath.Separator)) {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}

	if len(dirs) == 0 && len(files) == 0 {
		return
	}

	// Parents before children; shorter paths first is enough.
	slices.SortFunc(dirs, func(a, b string) int { return cmp.Compare(len(a), len(b)) })

	var (
		mu     sync.Mutex
		failed []string
	)

	for _, d := range dirs {
		if !w.uploadDir(ctx, d) {
			failed = append(failed, d)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)

	for _, f := range files {
		g.Go(func() error {
			if !w.uploadFile(gctx, f) {
				mu.Lock()
				failed = append(failed, f)
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	now := w.now()
	for _, p := range failed {
		if _, queued := w.pending[p]; !queued {
			w.pending[p] = now
		}
	}
}

// retryable reports whether a failed upload should be queued again. Aborted
// uploads are left for the next run and vanished files are dropped.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, api.ErrAborted) {
		return false
	}

	return !errors.Is(err, fs.ErrNotExist)
}

// uploadDir creates the server directory for local. It returns false when
// the attempt should be repeated.
func (w *Watcher) uploadDir(ctx context.Context, local string) bool {
	remote := w.RemotePath(local) + "/"

	_, err := w.uploader.Upload(ctx, transfer.Descriptor{Path: remote, Payload: transfer.Bytes(nil)})
	if err == nil || transfer.IsConflict(err) {
		return true
	}

	w.logger.Warn("directory upload failed",
		slog.String("path", remote), slog.String("error", err.Error()))

	return !retryable(ctx, err)
}

// uploadFile uploads local with overwrite. It returns false when the upload
// should be repeated.
func (w *Watcher) uploadFile(ctx context.Context, local string) bool {
	payload, err := transfer.OpenFile(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}

		w.logger.Warn("cannot open changed file",
			slog.String("path", local), slog.String("error", err.Error()))

		return !retryable(ctx, err)
	}
	defer payload.Close()

	remote := w.RemotePath(local)

	res, err := w.uploader.Upload(ctx, transfer.Descriptor{Path: remote, Payload: payload, Overwrite: true})
	if err != nil {
		w.logger.Warn("upload failed", slog.String("path", remote), slog.String("error", err.Error()))

		return !retryable(ctx, err)
	}

	w.logger.Info("uploaded",
		slog.String("path", remote),
		slog.String("strategy", res.Strategy.String()),
		slog.Int64("size", res.Size),
	)

	return true
}

// RemotePath maps a local path under root to its server path. Names are
// NFC-normalized so decomposed local names address the same resource.
func (w *Watcher) RemotePath(local string) string {
	rel, err := filepath.Rel(w.root, strings.TrimSuffix(local, string(filepath.Separator)))
	if err != nil || rel == "." {
		return w.remote
	}

	return path.Join(w.remote, norm.NFC.String(filepath.ToSlash(rel)))
}

// excluded reports names that are never uploaded: editor swap and temp
// files, and partial downloads.
func excluded(name string) bool {
	if strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".~") {
		return true
	}

	for _, suffix := range []string{".swp", ".swx", ".tmp", ".partial", ".crdownload"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}
