package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o755
)

// errLocked means another watch of the same local root is running.
var errLocked = errors.New("already running")

// watchLock is an flock-held file marking a running watch of one local root.
// Line one is the owner PID, line two the watched root.
type watchLock struct {
	path string
	f    *os.File
}

// watchLockPath returns the lock file for root under dataDir. Each local
// root gets its own file, so different roots can be watched concurrently.
func watchLockPath(dataDir, root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))

	return filepath.Join(dataDir, "watch-"+hex.EncodeToString(sum[:8])+".pid")
}

// lockWatch takes the watch lock for root. The error wraps errLocked and
// names the owner PID when another process already watches root.
func lockWatch(dataDir, root string) (*watchLock, error) {
	if dataDir == "" {
		return nil, errors.New("cannot place watch lock: data directory is empty")
	}

	root = filepath.Clean(root)
	path := watchLockPath(dataDir, root)

	if err := os.MkdirAll(dataDir, lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening watch lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, _, readErr := readWatchLock(path); readErr == nil {
			return nil, fmt.Errorf("watch of %s %w as PID %d", root, errLocked, pid)
		}

		return nil, fmt.Errorf("watch of %s %w (lock %s)", root, errLocked, path)
	}

	if err := writeLockOwner(f, root); err != nil {
		f.Close()

		return nil, err
	}

	return &watchLock{path: path, f: f}, nil
}

func writeLockOwner(f *os.File, root string) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating watch lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), root); err != nil {
		return fmt.Errorf("writing watch lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing watch lock: %w", err)
	}

	return nil
}

// release removes the lock file and drops the flock.
func (l *watchLock) release() {
	os.Remove(l.path)
	l.f.Close()
}

// readWatchLock returns the owner PID and watched root recorded in a lock
// file. The root is empty for files that only carry a PID.
func readWatchLock(path string) (int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("reading watch lock: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)

	var lines []string
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}

	if err := sc.Err(); err != nil {
		return 0, "", fmt.Errorf("reading watch lock: %w", err)
	}

	if len(lines) == 0 {
		return 0, "", fmt.Errorf("invalid PID in %s: empty file", path)
	}

	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	root := ""
	if len(lines) > 1 {
		root = lines[1]
	}

	return pid, root, nil
}
