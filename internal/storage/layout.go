// Package storage names and locks the on-disk tree for a single server:
// topDir/server{id}/{lock, log/, snapshot/}. It owns the exclusive
// per-server lock file for the server's lifetime, the way LogCabin's
// Storage::Layout does.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrshabel/treekeep/internal/fs"
	"go.uber.org/zap"
)

// Layout computes and locks the directory tree for one server.
type Layout struct {
	TopDir      string
	ServerDir   string
	LogDir      string
	SnapshotDir string

	lockFile  *fs.File
	ephemeral bool
	logger    *zap.Logger
}

// NewLayout creates (if necessary) and locks the directory tree for
// serverID under topDir. It is fatal for two processes to hold the same
// server's lock concurrently -- that indicates another instance of this
// server is already running against the same data directory.
func NewLayout(topDir string, serverID uint64) (*Layout, error) {
	l := &Layout{
		TopDir:    topDir,
		ServerDir: filepath.Join(topDir, fmt.Sprintf("server%d", serverID)),
		logger:    zap.L().Named("storage"),
	}
	l.LogDir = filepath.Join(l.ServerDir, "log")
	l.SnapshotDir = filepath.Join(l.ServerDir, "snapshot")
	if err := l.mkdirs(); err != nil {
		return nil, err
	}
	if err := l.acquireLock(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewEphemeralLayout creates a layout rooted at a fresh temporary
// directory, for tests and short-lived servers. Close removes the
// directory tree entirely.
func NewEphemeralLayout() (*Layout, error) {
	dir, err := fs.Mkdtemp("", "treekeep-")
	if err != nil {
		return nil, err
	}
	l, err := NewLayout(dir, 1)
	if err != nil {
		return nil, err
	}
	l.ephemeral = true
	return l, nil
}

func (l *Layout) mkdirs() error {
	for _, d := range []string{l.ServerDir, l.LogDir, l.SnapshotDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) acquireLock() error {
	path := filepath.Join(l.ServerDir, "lock")
	f := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	ok, err := fs.Flock(f, fs.LockExclusive|fs.LockNonBlocking)
	if err != nil {
		f.Close()
		return err
	}
	if !ok {
		f.Close()
		l.logger.Fatal("failed to acquire server lock file; is another instance already running against this data directory?",
			zap.String("path", path))
		return fmt.Errorf("storage: lock held: %s", path)
	}
	l.lockFile = f
	return nil
}

// Close releases the lock (and, for ephemeral layouts, deletes the
// entire directory tree).
func (l *Layout) Close() error {
	if l.lockFile != nil {
		fs.Flock(l.lockFile, fs.LockUnlock)
		l.lockFile.Close()
	}
	if l.ephemeral {
		return fs.Remove(l.TopDir)
	}
	return nil
}
