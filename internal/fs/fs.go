// Package fs is a thin, typed facade over the filesystem primitives the
// storage layer depends on: open/read/write/rename/fsync/flock. Every
// recoverable condition (EEXIST on a guarded create, EWOULDBLOCK on a
// non-blocking lock, ENOENT on a best-effort remove) is turned into a
// zero value or sentinel instead of an error, the way store.go and
// index.go in gumlog's log package treat *os.File. Conditions that
// indicate a programming error (a bad path, a closed descriptor) panic:
// this package is meant to be called by components that have already
// validated their inputs.
package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
)

// skipFsync disables real fsync/fdatasync calls. Tests that don't care
// about durability (but do care about speed) flip this with SetSkipFsync.
var skipFsync atomic.Bool

// SetSkipFsync toggles the global fsync bypass used by tests.
func SetSkipFsync(skip bool) {
	skipFsync.Store(skip)
}

// SkipFsync reports whether fsync calls are currently bypassed.
func SkipFsync() bool {
	return skipFsync.Load()
}

// LockMode mirrors flock(2)'s operation flags.
type LockMode int

const (
	LockShared    LockMode = syscall.LOCK_SH
	LockExclusive LockMode = syscall.LOCK_EX
	LockUnlock    LockMode = syscall.LOCK_UN
	// LockNonBlocking is OR'd into LockShared/LockExclusive to make the
	// call return immediately instead of blocking.
	LockNonBlocking LockMode = syscall.LOCK_NB
)

// File wraps an *os.File with the handful of operations the storage
// layer needs, so callers never reach for raw os/syscall calls.
type File struct {
	*os.File
}

// OpenDir opens an existing directory for use as an fsync target and for
// openat-relative operations. It panics if the directory does not exist:
// callers are expected to have created it via StorageLayout first.
func OpenDir(path string) *File {
	f, err := os.Open(path)
	if err != nil {
		panic(fmt.Sprintf("fs: openDir(%s): %v", path, err))
	}
	return &File{f}
}

// OpenFile opens path with the given flags, creating parent-relative
// files as needed. Misuse (e.g. a missing parent directory) is fatal.
func OpenFile(path string, flag int, perm os.FileMode) *File {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		panic(fmt.Sprintf("fs: openFile(%s): %v", path, err))
	}
	return &File{f}
}

// TryOpenFile attempts to create path exclusively. If the file already
// exists, it returns (nil, false) instead of an error -- this is the
// recoverable EEXIST case used by snapshot staging files and lock files.
func TryOpenFile(path string, flag int, perm os.FileMode) (*File, bool) {
	f, err := os.OpenFile(path, flag|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return nil, false
		}
		panic(fmt.Sprintf("fs: tryOpenFile(%s): %v", path, err))
	}
	return &File{f}, true
}

// Allocate pre-allocates [0, length) bytes for f, falling back to
// Truncate when fallocate(2) isn't available (e.g. on a filesystem that
// doesn't support it). This keeps SegmentedLog's "pre-allocated segment
// files" invariant true without requiring a specific filesystem.
func Allocate(f *File, length int64) error {
	if err := syscall.Fallocate(int(f.Fd()), 0, 0, length); err != nil {
		if err == syscall.EOPNOTSUPP || err == syscall.ENOSYS {
			return f.Truncate(length)
		}
		return err
	}
	return nil
}

// Fsync commits f's data and metadata to stable storage, unless the
// global skip-fsync test flag is set.
func Fsync(f *File) {
	if skipFsync.Load() {
		return
	}
	if err := f.Sync(); err != nil {
		panic(fmt.Sprintf("fs: fsync(%s): %v", f.Name(), err))
	}
}

// Fdatasync is the data-only analogue of Fsync. The Go standard library
// doesn't expose fdatasync(2) separately from fsync(2); since the
// invariant we care about (data durable before the dependent metadata
// write proceeds) holds either way, this calls the same full sync and
// is named separately so call sites document which flavor they mean.
func Fdatasync(f *File) {
	Fsync(f)
}

// FsyncDir fsyncs a directory's metadata so that renames/creates/removes
// within it are durable, matching the "fsync the parent directory after
// a rename" discipline MetadataFile and SegmentedLog both rely on.
func FsyncDir(dirPath string) {
	d := OpenDir(dirPath)
	defer d.Close()
	Fsync(d)
}

// Flock applies an flock(2) lock to f. When mode includes
// LockNonBlocking and the lock is already held elsewhere, Flock returns
// (false, nil) rather than an error -- the EWOULDBLOCK recoverable case.
func Flock(f *File, mode LockMode) (bool, error) {
	err := syscall.Flock(int(f.Fd()), int(mode))
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK {
		return false, nil
	}
	return false, err
}

// Write writes all of p to f, retrying on EINTR, and returns the total
// number of bytes written or -1 on an unrecoverable error.
func Write(f *File, p []byte) int {
	total := 0
	for total < len(p) {
		n, err := f.Write(p[total:])
		total += n
		if err == nil {
			continue
		}
		if err == syscall.EINTR {
			continue
		}
		return -1
	}
	return total
}

// Rename moves oldDir/oldName to newDir/newName. Both directories are
// fsynced afterward when they differ (a rename across directories must
// make both the removal and the addition durable).
func Rename(oldDir, oldName, newDir, newName string) error {
	oldPath := filepath.Join(oldDir, oldName)
	newPath := filepath.Join(newDir, newName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	FsyncDir(newDir)
	if newDir != oldDir {
		FsyncDir(oldDir)
	}
	return nil
}

// RemoveFile removes path. A missing file is not an error: callers
// treat "already gone" as success, matching ENOENT-is-fine semantics.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Remove recursively removes path and everything under it.
func Remove(path string) error {
	return os.RemoveAll(path)
}

// Ls lists the base names of the entries directly within dir.
func Ls(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Mkdtemp creates a new temporary directory under parent with the given
// name prefix and returns its full path.
func Mkdtemp(parent, prefix string) (string, error) {
	return os.MkdirTemp(parent, prefix)
}

// GetSize returns the current size in bytes of the file at path.
func GetSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// BufferedWriter wraps f with a bufio.Writer, the same pattern store.go
// uses to batch small appends into fewer syscalls.
func BufferedWriter(f *File) *bufio.Writer {
	return bufio.NewWriter(f)
}

// ReadFull reads exactly len(p) bytes from f starting at off.
func ReadFull(f *File, p []byte, off int64) error {
	_, err := f.ReadAt(p, off)
	if err == io.EOF && len(p) == 0 {
		return nil
	}
	return err
}
