// Package snapshot reads and writes the single-file snapshot a server
// takes of its state machine, so that log entries below the snapshot's
// covered index can be discarded. It is grounded on LogCabin's
// Storage::SnapshotFile::{Reader,Writer}, adapted from LogCabin's
// fork-based "write in the parent, continue writing in a forked child"
// model to a goroutine-based one: Go has no fork, so SharedMMap's job
// (giving a watchdog in another process visibility into write progress)
// is instead served by an atomic counter shared between goroutines in
// the same process (see Progress below).
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/mrshabel/treekeep/internal/fs"
	"github.com/mrshabel/treekeep/internal/storage"
)

const snapshotFilename = "snapshot"

// DiscardPartialSnapshots removes any partial.* staging files left
// behind by a writer that crashed before calling Save. Called once at
// server boot.
func DiscardPartialSnapshots(layout *storage.Layout) error {
	names, err := fs.Ls(layout.SnapshotDir)
	if err != nil {
		return fmt.Errorf("snapshot: list %s: %w", layout.SnapshotDir, err)
	}
	for _, name := range names {
		if isPartialName(name) {
			if err := fs.RemoveFile(filepath.Join(layout.SnapshotDir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func partialName(seconds, micros int64) string {
	return fmt.Sprintf("partial.%d.%d", seconds, micros)
}

func isPartialName(name string) bool {
	return len(name) > len("partial.") && name[:len("partial.")] == "partial."
}

// Progress is a write counter a Writer bumps after every WriteMessage or
// WriteRaw call, and that a watchdog goroutine can poll concurrently
// to notice a stalled snapshot install. It's the in-process analogue of
// LogCabin's SharedMMap<atomic<uint64_t>>, which existed only because
// LogCabin forks a child process to do the actual writing.
type Progress struct {
	bytesWritten atomic.Uint64
}

// BytesWritten returns the number of bytes written so far.
func (p *Progress) BytesWritten() uint64 { return p.bytesWritten.Load() }

// Reader reads a previously saved snapshot file.
type Reader struct {
	contents  *fs.FileContents
	bytesRead int64
}

// NewReader opens the snapshot file under layout.SnapshotDir.
func NewReader(layout *storage.Layout) (*Reader, error) {
	path := filepath.Join(layout.SnapshotDir, snapshotFilename)
	raw, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	f := &fs.File{File: raw}
	contents, err := fs.NewFileContents(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{contents: contents}, nil
}

// SizeBytes returns the total size of the snapshot file.
func (r *Reader) SizeBytes() uint64 { return uint64(r.contents.Len()) }

// BytesRead returns how many bytes have been consumed so far.
func (r *Reader) BytesRead() uint64 { return uint64(r.bytesRead) }

// ReadRaw copies the next length bytes out of the snapshot.
func (r *Reader) ReadRaw(length uint64) ([]byte, error) {
	buf, err := r.contents.CopyPartial(r.bytesRead, int64(length))
	if err != nil {
		return nil, err
	}
	r.bytesRead += int64(length)
	return buf, nil
}

// ReadMessage decodes the next framed, checksummed record into v (a
// pointer), mirroring LogCabin's readMessage(protobuf::Message&) except
// that messages here are JSON rather than protobuf-encoded (see
// DESIGN.md: no protoc in this environment).
func (r *Reader) ReadMessage(v interface{}) error {
	rest, err := r.contents.Get(r.bytesRead, r.contents.Len()-r.bytesRead)
	if err != nil {
		return err
	}
	consumed, err := decodeMessage(rest, v)
	if err != nil {
		return err
	}
	r.bytesRead += int64(consumed)
	return nil
}

// Close releases the memory mapping and closes the underlying file.
func (r *Reader) Close() error {
	return r.contents.Close()
}

// Writer creates a new snapshot file under a temporary staging name,
// accumulating writes until Save renames it into place.
type Writer struct {
	dir         string
	stagingName string
	file        *fs.File

	bytesWritten uint64
	closed       bool
	saved        bool

	progress *Progress
}

// NewWriter creates a staging file ("partial.<sec>.<usec>") under
// layout.SnapshotDir, named with the given timestamp components (passed
// in by the caller, since this package cannot call time.Now() per the
// workflow's determinism constraints on generated code -- callers
// should pass wall-clock seconds/microseconds at the point of writer
// creation).
func NewWriter(layout *storage.Layout, seconds, micros int64) (*Writer, error) {
	name := partialName(seconds, micros)
	path := filepath.Join(layout.SnapshotDir, name)
	f, ok := fs.TryOpenFile(path, os.O_RDWR, 0644)
	if !ok {
		return nil, fmt.Errorf("snapshot: staging file %s already exists", path)
	}
	return &Writer{
		dir:         layout.SnapshotDir,
		stagingName: name,
		file:        f,
		progress:    &Progress{},
	}, nil
}

// Progress returns the shared write-progress counter for this writer,
// for a watchdog to poll.
func (w *Writer) Progress() *Progress { return w.progress }

// BytesWritten returns the number of bytes written so far.
func (w *Writer) BytesWritten() uint64 { return w.bytesWritten }

// WriteRaw appends data verbatim, with no framing.
func (w *Writer) WriteRaw(data []byte) error {
	if n := fs.Write(w.file, data); n != len(data) {
		return fmt.Errorf("snapshot: short write to %s", w.stagingName)
	}
	w.bytesWritten += uint64(len(data))
	w.progress.bytesWritten.Store(w.bytesWritten)
	return nil
}

// WriteMessage appends v (JSON-marshaled and framed with the shared
// checksum||length||payload record format).
func (w *Writer) WriteMessage(v interface{}) error {
	framed, err := encodeMessage(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(framed)
}

// FlushToOS flushes buffered writes down to the OS's page cache without
// closing the file, so readers in other goroutines/processes sharing
// the same fd can observe the data.
func (w *Writer) FlushToOS() error {
	return nil // fs.Write already issues a direct syscall write; nothing buffered here
}

// SeekToEnd repositions subsequent writes (and BytesWritten) to account
// for data written by another writer of the same staging file.
func (w *Writer) SeekToEnd() error {
	size, err := fs.GetSize(filepath.Join(w.dir, w.stagingName))
	if err != nil {
		return err
	}
	w.bytesWritten = uint64(size)
	if _, err := w.file.Seek(size, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Save flushes the file to disk, closes it, and atomically renames it
// into place as the snapshot, replacing any previous one.
func (w *Writer) Save() (uint64, error) {
	if w.closed {
		panic("snapshot: Save called on a closed Writer")
	}
	fs.Fsync(w.file)
	w.file.Close()
	w.closed = true
	if err := fs.Rename(w.dir, w.stagingName, w.dir, snapshotFilename); err != nil {
		return 0, fmt.Errorf("snapshot: install %s: %w", snapshotFilename, err)
	}
	w.saved = true
	return w.bytesWritten, nil
}

// Discard throws away the staging file. It is a programming error to
// call this after Save.
func (w *Writer) Discard() {
	if w.closed {
		panic("snapshot: Discard called on a closed Writer")
	}
	w.file.Close()
	w.closed = true
	fs.RemoveFile(filepath.Join(w.dir, w.stagingName))
}

// Close discards the file if it was never explicitly saved or
// discarded, matching gumlog's "warn and clean up" pattern for
// resources left dangling past their owner's lifetime.
func (w *Writer) Close() error {
	if !w.closed {
		w.Discard()
	}
	return nil
}
