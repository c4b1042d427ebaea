package fs

import (
	"fmt"

	"github.com/tysonmote/gommap"
)

// FileContents is a read-only memory-mapped view of a file, used by
// SnapshotFile's reader to serve snapshot bytes without copying the
// whole file into the heap first. It mirrors gumlog's index.go, which maps the index file
// once and serves reads straight out of the mapping.
type FileContents struct {
	file *File
	mmap gommap.MMap
}

// NewFileContents maps the whole of f. An empty file yields a view of
// length 0 without creating a mapping.
func NewFileContents(f *File) (*FileContents, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &FileContents{file: f}, nil
	}
	m, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &FileContents{file: f, mmap: m}, nil
}

// Len returns the size in bytes of the mapped region.
func (c *FileContents) Len() int64 {
	return int64(len(c.mmap))
}

// Get returns a byte slice aliasing the mapping in [offset, offset+length).
// The caller must not retain it past the FileContents' lifetime.
func (c *FileContents) Get(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(c.mmap)) {
		return nil, fmt.Errorf("fs: FileContents.Get(%d, %d) out of range (len=%d)", offset, length, len(c.mmap))
	}
	return c.mmap[offset : offset+length], nil
}

// Copy returns an owned copy of the whole mapped region.
func (c *FileContents) Copy() []byte {
	out := make([]byte, len(c.mmap))
	copy(out, c.mmap)
	return out
}

// CopyPartial returns an owned copy of [offset, offset+length).
func (c *FileContents) CopyPartial(offset, length int64) ([]byte, error) {
	b, err := c.Get(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Close unmaps the view and closes the underlying file.
func (c *FileContents) Close() error {
	if c.mmap != nil {
		if err := c.mmap.UnsafeUnmap(); err != nil {
			return err
		}
	}
	return c.file.Close()
}
