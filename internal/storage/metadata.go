package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrshabel/treekeep/internal/fs"
	"github.com/mrshabel/treekeep/internal/recordio"
)

// MetadataFile implements LogCabin's alternating two-file scheme for
// small durable records: metadata1 and metadata2, each
// holding a framed record whose payload is prefixed with a
// monotonically increasing version. Reads try both files and the
// higher version wins; writes alternate by version parity, except the
// first two writes after boot which hit both files so that whichever
// one was stale (or missing) gets repaired immediately.
type MetadataFile struct {
	dir    string
	writes int
}

// NewMetadataFile returns a MetadataFile rooted at dir. dir must already
// exist.
func NewMetadataFile(dir string) *MetadataFile {
	return &MetadataFile{dir: dir}
}

// Read returns the highest-version record found across metadata1 and
// metadata2. found is false if neither file contains a valid record
// (e.g. on first boot).
func (m *MetadataFile) Read() (version uint64, record []byte, found bool) {
	v1, r1, ok1 := m.readOne("metadata1")
	v2, r2, ok2 := m.readOne("metadata2")
	switch {
	case ok1 && ok2:
		if v1 >= v2 {
			return v1, r1, true
		}
		return v2, r2, true
	case ok1:
		return v1, r1, true
	case ok2:
		return v2, r2, true
	default:
		return 0, nil, false
	}
}

func (m *MetadataFile) readOne(name string) (version uint64, record []byte, ok bool) {
	path := filepath.Join(m.dir, name)
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return 0, nil, false
	}
	payload, _, err := recordio.Decode(data, 0)
	if err != nil {
		return 0, nil, false
	}
	if len(payload) < 8 {
		return 0, nil, false
	}
	version = binary.BigEndian.Uint64(payload[:8])
	record = payload[8:]
	return version, record, true
}

// Write persists record under the given version. Every write fsyncs
// the file and the parent directory before returning.
func (m *MetadataFile) Write(version uint64, record []byte) error {
	payload := make([]byte, 8+len(record))
	binary.BigEndian.PutUint64(payload[:8], version)
	copy(payload[8:], record)
	framed := recordio.Encode(payload)

	writeOne := func(name string) error {
		path := filepath.Join(m.dir, name)
		f := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		defer f.Close()
		if n := fs.Write(f, framed); n != len(framed) {
			return fmt.Errorf("storage: short write to %s", path)
		}
		fs.Fsync(f)
		return nil
	}

	if m.writes < 2 {
		if err := writeOne("metadata1"); err != nil {
			return err
		}
		if err := writeOne("metadata2"); err != nil {
			return err
		}
	} else {
		name := "metadata2"
		if version%2 == 1 {
			name = "metadata1"
		}
		if err := writeOne(name); err != nil {
			return err
		}
	}
	m.writes++
	fs.FsyncDir(m.dir)
	return nil
}
