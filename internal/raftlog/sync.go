package raftlog

import (
	"time"

	"github.com/mrshabel/treekeep/internal/fs"
	"go.uber.org/zap"
)

// opCode enumerates the deferred filesystem operations a Sync can
// queue.
type opCode int

const (
	opWrite opCode = iota
	opTruncate
	opRename
	opFdatasync
	opFsync
	opClose
	opUnlinkat
	opNoop
)

// syncOp is one queued operation. Only the fields relevant to opCode
// are populated.
type syncOp struct {
	code opCode

	file *fs.File // WRITE, TRUNCATE, FDATASYNC, FSYNC, CLOSE
	data []byte   // WRITE

	size int64 // TRUNCATE

	dir  string // RENAME (both names live in dir), UNLINKAT
	from string // RENAME
	to   string // RENAME, UNLINKAT
}

// segmentedSync is SegmentedLog's Log.Sync implementation: a deque of
// operations accumulated by Append/truncatePrefix/rollover, executed by
// a single leaderDiskThread-equivalent caller via Wait.
type segmentedSync struct {
	ops       []syncOp
	lastIndex uint64

	diskWriteDurationThreshold time.Duration
	logger                     *zap.Logger
}

func newSegmentedSync(lastIndex uint64, threshold time.Duration) *segmentedSync {
	return &segmentedSync{lastIndex: lastIndex, diskWriteDurationThreshold: threshold, logger: zap.L().Named("segmentedlog")}
}

func (s *segmentedSync) LastIndex() uint64 { return s.lastIndex }

// optimize cancels the first FDATASYNC of any (FDATASYNC, WRITE,
// FDATASYNC) triple against the same file: the write is followed by its
// own FDATASYNC, which makes the earlier one, bracketing nothing but
// already-durable data, redundant.
func (s *segmentedSync) optimize() {
	for i := 0; i+2 < len(s.ops); i++ {
		a, b, c := s.ops[i], s.ops[i+1], s.ops[i+2]
		if a.code == opFdatasync && b.code == opWrite && c.code == opFdatasync &&
			a.file == b.file && b.file == c.file {
			s.ops[i].code = opNoop
		}
	}
}

// Wait executes every queued operation in order, logging a warning if
// the whole batch takes longer than diskWriteDurationThreshold.
func (s *segmentedSync) Wait() {
	s.optimize()
	start := time.Now()
	for _, op := range s.ops {
		switch op.code {
		case opNoop:
		case opWrite:
			if n := fs.Write(op.file, op.data); n != len(op.data) {
				s.logger.Fatal("short write to segment file", zap.String("file", op.file.Name()))
			}
		case opTruncate:
			if err := op.file.Truncate(op.size); err != nil {
				s.logger.Fatal("truncate failed", zap.String("file", op.file.Name()), zap.Error(err))
			}
		case opRename:
			if err := fs.Rename(op.dir, op.from, op.dir, op.to); err != nil {
				s.logger.Fatal("rename failed", zap.String("dir", op.dir), zap.Error(err))
			}
		case opFdatasync:
			fs.Fdatasync(op.file)
		case opFsync:
			fs.Fsync(op.file)
		case opClose:
			op.file.Close()
		case opUnlinkat:
			if err := fs.RemoveFile(op.dir + "/" + op.to); err != nil {
				s.logger.Fatal("unlink failed", zap.String("dir", op.dir), zap.String("name", op.to), zap.Error(err))
			}
		}
	}
	elapsed := time.Since(start)
	if s.diskWriteDurationThreshold > 0 && elapsed > s.diskWriteDurationThreshold {
		s.logger.Warn("disk sync took longer than expected", zap.Duration("elapsed", elapsed), zap.Int("ops", len(s.ops)))
	}
}

var _ Sync = (*segmentedSync)(nil)
