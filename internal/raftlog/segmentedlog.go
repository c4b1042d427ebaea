package raftlog

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mrshabel/treekeep/internal/fs"
	"github.com/mrshabel/treekeep/internal/storage"
	"go.uber.org/zap"
)

// osReadWrite is the flag set used to reopen an existing segment file
// for in-place truncation during recovery and truncateSuffix.
const osReadWrite = os.O_RDWR

func readFileBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// defaultMaxSegmentSize is the rollover threshold for a segment's logical
// byte size (header + framed records).
const defaultMaxSegmentSize = 8 << 20 // 8 MiB

// defaultAllocBytes is how much disk space PreparedSegments pre-allocates
// for each open segment file it creates ahead of time.
const defaultAllocBytes = defaultMaxSegmentSize + (64 << 10)

// defaultPreparedCapacity is how many open segment files the background
// preparer keeps ready for rollover to claim without blocking on disk I/O.
const defaultPreparedCapacity = 2

// Config configures a SegmentedLog.
type Config struct {
	Dir                        string
	Encoding                   Encoding
	MaxSegmentSize             int64
	PreparedSegmentCapacity    int
	AllocBytes                 int64
	DiskWriteDurationThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = defaultMaxSegmentSize
	}
	if c.AllocBytes <= 0 {
		c.AllocBytes = defaultAllocBytes
	}
	if c.PreparedSegmentCapacity <= 0 {
		c.PreparedSegmentCapacity = defaultPreparedCapacity
	}
	return c
}

// SegmentedLog is the durable, on-disk Log implementation: a sequence of
// segment files under Config.Dir, written through an asynchronous
// segmentedSync pipeline and kept readily extensible by a background
// preparedSegments preparer. It is grounded on gumlog's internal/log
// package (store.go for append-with-fsync discipline, segment.go for
// the open/closed-segment split, log.go for the multi-segment index),
// generalized to the checksum-framed, rollover-on-size,
// recoverable-on-restart design LogCabin's Log::SegmentedLog describes.
type SegmentedLog struct {
	mu     sync.Mutex
	dir    string
	cfg    Config
	logger *zap.Logger

	metaFile    *storage.MetadataFile
	metadata    Metadata
	metaVersion uint64

	segments    []*segment // sorted by startIndex ascending; last is open
	openSegment *segment

	prepared    *preparedSegments
	currentSync *segmentedSync
}

var _ Log = (*SegmentedLog)(nil)

// Open recovers (or initializes) a SegmentedLog rooted at cfg.Dir.
func Open(cfg Config) (*SegmentedLog, error) {
	cfg = cfg.withDefaults()
	l := &SegmentedLog{
		dir:      cfg.Dir,
		cfg:      cfg,
		logger:   zap.L().Named("segmentedlog"),
		metaFile: storage.NewMetadataFile(cfg.Dir),
		prepared: newPreparedSegments(cfg.PreparedSegmentCapacity),
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	l.prepared.start(l.dir, l.cfg.AllocBytes)
	l.currentSync = newSegmentedSync(l.lastLogIndexLocked(), l.cfg.DiskWriteDurationThreshold)
	return l, nil
}

// recover reads metadata, loads every segment file found on disk,
// validates cross-segment invariants, and leaves
// exactly one open segment (the recovered one, reused, or a freshly
// claimed one if none was found).
func (l *SegmentedLog) recover() error {
	names, err := fs.Ls(l.dir)
	if err != nil {
		return fmt.Errorf("raftlog: list %s: %w", l.dir, err)
	}

	var candidates []segment
	for _, name := range names {
		if name == "metadata1" || name == "metadata2" || name == "lock" {
			continue
		}
		seg, ok := parseSegmentFilename(name)
		if !ok {
			l.logger.Warn("ignoring unrecognized file in log directory", zap.String("name", name))
			continue
		}
		if seg.isOpen {
			if id, ok := openSegmentFileID(name); ok {
				l.prepared.foundFile(id)
			}
		}
		candidates = append(candidates, seg)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].isOpen != candidates[j].isOpen {
			return !candidates[i].isOpen // closed segments sort before open ones
		}
		return candidates[i].startIndex < candidates[j].startIndex
	})

	version, record, found := l.metaFile.Read()
	if found {
		meta, ok := decodeMetadata(record)
		if !ok || meta.FormatVersion != CurrentFormatVersion {
			l.logger.Fatal("unreadable or unsupported log metadata format", zap.Uint64("version", version))
		}
		l.metadata = meta
		l.metaVersion = version
	} else {
		l.metadata = Metadata{LogStartIndex: 1, FormatVersion: CurrentFormatVersion}
	}
	if l.metadata.LogStartIndex == 0 {
		l.metadata.LogStartIndex = 1
	}

	anyEntriesOnDisk := false
	for i := range candidates {
		c := &candidates[i]
		if c.isOpen {
			continue
		}
		if c.endIndex >= l.metadata.LogStartIndex {
			anyEntriesOnDisk = true
		}
	}
	if !found && anyEntriesOnDisk {
		l.logger.Fatal("log metadata missing but closed segments with live entries exist on disk; refusing to guess log start index")
	}

	for i := range candidates {
		c := candidates[i]
		if c.isOpen {
			continue
		}
		loaded, keep, err := l.loadClosedSegment(c)
		if err != nil {
			return err
		}
		if keep {
			l.segments = append(l.segments, loaded)
		}
	}

	var openCandidate *segment
	for i := range candidates {
		c := candidates[i]
		if !c.isOpen {
			continue
		}
		if openCandidate != nil {
			l.logger.Fatal("found more than one open segment file on recovery", zap.String("first", openCandidate.filename), zap.String("second", c.filename))
		}
		loaded, keep, err := l.loadOpenSegment(c)
		if err != nil {
			return err
		}
		if keep {
			openCandidate = loaded
		}
	}

	if openCandidate != nil {
		l.segments = append(l.segments, openCandidate)
		l.openSegment = openCandidate
	}

	if err := l.checkInvariantsLocked(); err != nil {
		l.logger.Fatal("log recovery invariant violation", zap.Error(err))
	}

	// Recovery leaves exactly one open segment: the one found on disk
	// (reused as-is, so appends continue filling it) if there was one,
	// otherwise a freshly claimed segment.
	if openCandidate == nil {
		l.openNewSegmentLocked()
	}
	return nil
}

// loadClosedSegment opens and fully parses a closed segment file. Closed
// segments are supposed to be complete and intact; any parse error is
// treated as corruption and is fatal: a malformed closed segment is
// always a fatal error.
func (l *SegmentedLog) loadClosedSegment(c segment) (seg *segment, keep bool, err error) {
	path := l.dir + "/" + c.filename
	data, rerr := readFileBytes(path)
	if rerr != nil {
		return nil, false, fmt.Errorf("raftlog: read %s: %w", path, rerr)
	}
	if !readSegmentHeader(data) {
		l.logger.Fatal("closed segment has bad or missing header", zap.String("file", c.filename))
	}
	if c.endIndex < l.metadata.LogStartIndex {
		// already fully truncated away; this file is stale UNLINKAT
		// debris from a crash between TRUNCATE ops and their UNLINKAT.
		fs.RemoveFile(path)
		return nil, false, nil
	}

	offset := segmentHeaderSize
	want := int(c.endIndex - c.startIndex + 1)
	records := make([]segmentRecord, 0, want)
	for len(records) < want {
		e, next, derr := unmarshalFramed(data, offset, l.cfg.Encoding)
		if derr != nil {
			l.logger.Fatal("closed segment is truncated or corrupt", zap.String("file", c.filename), zap.Error(derr))
		}
		records = append(records, segmentRecord{offset: uint64(offset), entry: e})
		offset = next
	}

	f := fs.OpenFile(path, osReadWrite, 0644)
	seg = &segment{
		isOpen:     false,
		startIndex: c.startIndex,
		endIndex:   c.endIndex,
		bytes:      uint64(offset),
		filename:   c.filename,
		file:       f,
		records:    records,
	}
	return seg, true, nil
}

// loadOpenSegment parses as many complete records as it can find in an
// open segment file, tolerating a partially written trailing record (the
// normal crash-during-append case) by truncating it away.
func (l *SegmentedLog) loadOpenSegment(c segment) (seg *segment, keep bool, err error) {
	path := l.dir + "/" + c.filename
	data, rerr := readFileBytes(path)
	if rerr != nil {
		return nil, false, fmt.Errorf("raftlog: read %s: %w", path, rerr)
	}
	f := fs.OpenFile(path, osReadWrite, 0644)
	if !readSegmentHeader(data) {
		l.logger.Warn("open segment has no valid header; discarding", zap.String("file", c.filename))
		f.Close()
		fs.RemoveFile(path)
		return nil, false, nil
	}

	offset := segmentHeaderSize
	var records []segmentRecord
	for offset < len(data) {
		e, next, derr := unmarshalFramed(data, offset, l.cfg.Encoding)
		if derr != nil {
			trailing := data[offset:]
			allZero := true
			for _, b := range trailing {
				if b != 0 {
					allZero = false
					break
				}
			}
			if allZero {
				l.logger.Debug("open segment has zero-filled unused tail", zap.String("file", c.filename), zap.Int("bytes", len(trailing)))
			} else {
				l.logger.Warn("open segment has a partially written trailing record; truncating", zap.String("file", c.filename), zap.Int("bytes", len(trailing)))
			}
			break
		}
		records = append(records, segmentRecord{offset: uint64(offset), entry: e})
		offset = next
	}

	if len(records) > 0 && records[0].entry.Index < l.metadata.LogStartIndex {
		kept := records[:0:0]
		for _, r := range records {
			if r.entry.Index >= l.metadata.LogStartIndex {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	if err := f.Truncate(int64(offset)); err != nil {
		l.logger.Fatal("failed to truncate open segment to its last valid record", zap.String("file", c.filename), zap.Error(err))
	}
	fs.Fsync(f)

	if len(records) == 0 {
		f.Close()
		fs.RemoveFile(path)
		return nil, false, nil
	}

	seg = &segment{
		isOpen:     true,
		startIndex: records[0].entry.Index,
		endIndex:   records[len(records)-1].entry.Index,
		bytes:      uint64(offset),
		filename:   c.filename,
		file:       f,
		records:    records,
	}
	return seg, true, nil
}

// checkInvariantsLocked verifies segments form a contiguous, non-
// overlapping, ascending chain. Called once, after recovery.
func (l *SegmentedLog) checkInvariantsLocked() error {
	var expect uint64
	first := true
	for _, s := range l.segments {
		if s.startIndex > s.endIndex+1 && !(s.isOpen && len(s.records) == 0) {
			return fmt.Errorf("segment %s has startIndex > endIndex+1", s.filename)
		}
		if first {
			first = false
			expect = s.startIndex
			continue
		}
		if s.startIndex != expect {
			return fmt.Errorf("gap or overlap before segment %s: expected start %d, got %d", s.filename, expect, s.startIndex)
		}
		expect = s.endIndex + 1
	}
	return nil
}

func (l *SegmentedLog) lastLogIndexLocked() uint64 {
	if len(l.segments) == 0 {
		return l.metadata.LogStartIndex - 1
	}
	last := l.segments[len(l.segments)-1]
	if len(last.records) == 0 {
		return last.startIndex - 1
	}
	return last.endIndex
}

// openNewSegmentLocked claims a prepared segment file and makes it the
// active open segment, maintaining "exactly one open segment" at all
// times outside of the brief window inside rollover/truncateSuffix.
func (l *SegmentedLog) openNewSegmentLocked() {
	p, ok := l.prepared.waitForOpenSegment()
	if !ok {
		l.logger.Fatal("segment preparer shut down while a new open segment was needed")
	}
	next := l.lastLogIndexLocked() + 1
	seg := &segment{
		isOpen:     true,
		startIndex: next,
		endIndex:   next - 1,
		bytes:      segmentHeaderSize,
		filename:   p.filename,
		file:       p.file,
	}
	l.openSegment = seg
	l.segments = append(l.segments, seg)
}

// Append implements Log.Append: rolling over to a fresh segment when
// the open one would exceed MaxSegmentSize, and
// queuing one WRITE op per entry plus a trailing FDATASYNC onto the
// current Sync.
func (l *SegmentedLog) Append(entries []Entry) (first, last uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.lastLogIndexLocked() + 1
	first = next
	for i := range entries {
		e := entries[i]
		if e.Index == 0 {
			e.Index = next
		} else if e.Index != next {
			return 0, 0, ErrIndexOutOfRange{Index: e.Index, Start: l.metadata.LogStartIndex, Last: l.lastLogIndexLocked()}
		}
		serialized := marshalFramed(e, l.cfg.Encoding)

		if l.openSegment.bytes > segmentHeaderSize &&
			l.openSegment.bytes+uint64(len(serialized)) > uint64(l.cfg.MaxSegmentSize) {
			l.rolloverLocked()
		}
		if uint64(len(serialized)) > uint64(l.cfg.MaxSegmentSize) {
			l.logger.Warn("log record exceeds max segment size; storing it alone in its own segment",
				zap.Uint64("index", e.Index), zap.Int("bytes", len(serialized)))
		}

		offset := l.openSegment.bytes
		l.currentSync.ops = append(l.currentSync.ops, syncOp{code: opWrite, file: l.openSegment.file, data: serialized})
		l.openSegment.records = append(l.openSegment.records, segmentRecord{offset: offset, entry: e})
		l.openSegment.bytes += uint64(len(serialized))
		l.openSegment.endIndex = e.Index

		next++
	}
	last = next - 1
	if last >= first {
		l.currentSync.ops = append(l.currentSync.ops, syncOp{code: opFdatasync, file: l.openSegment.file})
		if last > l.currentSync.lastIndex {
			l.currentSync.lastIndex = last
		}
	}
	return first, last, nil
}

// rolloverLocked closes the current open segment (queuing its
// truncate/fsync/close/rename sequence onto the current Sync) and opens
// a new one in its place.
func (l *SegmentedLog) rolloverLocked() {
	old := l.openSegment
	closedName := old.makeClosedFilename()
	l.currentSync.ops = append(l.currentSync.ops,
		syncOp{code: opTruncate, file: old.file, size: int64(old.bytes)},
		syncOp{code: opFdatasync, file: old.file},
		syncOp{code: opClose, file: old.file},
		syncOp{code: opRename, dir: l.dir, from: old.filename, to: closedName},
	)
	old.isOpen = false
	old.filename = closedName
	l.openSegment = nil
	l.openNewSegmentLocked()
}

func (l *SegmentedLog) GetEntry(index uint64) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.segments {
		if len(s.records) == 0 {
			continue
		}
		if index >= s.startIndex && index <= s.endIndex {
			return s.records[index-s.startIndex].entry
		}
	}
	panic(ErrIndexOutOfRange{Index: index, Start: l.metadata.LogStartIndex, Last: l.lastLogIndexLocked()})
}

func (l *SegmentedLog) LogStartIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadata.LogStartIndex
}

func (l *SegmentedLog) LastLogIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLogIndexLocked()
}

// TruncatePrefix implements Log.TruncatePrefix: persist the new
// LogStartIndex durably first, then unlink whichever
// closed segments fall entirely below it. The currently open segment is
// never removed by this call even if it holds only now-invisible
// entries, matching the "implementations may retain slightly more"
// allowance in the Log interface.
func (l *SegmentedLog) TruncatePrefix(firstKept uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if firstKept <= l.metadata.LogStartIndex {
		return nil
	}
	if last := l.lastLogIndexLocked(); firstKept > last+1 {
		firstKept = last + 1
	}

	meta := l.metadata
	meta.LogStartIndex = firstKept
	if err := l.persistMetadataLocked(meta); err != nil {
		return err
	}
	l.metadata = meta

	kept := l.segments[:0]
	for _, s := range l.segments {
		if !s.isOpen && s.endIndex < firstKept {
			l.currentSync.ops = append(l.currentSync.ops, syncOp{code: opUnlinkat, dir: l.dir, to: s.filename})
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
	return nil
}

// TruncateSuffix implements Log.TruncateSuffix. It is synchronous:
// unlike Append/TruncatePrefix it performs its filesystem
// work directly rather than queuing it onto the current Sync, since a
// follower only calls this to discard conflicting entries it is about to
// overwrite with the leader's and needs the result durable immediately.
func (l *SegmentedLog) TruncateSuffix(lastKept uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.lastLogIndexLocked()
	if lastKept >= last {
		return nil
	}
	if lastKept+1 < l.metadata.LogStartIndex {
		lastKept = l.metadata.LogStartIndex - 1
	}

	open := l.openSegment
	if lastKept+1 >= open.startIndex {
		keep := 0
		for _, r := range open.records {
			if r.entry.Index > lastKept {
				break
			}
			keep++
		}
		newBytes := open.bytes
		if keep < len(open.records) {
			newBytes = open.records[keep].offset
		}
		open.records = open.records[:keep]
		if keep == 0 {
			open.endIndex = open.startIndex - 1
		} else {
			open.endIndex = open.records[keep-1].entry.Index
		}
		if err := open.file.Truncate(int64(newBytes)); err != nil {
			return fmt.Errorf("raftlog: truncate %s: %w", open.filename, err)
		}
		open.bytes = newBytes
		fs.Fsync(open.file)

		closedName := open.makeClosedFilename()
		open.file.Close()
		if err := fs.Rename(l.dir, open.filename, l.dir, closedName); err != nil {
			return fmt.Errorf("raftlog: rename %s: %w", open.filename, err)
		}
		open.isOpen = false
		open.filename = closedName
		l.openSegment = nil
		l.openNewSegmentLocked()
		return nil
	}

	// lastKept falls before the open segment entirely: drop the open
	// segment outright, then walk closed segments from the newest down,
	// removing or shrinking as needed.
	fs.RemoveFile(l.dir + "/" + open.filename)
	l.segments = l.segments[:len(l.segments)-1]
	l.openSegment = nil

	for i := len(l.segments) - 1; i >= 0; i-- {
		s := l.segments[i]
		switch {
		case s.startIndex > lastKept:
			fs.RemoveFile(l.dir + "/" + s.filename)
			l.segments = l.segments[:i]
		case s.endIndex > lastKept:
			keep := 0
			for _, r := range s.records {
				if r.entry.Index > lastKept {
					break
				}
				keep++
			}
			newBytes := s.bytes
			if keep < len(s.records) {
				newBytes = s.records[keep].offset
			}
			s.records = s.records[:keep]
			s.endIndex = lastKept
			f := fs.OpenFile(l.dir+"/"+s.filename, osReadWrite, 0644)
			if err := f.Truncate(int64(newBytes)); err != nil {
				f.Close()
				return fmt.Errorf("raftlog: truncate %s: %w", s.filename, err)
			}
			fs.Fsync(f)
			f.Close()
			newName := s.makeClosedFilename()
			if err := fs.Rename(l.dir, s.filename, l.dir, newName); err != nil {
				return fmt.Errorf("raftlog: rename %s: %w", s.filename, err)
			}
			s.filename = newName
			s.bytes = newBytes
			goto done
		default:
			goto done
		}
	}
done:
	l.openNewSegmentLocked()
	return nil
}

func (l *SegmentedLog) TakeSync() Sync {
	l.mu.Lock()
	defer l.mu.Unlock()
	taken := l.currentSync
	l.currentSync = newSegmentedSync(taken.lastIndex, l.cfg.DiskWriteDurationThreshold)
	return taken
}

func (l *SegmentedLog) SyncComplete(Sync) {}

func (l *SegmentedLog) UpdateMetadata(m Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistMetadataLocked(m)
}

func (l *SegmentedLog) persistMetadataLocked(m Metadata) error {
	if m.FormatVersion == 0 {
		m.FormatVersion = CurrentFormatVersion
	}
	l.metaVersion++
	if err := l.metaFile.Write(l.metaVersion, encodeMetadata(m)); err != nil {
		return err
	}
	l.metadata = m
	return nil
}

func (l *SegmentedLog) Metadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadata
}

func (l *SegmentedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepared.exit()
	for _, s := range l.segments {
		if s.file != nil {
			s.file.Close()
		}
	}
	return nil
}
