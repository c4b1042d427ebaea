package raftlog

import "sync"

// noopSync satisfies Sync for MemoryLog, whose appends are already
// "durable" as soon as they're in the slice (there's nothing to flush).
type noopSync struct{ lastIndex uint64 }

func (s *noopSync) Wait()             {}
func (s *noopSync) LastIndex() uint64 { return s.lastIndex }

// MemoryLog is a volatile Log implementation with no persistence,
// used by unit tests and ephemeral servers that don't need to survive
// a restart.
type MemoryLog struct {
	mu            sync.Mutex
	entries       []Entry // entries[i] has Index == logStartIndex+i
	logStartIndex uint64
	metadata      Metadata
}

// NewMemoryLog returns an empty log starting at index 1.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{logStartIndex: 1, metadata: Metadata{LogStartIndex: 1, FormatVersion: CurrentFormatVersion}}
}

func (l *MemoryLog) Append(entries []Entry) (first, last uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.lastLogIndexLocked() + 1
	for i := range entries {
		want := next + uint64(i)
		if entries[i].Index == 0 {
			entries[i].Index = want
		} else if entries[i].Index != want {
			return 0, 0, ErrIndexOutOfRange{Index: entries[i].Index, Start: l.logStartIndex, Last: l.lastLogIndexLocked()}
		}
	}
	l.entries = append(l.entries, entries...)
	if len(entries) == 0 {
		last := l.lastLogIndexLocked()
		return last + 1, last, nil
	}
	return entries[0].Index, entries[len(entries)-1].Index, nil
}

func (l *MemoryLog) GetEntry(index uint64) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.lastLogIndexLocked()
	if index < l.logStartIndex || index > last {
		panic(ErrIndexOutOfRange{Index: index, Start: l.logStartIndex, Last: last})
	}
	return l.entries[index-l.logStartIndex]
}

func (l *MemoryLog) LogStartIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logStartIndex
}

func (l *MemoryLog) LastLogIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLogIndexLocked()
}

func (l *MemoryLog) lastLogIndexLocked() uint64 {
	return l.logStartIndex - 1 + uint64(len(l.entries))
}

func (l *MemoryLog) TruncatePrefix(firstKept uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if firstKept <= l.logStartIndex {
		return nil
	}
	last := l.lastLogIndexLocked()
	if firstKept > last+1 {
		firstKept = last + 1
	}
	drop := firstKept - l.logStartIndex
	if drop > uint64(len(l.entries)) {
		drop = uint64(len(l.entries))
	}
	l.entries = l.entries[drop:]
	l.logStartIndex = firstKept
	return nil
}

func (l *MemoryLog) TruncateSuffix(lastKept uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.lastLogIndexLocked()
	if lastKept >= last {
		return nil
	}
	if lastKept < l.logStartIndex-1 {
		lastKept = l.logStartIndex - 1
	}
	keep := lastKept - l.logStartIndex + 1
	l.entries = l.entries[:keep]
	return nil
}

func (l *MemoryLog) TakeSync() Sync {
	return &noopSync{lastIndex: l.LastLogIndex()}
}

func (l *MemoryLog) SyncComplete(Sync) {}

func (l *MemoryLog) UpdateMetadata(m Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metadata = m
	return nil
}

func (l *MemoryLog) Metadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadata
}

func (l *MemoryLog) Close() error { return nil }

var _ Log = (*MemoryLog)(nil)
