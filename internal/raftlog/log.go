package raftlog

import "fmt"

// Metadata is the small durable record that survives restarts.
// VotedFor of 0 means "no vote cast this term".
type Metadata struct {
	CurrentTerm   uint64
	VotedFor      uint64
	LogStartIndex uint64
	FormatVersion uint8
}

// CurrentFormatVersion is the only metadata format version understood
// today; any other value found on disk is fatal.
const CurrentFormatVersion = 1

// Sync is the durability handle returned by TakeSync: a caller-owned
// batch of outstanding writes that must be waited on (and its results
// observed) before the entries it covers are considered durable.
// MemoryLog's Sync is a no-op; SegmentedLog's queues real filesystem
// operations (see segmentedlog.go).
type Sync interface {
	// Wait blocks until every operation queued into this Sync has
	// completed. It is safe to call at most once.
	Wait()
	// LastIndex is the highest log index covered by this Sync.
	LastIndex() uint64
}

// Log is the abstract replicated log interface both MemoryLog and
// SegmentedLog implement. Indexes are 1-based and dense: Append assigns
// consecutive indexes starting at LastLogIndex()+1.
type Log interface {
	// Append assigns indexes to entries (or validates caller-supplied
	// ones) and adds them to the log, returning the first and last
	// index appended.
	Append(entries []Entry) (first, last uint64, err error)
	// GetEntry returns the entry at index. It is fatal to call this
	// with an index outside [LogStartIndex(), LastLogIndex()].
	GetEntry(index uint64) Entry
	// LogStartIndex is the lowest index still present in the log (1
	// initially; only advances via TruncatePrefix).
	LogStartIndex() uint64
	// LastLogIndex is the highest index present, or LogStartIndex()-1
	// when the log is empty.
	LastLogIndex() uint64
	// TruncatePrefix discards entries with index < firstKept.
	// Implementations may retain slightly more (segment granularity)
	// but must advertise the resulting LogStartIndex() accurately.
	TruncatePrefix(firstKept uint64) error
	// TruncateSuffix discards entries with index > lastKept. It must
	// not be called while a Sync covering a higher index is
	// outstanding and not yet waited on.
	TruncateSuffix(lastKept uint64) error
	// TakeSync returns the currently queued Sync and starts a fresh
	// one for subsequent appends.
	TakeSync() Sync
	// SyncComplete releases any resources associated with a Sync
	// returned by TakeSync, after the caller has waited on it.
	SyncComplete(Sync)
	// UpdateMetadata persists the given metadata record.
	UpdateMetadata(Metadata) error
	// Metadata returns the last metadata persisted (or read at
	// startup).
	Metadata() Metadata
	// Close releases all resources held by the log.
	Close() error
}

// ErrIndexOutOfRange is returned (and treated as fatal by the caller)
// when GetEntry is asked for an index outside the log.
type ErrIndexOutOfRange struct {
	Index, Start, Last uint64
}

func (e ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("raftlog: index %d outside [%d, %d]", e.Index, e.Start, e.Last)
}
