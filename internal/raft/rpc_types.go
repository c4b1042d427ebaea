package raft

// Wire types for the three inter-peer RPCs. internal/transport maps
// these to and from gRPC messages.

type RequestVoteRequest struct {
	Term          uint64
	ServerID      uint64
	LastLogIndex  uint64
	LastLogTerm   uint64
}

type RequestVoteResponse struct {
	Term    uint64
	Granted bool
	LogOK   bool
}

type AppendEntriesRequest struct {
	Term         uint64
	ServerID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []WireEntry
	CommitIndex  uint64
}

// WireEntry is the over-the-wire shape of raftlog.Entry.
type WireEntry struct {
	Index       uint64
	Term        uint64
	ClusterTime uint64
	Type        uint8
	Payload     []byte
}

type AppendEntriesResponse struct {
	Term         uint64
	Success      bool
	LastLogIndex uint64
	Capabilities Capabilities
}

type InstallSnapshotRequest struct {
	Term             uint64
	ServerID         uint64
	LastSnapshotIndex uint64
	ByteOffset       uint64
	Data             []byte
	Done             bool
	Version          uint8
}

type InstallSnapshotResponse struct {
	Term        uint64
	BytesStored uint64
}
