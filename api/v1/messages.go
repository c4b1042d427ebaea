// Package v1 defines the wire types clients exchange with the cluster:
// session management, tree commands, and read-only queries. There is no
// .proto source for these messages (see DESIGN.md); internal/transport
// marshals them as JSON over a hand-written gRPC service, the same way
// internal/raftlog and internal/snapshot hand-roll their own framing.
package v1

// TreeOp identifies which tree operation a command requests, mirroring
// internal/statemachine's TreeOp one level up at the wire boundary.
type TreeOp uint8

const (
	TreeOpCheckCondition TreeOp = iota
	TreeOpMakeDirectory
	TreeOpListDirectory
	TreeOpRemoveDirectory
	TreeOpWrite
	TreeOpRead
	TreeOpRemoveFile
)

// TreeCommand is one tree operation, with an optional compare-and-swap
// style precondition.
type TreeCommand struct {
	Op             TreeOp
	Path           string
	Contents       string
	ConditionPath  string
	ConditionValue string
	HasCondition   bool
}

// OpenSessionRequest has no fields: the server assigns the new client
// its ID (the log index the OpenSession command commits at).
type OpenSessionRequest struct{}

type OpenSessionResponse struct {
	ClientID uint64
}

type CloseSessionRequest struct {
	ClientID uint64
}

type CloseSessionResponse struct{}

// ExecuteRequest carries a tree command through to the leader's log,
// tagged with the exactly-once bookkeeping every session-bound RPC
// needs so a retried request is applied at most once.
type ExecuteRequest struct {
	ClientID            uint64
	FirstOutstandingRPC uint64
	RPCNumber           uint64
	Command             TreeCommand
}

// Status mirrors internal/tree.Status plus the session/version outcomes
// internal/statemachine.ResponseStatus adds, flattened for clients that
// never import internal packages.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusLookupError
	StatusTypeError
	StatusConditionNotMet
	StatusSessionExpired
	StatusNotLeader
)

type ExecuteResponse struct {
	Status  Status
	Error   string
	Payload string // newline-joined children for ListDirectory, file contents for Read
}

// QueryRequest is a read-only tree request served without going through
// the log (a linearizable-read fast path via lastApplied).
type QueryRequest struct {
	Command TreeCommand
}

type QueryResponse struct {
	Status  Status
	Error   string
	Payload string
}
