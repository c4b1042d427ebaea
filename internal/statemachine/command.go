package statemachine

import "github.com/mrshabel/treekeep/internal/tree"

// CommandType distinguishes the serialized commands a DATA log entry
// can carry: Tree/OpenSession/CloseSession/AdvanceVersion, grounded on
// LogCabin's Server::StateMachine::apply, which switches on a protobuf
// oneof of the same shape.
type CommandType int

const (
	CommandTree CommandType = iota
	CommandOpenSession
	CommandCloseSession
	CommandAdvanceVersion
)

// ExactlyOnce carries the client bookkeeping LogCabin attaches to every
// Tree command so a retried RPC is applied at most once.
type ExactlyOnce struct {
	ClientID            uint64
	FirstOutstandingRPC uint64
	RPCNumber           uint64
}

// TreeOp identifies which Tree method a Tree command invokes.
type TreeOp int

const (
	TreeOpCheckCondition TreeOp = iota
	TreeOpMakeDirectory
	TreeOpListDirectory
	TreeOpRemoveDirectory
	TreeOpWrite
	TreeOpRead
	TreeOpRemoveFile
)

// TreeCommand is the payload of a Tree command: a single Tree operation
// plus an optional check-condition precondition, matching LogCabin's
// Protocol::Client::Command::Tree message.
type TreeCommand struct {
	Op               TreeOp
	Path             string
	Contents         string
	ConditionPath    string
	ConditionValue   string
	HasCondition     bool
}

// Command is the decoded body of a DATA log entry.
type Command struct {
	Type CommandType

	// CommandTree
	ExactlyOnce ExactlyOnce
	Tree        TreeCommand

	// CommandCloseSession
	CloseSessionClientID uint64

	// CommandAdvanceVersion
	RequestedVersion uint16
}

// ResponseStatus mirrors the handful of outcomes wait_for_response can
// report back to a client, beyond the Tree-level Status codes.
type ResponseStatus int

const (
	ResponseOK ResponseStatus = iota
	ResponseSessionExpired
	ResponseUnknownRequest
)

// Response is what apply()/wait_for_response() hand back for a given
// command.
type Response struct {
	Status         ResponseStatus
	TreeStatus     tree.Status
	TreeError      string
	Payload        string
	ClientID       uint64 // OpenSession
	RunningVersion uint16 // AdvanceVersion
}
