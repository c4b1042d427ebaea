// Package statemachine applies committed log entries to an in-memory
// Tree, tracks client sessions for exactly-once semantics, and serves
// read-only queries. It is grounded on LogCabin's Server::StateMachine
// (original_source Server/StateMachine.cc/.h), adapted from
// mutex+condition-variable thread synchronization to a Go
// sync.Mutex/sync.Cond pair, and from a forked snapshot writer to a
// goroutine handed a deep-copied (copy-on-write) Tree dump -- see
// TakeSnapshot in snapshot.go.
package statemachine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/tree"
)

// EntryKind classifies the committed log entry driving Apply, mirroring
// raftlog's EntryType.
type EntryKind int

const (
	EntryData EntryKind = iota
	EntryNoop
	EntryConfiguration
)

// DefaultSessionTimeoutNanos matches LogCabin's one-hour default
// (sessionTimeoutNanos in StateMachine.cc).
const DefaultSessionTimeoutNanos uint64 = uint64(60*60) * 1e9

// StateMachine applies committed commands to a Tree and answers queries
// against it.
type StateMachine struct {
	mu     sync.Mutex
	cond   *sync.Cond
	logger *zap.Logger

	tree           *tree.Tree
	sessions       map[uint64]*session
	versions       *versionHistory
	sessionTimeout uint64 // nanoseconds of cluster time

	lastApplied uint64
}

// New constructs an empty StateMachine.
func New(logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &StateMachine{
		logger:         logger.Named("statemachine"),
		tree:           tree.New(),
		sessions:       make(map[uint64]*session),
		versions:       newVersionHistory(),
		sessionTimeout: DefaultSessionTimeoutNanos,
	}
	sm.cond = sync.NewCond(&sm.mu)
	return sm
}

// SetSessionTimeout overrides the default session expiry window, mostly
// useful for tests that want sessions to expire quickly (a 1ns timeout
// forces immediate expiry).
func (sm *StateMachine) SetSessionTimeout(nanos uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessionTimeout = nanos
}

// LastApplied returns the highest log index applied so far.
func (sm *StateMachine) LastApplied() uint64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastApplied
}

// RunningVersion returns the state-machine version in effect at the
// given log index.
func (sm *StateMachine) RunningVersion(index uint64) uint16 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.versions.runningAt(index)
}

// Apply applies one committed log entry, in log order. index must be
// exactly lastApplied+1 the first time Apply is called after
// construction or a snapshot load; callers (RaftCore's apply loop) are
// responsible for calling Apply in strict order.
func (sm *StateMachine) Apply(index uint64, clusterTime uint64, kind EntryKind, cmd *Command) Response {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var resp Response
	switch kind {
	case EntryData:
		resp = sm.applyData(index, clusterTime, cmd)
	case EntryNoop, EntryConfiguration:
		// no user-visible effect; clients waiting at this index are
		// still satisfied by advancing lastApplied below.
	}

	sm.expireSessionsLocked(clusterTime)
	sm.lastApplied = index
	sm.cond.Broadcast()
	return resp
}

func (sm *StateMachine) applyData(index, clusterTime uint64, cmd *Command) Response {
	if cmd == nil {
		return Response{}
	}
	switch cmd.Type {
	case CommandOpenSession:
		sm.sessions[index] = newSession(index, clusterTime)
		return Response{ClientID: index}

	case CommandCloseSession:
		if sm.versions.runningAt(index-1) >= 2 {
			delete(sm.sessions, cmd.CloseSessionClientID)
		} else {
			sm.logger.Warn("ignoring CloseSession below state-machine version 2",
				zap.Uint64("index", index))
		}
		return Response{}

	case CommandAdvanceVersion:
		return sm.applyAdvanceVersion(index, cmd.RequestedVersion)

	case CommandTree:
		return sm.applyTree(index, clusterTime, cmd)

	default:
		return Response{Status: ResponseUnknownRequest}
	}
}

func (sm *StateMachine) applyAdvanceVersion(index uint64, requested uint16) Response {
	current := sm.versions.current()
	switch {
	case requested < current:
		sm.logger.Warn("rejecting AdvanceVersion below running version",
			zap.Uint16("requested", requested), zap.Uint16("current", current))
	case requested == current:
		// no-op
	case requested > MaxSupportedVersion:
		sm.logger.Fatal("AdvanceVersion requests unsupported state-machine version",
			zap.Uint16("requested", requested), zap.Uint16("max", MaxSupportedVersion))
	default:
		sm.versions.advance(index, requested)
	}
	return Response{RunningVersion: sm.versions.runningAt(index)}
}

func (sm *StateMachine) applyTree(index, clusterTime uint64, cmd *Command) Response {
	eo := cmd.ExactlyOnce
	sess, ok := sm.sessions[eo.ClientID]
	if !ok {
		return Response{Status: ResponseSessionExpired}
	}
	sess.expireOutstanding(eo.FirstOutstandingRPC)
	if eo.RPCNumber < sess.firstOutstandingRPC {
		// already discarded; no response to give
		return Response{Status: ResponseSessionExpired}
	}
	if resp, done := sess.responses[eo.RPCNumber]; done {
		return resp
	}

	resp := sm.execTreeOp(cmd.Tree)
	sess.responses[eo.RPCNumber] = resp
	sess.lastModified = clusterTime
	return resp
}

func (sm *StateMachine) execTreeOp(op TreeCommand) Response {
	var result tree.Result
	var payload string
	switch op.Op {
	case TreeOpCheckCondition:
		result = sm.tree.CheckCondition(op.Path, op.Contents)
	case TreeOpMakeDirectory:
		result = sm.tree.MakeDirectory(op.Path)
	case TreeOpListDirectory:
		var children []string
		result, children = sm.tree.ListDirectory(op.Path)
		if result.Status == tree.StatusOK {
			for i, c := range children {
				if i > 0 {
					payload += "\n"
				}
				payload += c
			}
		}
	case TreeOpRemoveDirectory:
		result = sm.tree.RemoveDirectory(op.Path)
	case TreeOpWrite:
		if op.HasCondition {
			if cond := sm.tree.CheckCondition(op.ConditionPath, op.ConditionValue); cond.Status != tree.StatusOK {
				return Response{TreeStatus: tree.StatusConditionNotMet, TreeError: cond.Error}
			}
		}
		result = sm.tree.Write(op.Path, op.Contents)
	case TreeOpRead:
		result, payload = sm.tree.Read(op.Path)
	case TreeOpRemoveFile:
		result = sm.tree.RemoveFile(op.Path)
	default:
		return Response{Status: ResponseUnknownRequest}
	}
	return Response{TreeStatus: result.Status, TreeError: result.Error, Payload: payload}
}

// expireSessionsLocked removes sessions whose last activity is older
// than sessionTimeout relative to clusterTime, called after every
// Apply.
func (sm *StateMachine) expireSessionsLocked(clusterTime uint64) {
	for id, s := range sm.sessions {
		if s.lastModified+sm.sessionTimeout < clusterTime {
			delete(sm.sessions, id)
		}
	}
}

// Query serves a read-only Tree request without going through the log.
func (sm *StateMachine) Query(op TreeCommand) (Response, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	switch op.Op {
	case TreeOpListDirectory, TreeOpRead, TreeOpCheckCondition:
		return sm.execTreeOp(op), true
	default:
		sm.logger.Warn("query does not understand request", zap.Int("op", int(op.Op)))
		return Response{Status: ResponseUnknownRequest}, false
	}
}

// WaitForResponse blocks until lastApplied >= logIndex (or ctx is done),
// then returns the response recorded for the given exactly-once command
// (for Tree commands), or a synthesized response for the other command
// kinds, matching LogCabin's wait_for_response contract.
func (sm *StateMachine) WaitForResponse(ctx context.Context, logIndex uint64, cmd *Command) (Response, error) {
	done := make(chan struct{})
	go func() {
		sm.mu.Lock()
		for sm.lastApplied < logIndex {
			select {
			case <-ctx.Done():
				sm.mu.Unlock()
				return
			default:
			}
			sm.cond.Wait()
		}
		sm.mu.Unlock()
		close(done)
	}()

	select {
	case <-ctx.Done():
		sm.cond.Broadcast() // wake the waiter above so it can observe ctx.Done and exit
		return Response{}, ctx.Err()
	case <-done:
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if cmd == nil {
		return Response{}, nil
	}
	switch cmd.Type {
	case CommandOpenSession:
		return Response{ClientID: logIndex}, nil
	case CommandCloseSession:
		return Response{}, nil
	case CommandAdvanceVersion:
		return Response{RunningVersion: sm.versions.runningAt(logIndex)}, nil
	case CommandTree:
		sess, ok := sm.sessions[cmd.ExactlyOnce.ClientID]
		if !ok {
			return Response{Status: ResponseSessionExpired}, nil
		}
		if resp, done := sess.responses[cmd.ExactlyOnce.RPCNumber]; done {
			return resp, nil
		}
		return Response{Status: ResponseSessionExpired}, nil
	default:
		return Response{Status: ResponseUnknownRequest}, nil
	}
}
