package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/clock"
	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/snapshot"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/storage"
)

// Transport is the outbound RPC surface a Core needs from its peers.
// internal/transport provides the gRPC-backed implementation; tests use
// an in-memory fake. Every method must return promptly when ctx is
// canceled: RPC calls release the RaftCore lock while awaiting
// responses.
type Transport interface {
	RequestVote(ctx context.Context, addr string, req RequestVoteRequest) (RequestVoteResponse, error)
	AppendEntries(ctx context.Context, addr string, req AppendEntriesRequest) (AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, addr string, req InstallSnapshotRequest) (InstallSnapshotResponse, error)
}

// Core is RaftCore: the single coarse-grained-mutex-protected
// term/vote/log/commit state machine.
type Core struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg    Config
	logger *zap.Logger

	localID   uint64
	localAddr string

	log          raftlog.Log
	configs      *clusterconfig.Manager
	configLocal  *clusterconfig.Configuration
	clusterClock *clock.ClusterClock
	sm           *statemachine.StateMachine
	transport    Transport

	role            Role
	leaderID        uint64
	commitIndex     uint64
	startElectionAt time.Time
	withholdVotesUntil time.Time

	peers map[uint64]*peer

	lastSyncedIndex   uint64 // local SegmentedLog sync progress, treated as self's match_index
	lastSnapshotIndex uint64
	install           *snapshotInstall // in-progress receiver-side InstallSnapshot transfer, if any
	snapshotLayout    *storage.Layout

	snapshotting       bool // a self-initiated BeginSnapshot is in flight
	snapshotWriter     *snapshot.Writer
	snapshotGeneration uint64 // bumped on every BeginSnapshot, for the watchdog to recognize a new attempt
	lastSnapshotLogSize uint64 // log entries covered by the most recent self-taken snapshot

	exiting bool
}

// New constructs a Core for localID, seeded with whatever term/vote/log
// metadata log already has persisted (a fresh MemoryLog/SegmentedLog
// yields term=0, vote=0 for a first-ever boot).
func New(cfg Config, logger *zap.Logger, localID uint64, localAddr string, log raftlog.Log, sm *statemachine.StateMachine, transport Transport) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	configLocal := clusterconfig.New(localID)
	c := &Core{
		cfg:          cfg,
		logger:       logger.Named("raft"),
		localID:      localID,
		localAddr:    localAddr,
		log:          log,
		configLocal:  configLocal,
		configs:      clusterconfig.NewManager(configLocal),
		clusterClock: clock.New(),
		sm:           sm,
		transport:    transport,
		role:         Follower,
		peers:        make(map[uint64]*peer),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// BootstrapConfiguration appends the very first CONFIGURATION entry,
// naming servers as the members of a brand-new cluster. It must only be called once,
// before any RPCs are handled.
func (c *Core) BootstrapConfiguration(servers []clusterconfig.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log.LastLogIndex() >= c.log.LogStartIndex() {
		c.logger.Warn("ignoring BootstrapConfiguration on a non-empty log")
		return nil
	}
	payload := encodeConfiguration(clusterconfig.Description{OldServers: servers})
	entry := raftlog.Entry{Term: 1, ClusterTime: 0, Type: raftlog.EntryConfiguration, Payload: payload}
	first, _, err := c.log.Append([]raftlog.Entry{entry})
	if err != nil {
		return err
	}
	c.configs.Add(first, clusterconfig.Description{OldServers: servers})
	sync := c.log.TakeSync()
	sync.Wait()
	c.log.SyncComplete(sync)
	return nil
}

func (c *Core) randomizedElectionTimeout() time.Duration {
	t := c.cfg.ElectionTimeout
	return t + time.Duration(rand.Int63n(int64(t)+1))
}

func (c *Core) resetElectionTimerLocked() {
	c.startElectionAt = time.Now().Add(c.randomizedElectionTimeout())
	c.cond.Broadcast()
}

// startNewElectionLocked implements LogCabin's startNewElection.
func (c *Core) startNewElectionLocked() {
	if c.exiting {
		return
	}
	meta := c.log.Metadata()
	meta.CurrentTerm++
	meta.VotedFor = c.localID
	if err := c.log.UpdateMetadata(meta); err != nil {
		c.logger.Fatal("failed to persist term/vote before election", zap.Error(err))
	}
	c.role = Candidate
	c.resetElectionTimerLocked()
	c.logger.Info("starting election", zap.Uint64("term", meta.CurrentTerm))

	c.peers = make(map[uint64]*peer)
	lastIndex := c.log.LastLogIndex()
	c.configLocal.ForEach(func(s clusterconfig.Server) {
		if s.ID == c.localID {
			return
		}
		c.peers[s.ID] = &peer{server: s, nextIndex: lastIndex + 1}
	})

	if len(c.peers) == 0 && c.configLocal.HasVote(c.localID) {
		c.becomeLeaderLocked()
		return
	}
	c.cond.Broadcast()
	c.checkInvariantsLocked()
}

// becomeLeaderLocked implements LogCabin's becomeLeader.
func (c *Core) becomeLeaderLocked() {
	c.role = Leader
	c.leaderID = c.localID
	now := time.Now()
	for _, p := range c.peers {
		p.nextIndex = c.log.LastLogIndex() + 1
		p.matchIndex = 0
		p.suppressBulkData = true
		p.nextHeartbeatTime = now
	}
	c.startElectionAt = time.Time{} // infinite: leaders don't time themselves out

	term := c.log.Metadata().CurrentTerm
	clusterTime := c.clusterClock.LeaderStamp()
	entry := raftlog.Entry{Term: term, ClusterTime: clusterTime, Type: raftlog.EntryNoop}
	if _, _, err := c.log.Append([]raftlog.Entry{entry}); err != nil {
		c.logger.Fatal("failed to append leader no-op entry", zap.Error(err))
	}
	c.logger.Info("became leader", zap.Uint64("term", term))
	c.cond.Broadcast()
	c.checkInvariantsLocked()
}

// stepDownLocked implements LogCabin's stepDown.
func (c *Core) stepDownLocked(newTerm uint64) {
	meta := c.log.Metadata()
	if newTerm > meta.CurrentTerm {
		meta.CurrentTerm = newTerm
		meta.VotedFor = 0
		if err := c.log.UpdateMetadata(meta); err != nil {
			c.logger.Fatal("failed to persist term on step down", zap.Error(err))
		}
	}
	wasLeader := c.role == Leader
	c.leaderID = 0
	c.role = Follower
	if c.startElectionAt.IsZero() {
		c.resetElectionTimerLocked()
	}
	for _, p := range c.peers {
		if p.cancel != nil {
			p.cancel()
		}
	}
	if wasLeader {
		c.logger.Info("stepping down", zap.Uint64("newTerm", newTerm))
	}
	c.cond.Broadcast()
	c.checkInvariantsLocked()
}

// Exit cancels all background work and wakes every waiter.
func (c *Core) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exiting = true
	for _, p := range c.peers {
		if p.cancel != nil {
			p.cancel()
		}
	}
	c.cond.Broadcast()
}

// CommitIndex returns the current commit index.
func (c *Core) CommitIndex() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitIndex
}

// RoleState returns the current role.
func (c *Core) RoleState() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// CurrentTerm returns the persisted term.
func (c *Core) CurrentTerm() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Metadata().CurrentTerm
}

// IsLeader reports whether this server currently believes itself leader.
func (c *Core) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == Leader
}

// LeaderAddress returns the network address of the last known leader, or
// "" if none is known, for building redirect errors.
func (c *Core) LeaderAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaderID == 0 {
		return ""
	}
	if c.leaderID == c.localID {
		return c.localAddr
	}
	return c.configLocal.LookupAddress(c.leaderID)
}

// Configuration returns a snapshot of the current server list, safe to
// range over without holding Core's lock.
func (c *Core) Configuration() *clusterconfig.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := *c.configLocal
	return &cfg
}
