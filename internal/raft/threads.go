package raft

import (
	"context"
	"time"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
)

// Run starts every background goroutine driving this server's Raft
// loop and blocks until ctx is done, then calls Exit. Each loop is
// grounded on
// LogCabin's thread-per-concern model (std::thread → goroutine), using
// Core's single mutex + sync.Cond as the shared synchronization point
// LogCabin's Core::ConditionVariable state_changed served.
func (c *Core) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		c.Exit()
	}()
	defer close(done)

	go c.timerThread(ctx)
	go c.stepDownThread(ctx)
	go c.leaderDiskThread(ctx)
	go c.stateMachineUpdaterThread(ctx)
	go c.peerSupervisorThread(ctx)
	go c.applyLoopThread(ctx)
	go c.snapshotThread(ctx)

	<-ctx.Done()
}

// timerThread sleeps until start_election_at, then (if still a
// follower/candidate past the deadline) calls startNewElection. It may
// spuriously wake, matching gumlog's pattern of re-checking the
// condition after every wait.
func (c *Core) timerThread(ctx context.Context) {
	for {
		c.mu.Lock()
		for {
			if c.exiting {
				c.mu.Unlock()
				return
			}
			if c.role == Leader {
				c.cond.Wait()
				continue
			}
			wait := time.Until(c.startElectionAt)
			if wait <= 0 {
				break
			}
			c.waitWithTimeoutLocked(wait)
		}
		if !c.exiting && c.role != Leader && !time.Now().Before(c.startElectionAt) {
			c.startNewElectionLocked()
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// waitWithTimeoutLocked waits on c.cond for at most d, reacquiring the
// lock before returning (sync.Cond has no native timed wait; this
// spawns a one-shot timer goroutine that broadcasts, mirroring
// LogCabin's condvar-with-deadline idiom).
func (c *Core) waitWithTimeoutLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	c.cond.Wait()
	timer.Stop()
}

// stepDownThread: while LEADER, every
// ELECTION_TIMEOUT checks that a quorum has acknowledged currentEpoch;
// if not, steps down. lastAckEpoch tracking is simplified here to "has
// this peer replied to an AppendEntries/RequestVote since becoming
// leader", which is what currentEpoch quorum-ack ultimately gates.
func (c *Core) stepDownThread(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ElectionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		if c.exiting {
			c.mu.Unlock()
			return
		}
		if c.role == Leader {
			acked := c.configLocal.QuorumAll(func(id uint64) bool {
				if id == c.localID {
					return true
				}
				p, ok := c.peers[id]
				return ok && (p.matchIndex > 0 || p.requestVoteDone)
			})
			if !acked {
				c.stepDownLocked(c.log.Metadata().CurrentTerm)
			}
		}
		c.mu.Unlock()
	}
}

// leaderDiskThread: while LEADER and entries
// are queued for durability, takes the Sync, waits on it outside the
// lock, then updates self's lastSyncedIndex and advances commit_index.
func (c *Core) leaderDiskThread(ctx context.Context) {
	for {
		c.mu.Lock()
		for !c.exiting && c.role != Leader {
			c.cond.Wait()
		}
		if c.exiting {
			c.mu.Unlock()
			return
		}
		sync := c.log.TakeSync()
		c.mu.Unlock()

		sync.Wait()

		c.mu.Lock()
		if sync.LastIndex() > c.lastSyncedIndex {
			c.lastSyncedIndex = sync.LastIndex()
		}
		c.advanceCommitIndexLocked()
		c.mu.Unlock()
		c.log.SyncComplete(sync)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.HeartbeatPeriod):
		}
	}
}

// stateMachineUpdaterThread: once every peer
// has advertised capabilities supporting a higher state-machine version
// than is currently running, appends an AdvanceVersion command.
func (c *Core) stateMachineUpdaterThread(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StateMachineUpdaterBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		if c.exiting {
			c.mu.Unlock()
			return
		}
		if c.role != Leader {
			c.mu.Unlock()
			continue
		}
		current := c.sm.RunningVersion(c.commitIndex)
		candidate := current + 1
		allSupport := candidate <= MaxStateMachineVersion()
		c.configLocal.ForEach(func(s clusterconfig.Server) {
			if s.ID == c.localID {
				return
			}
			p, ok := c.peers[s.ID]
			if !ok || p.maxStateMachineVersion < candidate {
				allSupport = false
			}
		})
		if allSupport {
			c.appendDataLocked(encodeAdvanceVersion(candidate))
		}
		c.mu.Unlock()
	}
}

// peerSupervisorThread replaces LogCabin's one-goroutine-per-peer
// model with a single supervisor loop that kicks a short-lived
// replicateOnce/sendRequestVoteOnce call per known peer on every
// heartbeat tick; this keeps the peer set (which changes across
// configuration changes) from requiring goroutine lifecycle management
// beyond what Run's ctx cancellation already provides.
func (c *Core) peerSupervisorThread(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		if c.exiting {
			c.mu.Unlock()
			return
		}
		role := c.role
		ids := make([]uint64, 0, len(c.peers))
		for id := range c.peers {
			ids = append(ids, id)
		}
		c.mu.Unlock()

		for _, id := range ids {
			id := id
			switch role {
			case Candidate:
				go c.sendRequestVoteOnce(ctx, id)
			case Leader:
				go c.replicateOnce(ctx, id)
			}
		}
	}
}
