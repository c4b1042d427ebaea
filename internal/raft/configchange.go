package raft

import (
	"context"
	"fmt"
	"time"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raftlog"
)

// ChangeConfiguration drives a membership change through LogCabin's
// staging → transitional → stable sequence, so the cluster never has
// a moment where quorums for the old and new server sets aren't both
// satisfied by whoever is about to lead. Only the leader may call this.
func (c *Core) ChangeConfiguration(ctx context.Context, newServers []clusterconfig.Server) error {
	c.mu.Lock()
	if c.role != Leader {
		c.mu.Unlock()
		return ErrNotLeader
	}
	if c.configLocal.State != clusterconfig.Stable {
		c.mu.Unlock()
		return fmt.Errorf("raft: a configuration change is already in progress")
	}
	if err := c.configLocal.SetStagingServers(newServers); err != nil {
		c.mu.Unlock()
		return err
	}
	lastIndex := c.log.LastLogIndex()
	c.configLocal.ForEach(func(s clusterconfig.Server) {
		if s.ID == c.localID {
			return
		}
		if _, ok := c.peers[s.ID]; !ok {
			c.peers[s.ID] = &peer{server: s, nextIndex: lastIndex + 1}
		}
	})
	c.mu.Unlock()

	if err := c.waitForStagingCatchUp(ctx, newServers); err != nil {
		c.mu.Lock()
		c.configLocal.ResetStagingServers()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.role != Leader {
		c.mu.Unlock()
		return ErrNotLeader
	}
	transitional := clusterconfig.Description{OldServers: c.configLocal.Description.OldServers, NewServers: newServers}
	transIndex := c.appendConfigurationLocked(transitional)
	c.mu.Unlock()

	if err := c.waitForCommit(ctx, transIndex); err != nil {
		return err
	}

	c.mu.Lock()
	if c.role != Leader {
		c.mu.Unlock()
		return ErrNotLeader
	}
	stable := clusterconfig.Description{OldServers: newServers}
	stableIndex := c.appendConfigurationLocked(stable)
	c.mu.Unlock()

	return c.waitForCommit(ctx, stableIndex)
}

// appendConfigurationLocked appends a CONFIGURATION entry and registers
// it with the configuration manager: every CONFIGURATION entry seen is
// recorded by index.
func (c *Core) appendConfigurationLocked(desc clusterconfig.Description) uint64 {
	payload := encodeConfiguration(desc)
	term := c.log.Metadata().CurrentTerm
	clusterTime := c.clusterClock.LeaderStamp()
	entry := raftlog.Entry{Term: term, ClusterTime: clusterTime, Type: raftlog.EntryConfiguration, Payload: payload}
	first, _, err := c.log.Append([]raftlog.Entry{entry})
	if err != nil {
		c.logger.Fatal("failed to append configuration entry")
	}
	c.configs.Add(first, desc)
	c.cond.Broadcast()
	return first
}

// waitForStagingCatchUp polls each new server's replication progress
// until its matchIndex is within MaxLogEntriesPerRequest entries of the
// leader's last log index, or ctx expires. A conservative fixed poll interval is used
// rather than LogCabin's precise round-trip-time estimate, since the
// catch-up threshold only gates how long a STAGING period lasts, not
// correctness: SetStagingServers/ResetStagingServers never confuses
// voting members with non-voting ones regardless of how long it takes.
func (c *Core) waitForStagingCatchUp(ctx context.Context, newServers []clusterconfig.Server) error {
	ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		lastIndex := c.log.LastLogIndex()
		caughtUp := true
		for _, s := range newServers {
			p, ok := c.peers[s.ID]
			if !ok || p.matchIndex+uint64(c.cfg.MaxLogEntriesPerRequest) < lastIndex {
				caughtUp = false
				break
			}
		}
		c.mu.Unlock()
		if caughtUp {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Core) waitForCommit(ctx context.Context, index uint64) error {
	for {
		c.mu.Lock()
		if c.commitIndex >= index {
			c.mu.Unlock()
			return nil
		}
		if c.role != Leader {
			c.mu.Unlock()
			return ErrNotLeader
		}
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.HeartbeatPeriod):
		}
	}
}
