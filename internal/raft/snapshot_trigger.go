package raft

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/snapshot"
)

// shouldSnapshotLocked decides whether to start a new snapshot, adapted
// from LogCabin's StateMachine::shouldTakeSnapshot. raftlog doesn't
// track on-disk log size in bytes, so the number of log entries
// covered since the last snapshot stands in for LogCabin's
// stats.log_bytes()/last_snapshot_bytes() comparison.
func (c *Core) shouldSnapshotLocked() bool {
	if c.role != Leader || c.snapshotting || c.exiting || c.snapshotLayout == nil {
		return false
	}
	lastLogIndex := c.log.LastLogIndex()
	if lastLogIndex <= c.lastSnapshotIndex {
		return false
	}
	logSize := lastLogIndex - c.lastSnapshotIndex
	if logSize < c.cfg.SnapshotMinLogSize {
		return false
	}
	if logSize < c.lastSnapshotLogSize*c.cfg.SnapshotRatio {
		return false
	}
	// Don't snapshot far ahead of what's actually been applied: a
	// snapshot can only cover committed, applied state.
	if c.sm.LastApplied() < lastLogIndex*3/4 {
		return false
	}
	return true
}

// BeginSnapshot starts an asynchronous snapshot of the state machine as
// of its current lastApplied index and returns true if one was
// started. It mirrors LogCabin's StateMachine::takeSnapshot, with a
// goroutine standing in for the forked child process LogCabin uses to
// write the snapshot without blocking the state machine thread.
func (c *Core) BeginSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshotting || c.exiting || c.snapshotLayout == nil {
		return false
	}
	c.snapshotting = true
	c.snapshotGeneration++
	go c.takeSnapshot()
	return true
}

// takeSnapshot runs outside Core's lock (statemachine.TakeSnapshot
// manages its own locking internally, copying state under its own
// mutex before doing any I/O) and reports completion through
// SnapshotDone.
func (c *Core) takeSnapshot() {
	c.mu.Lock()
	layout := c.snapshotLayout
	c.mu.Unlock()

	now := time.Now()
	w, err := snapshot.NewWriter(layout, now.Unix(), int64(now.Nanosecond()/1000))
	if err != nil {
		c.logger.Error("failed to open snapshot writer", zap.Error(err))
		c.abortSnapshot()
		return
	}

	c.mu.Lock()
	c.snapshotWriter = w
	c.mu.Unlock()

	lastIncludedIndex, err := c.sm.TakeSnapshot(w)
	if err != nil {
		c.logger.Error("failed to take snapshot", zap.Error(err))
		w.Discard()
		c.abortSnapshot()
		return
	}
	if _, err := w.Save(); err != nil {
		c.logger.Error("failed to save snapshot", zap.Error(err))
		c.abortSnapshot()
		return
	}
	c.SnapshotDone(lastIncludedIndex)
}

func (c *Core) abortSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotWriter = nil
	c.snapshotting = false
}

// SnapshotDone completes a self-taken snapshot covering
// lastIncludedIndex: it truncates the log and configuration manager's
// history up through that index, the same truncation
// HandleInstallSnapshot performs on the receiving side of a transfer.
func (c *Core) SnapshotDone(lastIncludedIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotWriter = nil
	c.snapshotting = false
	if lastIncludedIndex <= c.lastSnapshotIndex {
		return
	}
	if err := c.log.TruncatePrefix(lastIncludedIndex + 1); err != nil {
		c.logger.Fatal("failed to truncate log after snapshot", zap.Error(err))
	}
	c.configs.TruncatePrefix(lastIncludedIndex + 1)
	c.lastSnapshotLogSize = lastIncludedIndex - c.lastSnapshotIndex
	c.lastSnapshotIndex = lastIncludedIndex
	c.logger.Info("took snapshot", zap.Uint64("lastIncludedIndex", lastIncludedIndex))
	c.checkInvariantsLocked()
}

// snapshotThread periodically checks whether a new snapshot should
// start (shouldSnapshotLocked) and watches an in-progress one's write
// progress, discarding it if it stalls for a full
// SnapshotWatchdogInterval with no bytes written -- the goroutine
// analogue of LogCabin's snapshotWatchdogThreadMain, which kills a
// child process that stops making progress.
func (c *Core) snapshotThread(ctx context.Context) {
	interval := c.cfg.SnapshotWatchdogInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tracking := false
	var trackedGeneration uint64
	var lastProgress uint64

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
		if c.snapshotting && c.snapshotWriter != nil {
			progress := c.snapshotWriter.Progress().BytesWritten()
			gen := c.snapshotGeneration
			if tracking && trackedGeneration == gen && progress == lastProgress {
				c.logger.Error("snapshot made no progress, discarding",
					zap.Duration("interval", interval), zap.Uint64("bytesWritten", progress))
				c.snapshotWriter.Discard()
				c.snapshotWriter = nil
				c.snapshotting = false
				tracking = false
			} else {
				tracking = true
				trackedGeneration = gen
				lastProgress = progress
			}
			c.mu.Unlock()
			continue
		}
		tracking = false
		should := c.shouldSnapshotLocked()
		c.mu.Unlock()

		if should {
			c.BeginSnapshot()
		}
	}
}
