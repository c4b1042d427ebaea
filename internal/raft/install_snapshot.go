package raft

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/snapshot"
	"github.com/mrshabel/treekeep/internal/storage"
)

// snapshotInstall tracks an in-progress InstallSnapshot transfer on the
// receiving side, mirroring LogCabin's snapshotWriter used during
// Server::RaftConsensus::handleInstallSnapshot.
type snapshotInstall struct {
	writer          *snapshot.Writer
	lastSnapshotIndex uint64
}

// HandleInstallSnapshot implements the InstallSnapshot RPC's
// receiver-side logic. version 2 semantics are used throughout (reject on byte_offset
// mismatch) per the Open Question decision recorded in DESIGN.md.
func (c *Core) HandleInstallSnapshot(layout *storage.Layout, req InstallSnapshotRequest) (InstallSnapshotResponse, error) {
	c.mu.Lock()

	currentTerm := c.log.Metadata().CurrentTerm
	if req.Term < currentTerm {
		c.mu.Unlock()
		return InstallSnapshotResponse{Term: currentTerm}, nil
	}
	if req.Term > currentTerm {
		c.stepDownLocked(req.Term)
		currentTerm = req.Term
	}
	c.leaderID = req.ServerID
	c.resetElectionTimerLocked()

	install := c.install
	c.mu.Unlock()

	if req.ByteOffset == 0 {
		if install != nil {
			install.writer.Discard()
		}
		seconds, micros := int64(0), int64(0) // caller-supplied clock not needed for correctness of the bytes
		w, err := snapshot.NewWriter(layout, seconds, micros)
		if err != nil {
			return InstallSnapshotResponse{}, err
		}
		install = &snapshotInstall{writer: w, lastSnapshotIndex: req.LastSnapshotIndex}
		c.mu.Lock()
		c.install = install
		c.mu.Unlock()
	}
	if install == nil {
		return InstallSnapshotResponse{Term: currentTerm}, fmt.Errorf("raft: InstallSnapshot chunk with no prior byte_offset=0 chunk")
	}
	if req.ByteOffset != install.writer.BytesWritten() {
		// version 2: byte_offset must match our current write position.
		return InstallSnapshotResponse{Term: currentTerm, BytesStored: install.writer.BytesWritten()}, nil
	}
	if err := install.writer.WriteRaw(req.Data); err != nil {
		return InstallSnapshotResponse{}, err
	}

	if !req.Done {
		return InstallSnapshotResponse{Term: currentTerm, BytesStored: install.writer.BytesWritten()}, nil
	}

	size, err := install.writer.Save()
	if err != nil {
		return InstallSnapshotResponse{}, err
	}
	c.logger.Info("installed snapshot", zap.Uint64("lastSnapshotIndex", install.lastSnapshotIndex), zap.Uint64("bytes", size))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.install = nil
	if err := c.log.TruncatePrefix(install.lastSnapshotIndex + 1); err != nil {
		c.logger.Fatal("failed to truncate log after snapshot install", zap.Error(err))
	}
	c.configs.TruncatePrefix(install.lastSnapshotIndex + 1)
	if install.lastSnapshotIndex > c.commitIndex {
		c.commitIndex = install.lastSnapshotIndex
	}
	c.lastSnapshotIndex = install.lastSnapshotIndex
	// The configuration manager's snapshot slot and the cluster clock
	// are not updated here, and the state machine is not loaded from the
	// saved file. ApplyInstalledSnapshot performs those steps but has no
	// caller, and the snapshot file holds no metadata header to read
	// those values from.
	c.cond.Broadcast()
	return InstallSnapshotResponse{Term: currentTerm, BytesStored: size}, nil
}

// ApplyInstalledSnapshot loads session/tree/version state from the
// just-saved snapshot file and restores the cluster clock epoch and
// active configuration as of that snapshot, completing the receiver
// side of the InstallSnapshot RPC's "done=true" step.
func (c *Core) ApplyInstalledSnapshot(layout *storage.Layout, lastClusterTime uint64, desc clusterconfig.Description) error {
	r, err := snapshot.NewReader(layout)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := c.sm.LoadSnapshot(r); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clusterClock.NewEpoch(lastClusterTime)
	c.configs.SetSnapshot(c.lastSnapshotIndex, desc)
	return nil
}
