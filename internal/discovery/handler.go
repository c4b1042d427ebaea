package discovery

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raft"
)

// RaftHandler adapts serf Join/Leave events into Raft membership changes,
// replacing gumlog's log.Replicator join/leave handling: instead of
// dialing a new peer to start streaming its log, a joining server is
// staged into the cluster's configuration and, once caught up, promoted
// to a full voting member through ChangeConfiguration's joint-consensus
// sequence.
type RaftHandler struct {
	core    *raft.Core
	timeout time.Duration
	logger  *zap.Logger
}

// NewRaftHandler returns a Handler that drives core's configuration
// changes from membership gossip events. timeout bounds how long a
// single ChangeConfiguration call is allowed to run.
func NewRaftHandler(core *raft.Core, timeout time.Duration) *RaftHandler {
	return &RaftHandler{core: core, timeout: timeout, logger: zap.L().Named("discovery.raft")}
}

// Join stages name/addr as a new server and, if this node is currently
// leader, drives it through staging, transitional, and stable. Non-leader
// nodes observe the same gossip event but take no action: the entry
// eventually reaches them as a replicated CONFIGURATION log entry instead.
func (h *RaftHandler) Join(name, addr string) error {
	if !h.core.IsLeader() {
		return nil
	}
	id := ServerID(name)
	newServers := h.nextServerSet(id, addr, true)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.core.ChangeConfiguration(ctx, newServers); err != nil {
		h.logger.Warn("membership join did not complete a configuration change",
			zap.String("name", name), zap.String("addr", addr), zap.Error(err))
		return err
	}
	return nil
}

// Leave removes name from the cluster's configuration, again only acted
// on by the current leader.
func (h *RaftHandler) Leave(name string) error {
	if !h.core.IsLeader() {
		return nil
	}
	id := ServerID(name)
	newServers := h.nextServerSet(id, "", false)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.core.ChangeConfiguration(ctx, newServers); err != nil {
		h.logger.Warn("membership leave did not complete a configuration change",
			zap.String("name", name), zap.Error(err))
		return err
	}
	return nil
}

// nextServerSet returns the server list ChangeConfiguration should move
// the cluster to: the current stable membership with id either added
// (present=true) or removed (present=false).
func (h *RaftHandler) nextServerSet(id uint64, addr string, present bool) []clusterconfig.Server {
	var servers []clusterconfig.Server
	h.core.Configuration().ForEach(func(s clusterconfig.Server) {
		if s.ID == id {
			return
		}
		servers = append(servers, s)
	})
	if present {
		servers = append(servers, clusterconfig.Server{ID: id, Address: addr})
	}
	return servers
}

// ServerID derives a stable Raft server ID from a serf node name, so an
// operator only has to assign distinct node names rather than separately
// coordinated numeric IDs. cmd/treekeepd uses the same derivation to
// pick a node's own localID from its configured NodeName.
func ServerID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
