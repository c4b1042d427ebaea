// Package clusterconfig tracks the set of servers participating in the
// cluster and the joint-consensus machinery Raft membership changes use
// to move safely from one set of servers to another, one quorum
// intersection at a time. It is grounded on LogCabin's
// RaftConsensusInternal::Configuration / ConfigurationManager.
package clusterconfig

import "fmt"

// State is the shape of a Configuration's quorum requirement.
type State int

const (
	// Blank specifies no servers at all; a server that has never
	// received a configuration entry starts here.
	Blank State = iota
	// Stable specifies a single list of servers: a quorum is any
	// majority of that list.
	Stable
	// Staging specifies an old list (which alone determines quorums)
	// plus a new list of servers that receive log entries but do not
	// yet vote. Used while waiting for new servers to catch up.
	Staging
	// Transitional specifies an old list and a new list, both of which
	// independently require a majority for a quorum. This is the joint
	// consensus configuration committed while membership is changing.
	Transitional
)

func (s State) String() string {
	switch s {
	case Blank:
		return "BLANK"
	case Stable:
		return "STABLE"
	case Staging:
		return "STAGING"
	case Transitional:
		return "TRANSITIONAL"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Server is one member named in a Description.
type Server struct {
	ID      uint64
	Address string
}

// Description is the serializable list-of-servers payload carried in a
// configuration-change log entry or snapshot, corresponding to
// Protocol::Raft::Configuration.
type Description struct {
	OldServers []Server
	NewServers []Server // non-empty only for STAGING/TRANSITIONAL
}

// simpleConfiguration is a list of servers for which a simple majority
// constitutes a quorum.
type simpleConfiguration struct {
	servers []Server
}

func (s simpleConfiguration) contains(id uint64) bool {
	for _, srv := range s.servers {
		if srv.ID == id {
			return true
		}
	}
	return false
}

func (s simpleConfiguration) all(predicate func(uint64) bool) bool {
	for _, srv := range s.servers {
		if !predicate(srv.ID) {
			return false
		}
	}
	return true
}

// quorumAll returns true if there's some majority of s.servers for which
// every member satisfies predicate.
func (s simpleConfiguration) quorumAll(predicate func(uint64) bool) bool {
	if len(s.servers) == 0 {
		return true
	}
	satisfied := 0
	for _, srv := range s.servers {
		if predicate(srv.ID) {
			satisfied++
		}
	}
	return satisfied*2 > len(s.servers)
}

// quorumMin returns the largest value V such that a majority of
// s.servers have getValue(id) >= V. This is the standard Raft
// "advance commitIndex to the median of matchIndex" computation.
func (s simpleConfiguration) quorumMin(getValue func(uint64) uint64) uint64 {
	if len(s.servers) == 0 {
		return 0
	}
	values := make([]uint64, len(s.servers))
	for i, srv := range s.servers {
		values[i] = getValue(srv.ID)
	}
	sortUint64Desc(values)
	return values[len(values)/2]
}

func sortUint64Desc(v []uint64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] > v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}

// Configuration is the live, in-memory view of cluster membership for
// one server: which state it's in, and the old/new server sets that
// back the quorum predicates every Raft decision (election, commit
// advancement) is built on.
type Configuration struct {
	LocalID uint64

	State       State
	ID          uint64 // log entry index this configuration came from; 0 if BLANK
	Description Description

	oldServers simpleConfiguration
	newServers simpleConfiguration
}

// New returns a BLANK configuration for the given local server ID.
func New(localID uint64) *Configuration {
	return &Configuration{LocalID: localID}
}

// Reset restores the configuration to its just-constructed BLANK state.
func (c *Configuration) Reset() {
	c.State = Blank
	c.ID = 0
	c.Description = Description{}
	c.oldServers = simpleConfiguration{}
	c.newServers = simpleConfiguration{}
}

// SetConfiguration installs a new configuration read from log entry
// newID. Any staging servers previously set are dropped. The resulting
// state is TRANSITIONAL if the description names new servers, STABLE
// otherwise.
func (c *Configuration) SetConfiguration(newID uint64, desc Description) {
	c.ID = newID
	c.Description = desc
	c.oldServers = simpleConfiguration{servers: desc.OldServers}
	if len(desc.NewServers) > 0 {
		c.newServers = simpleConfiguration{servers: desc.NewServers}
		c.State = Transitional
	} else {
		c.newServers = simpleConfiguration{}
		c.State = Stable
	}
}

// SetStagingServers adds non-voting mirror servers to a STABLE
// configuration, moving it to STAGING. It is a programming error to
// call this on anything but a STABLE configuration.
func (c *Configuration) SetStagingServers(staging []Server) error {
	if c.State != Stable {
		return fmt.Errorf("clusterconfig: SetStagingServers requires STABLE, got %s", c.State)
	}
	c.newServers = simpleConfiguration{servers: staging}
	c.State = Staging
	return nil
}

// ResetStagingServers drops any staging servers, returning to the
// STABLE configuration that preceded SetStagingServers.
func (c *Configuration) ResetStagingServers() {
	if c.State == Staging {
		c.newServers = simpleConfiguration{}
		c.State = Stable
	}
}

// HasVote reports whether id may participate in quorums under the
// current configuration: members of oldServers always vote, and under
// TRANSITIONAL so do members of newServers (STAGING members do not).
func (c *Configuration) HasVote(id uint64) bool {
	switch c.State {
	case Blank:
		return false
	case Transitional:
		return c.oldServers.contains(id) || c.newServers.contains(id)
	default: // STABLE, STAGING
		return c.oldServers.contains(id)
	}
}

// QuorumAll reports whether there is a quorum (under every server set
// the current state requires) for which predicate holds on every
// member.
func (c *Configuration) QuorumAll(predicate func(uint64) bool) bool {
	switch c.State {
	case Blank:
		return false
	case Transitional:
		return c.oldServers.quorumAll(predicate) && c.newServers.quorumAll(predicate)
	default:
		return c.oldServers.quorumAll(predicate)
	}
}

// QuorumMin is the Raft commit-index computation: the largest value for
// which QuorumAll(id => getValue(id) >= value) holds.
func (c *Configuration) QuorumMin(getValue func(uint64) uint64) uint64 {
	if c.State == Blank {
		return 0
	}
	oldMin := c.oldServers.quorumMin(getValue)
	if c.State != Transitional {
		return oldMin
	}
	newMin := c.newServers.quorumMin(getValue)
	if oldMin < newMin {
		return oldMin
	}
	return newMin
}

// ForEach calls fn once for every server ID named anywhere in the
// current configuration (old and new sets), deduplicated.
func (c *Configuration) ForEach(fn func(Server)) {
	seen := make(map[uint64]bool)
	for _, s := range c.oldServers.servers {
		if !seen[s.ID] {
			seen[s.ID] = true
			fn(s)
		}
	}
	for _, s := range c.newServers.servers {
		if !seen[s.ID] {
			seen[s.ID] = true
			fn(s)
		}
	}
}

// LookupAddress returns the network address for serverID, or "" if the
// server isn't named in the current configuration.
func (c *Configuration) LookupAddress(serverID uint64) string {
	var addr string
	c.ForEach(func(s Server) {
		if s.ID == serverID {
			addr = s.Address
		}
	})
	return addr
}
