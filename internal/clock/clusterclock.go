// Package clock tracks "cluster time": a monotone clock, measured in
// nanoseconds, that is shared across a Raft cluster through log entries
// instead of through wall-clock synchronization. While there's a stable
// leader, cluster time advances at roughly the rate of that leader's own
// steady clock; when leadership changes, the new leader resumes ticking
// from whatever cluster time it last saw in the log or a snapshot, so
// some time may go unaccounted for around a leadership change. The state
// machine uses cluster time (not the system clock) to expire client
// sessions, so a wall-clock jump can never spuriously expire every
// session at once.
package clock

import (
	"sync"
	"time"
)

// ClusterClock is the per-server tracker of cluster time, grounded on
// LogCabin's RaftConsensusInternal::ClusterClock.
type ClusterClock struct {
	mu sync.Mutex

	// clusterTimeAtEpoch is the cluster time as of localTimeAtEpoch. It
	// always equals the cluster time of the last log entry, the last
	// snapshot, or 0 if neither exists yet.
	clusterTimeAtEpoch uint64
	localTimeAtEpoch   time.Time

	now func() time.Time
}

// New returns a clock with its epoch reset to the zero cluster time.
func New() *ClusterClock {
	return &ClusterClock{now: time.Now, localTimeAtEpoch: time.Now()}
}

// NewWithClock is New but lets tests substitute a deterministic clock.
func NewWithClock(now func() time.Time) *ClusterClock {
	return &ClusterClock{now: now, localTimeAtEpoch: now()}
}

// NewEpoch resets the clock to clusterTime, treating it as current right
// now. Followers call this whenever they observe a log entry (or
// snapshot) carrying a cluster time, so their interpolation stays
// anchored to what the leader has actually stamped.
func (c *ClusterClock) NewEpoch(clusterTime uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clusterTimeAtEpoch = clusterTime
	c.localTimeAtEpoch = c.now()
}

// Interpolate returns the best current estimate of cluster time,
// assuming there has been a leader continuously advancing it since the
// last epoch reset.
func (c *ClusterClock) Interpolate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interpolateLocked()
}

func (c *ClusterClock) interpolateLocked() uint64 {
	elapsed := c.now().Sub(c.localTimeAtEpoch)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.clusterTimeAtEpoch + uint64(elapsed.Nanoseconds())
}

// LeaderStamp is called by a leader to produce the cluster time for a
// new log entry: it interpolates, resets the epoch to that value (so
// the next call starts from here rather than double-counting elapsed
// time), and returns it.
func (c *ClusterClock) LeaderStamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.interpolateLocked()
	c.clusterTimeAtEpoch = now
	c.localTimeAtEpoch = c.now()
	return now
}
