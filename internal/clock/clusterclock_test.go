package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClusterClock(t *testing.T) {
	table := map[string]func(t *testing.T, c *ClusterClock, advance func(time.Duration)){
		"interpolate advances with elapsed time": testInterpolateAdvances,
		"newEpoch resets the anchor":              testNewEpochResets,
		"leaderStamp is monotonic":                testLeaderStampMonotonic,
	}
	for scenario, fn := range table {
		t.Run(scenario, func(t *testing.T) {
			now := time.Unix(0, 0)
			c := NewWithClock(func() time.Time { return now })
			advance := func(d time.Duration) { now = now.Add(d) }
			fn(t, c, advance)
		})
	}
}

func testInterpolateAdvances(t *testing.T, c *ClusterClock, advance func(time.Duration)) {
	require.EqualValues(t, 0, c.Interpolate())
	advance(5 * time.Second)
	require.EqualValues(t, 5*time.Second.Nanoseconds(), c.Interpolate())
}

func testNewEpochResets(t *testing.T, c *ClusterClock, advance func(time.Duration)) {
	advance(5 * time.Second)
	c.NewEpoch(100)
	require.EqualValues(t, 100, c.Interpolate())
	advance(time.Second)
	require.EqualValues(t, 100+time.Second.Nanoseconds(), c.Interpolate())
}

func testLeaderStampMonotonic(t *testing.T, c *ClusterClock, advance func(time.Duration)) {
	advance(2 * time.Second)
	first := c.LeaderStamp()
	require.EqualValues(t, 2*time.Second.Nanoseconds(), first)
	advance(3 * time.Second)
	second := c.LeaderStamp()
	require.Greater(t, second, first)
	require.EqualValues(t, first+uint64(3*time.Second.Nanoseconds()), second)
}
