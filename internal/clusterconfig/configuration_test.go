package clusterconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigurationQuorum(t *testing.T) {
	cfg := New(1)
	require.Equal(t, Blank, cfg.State)
	require.False(t, cfg.HasVote(1))

	cfg.SetConfiguration(5, Description{OldServers: []Server{
		{ID: 1, Address: "a"}, {ID: 2, Address: "b"}, {ID: 3, Address: "c"},
	}})
	require.Equal(t, Stable, cfg.State)
	require.True(t, cfg.HasVote(1))
	require.True(t, cfg.HasVote(2))

	values := map[uint64]uint64{1: 10, 2: 8, 3: 4}
	got := cfg.QuorumMin(func(id uint64) uint64 { return values[id] })
	require.EqualValues(t, 8, got)

	require.True(t, cfg.QuorumAll(func(id uint64) bool { return values[id] >= 8 }))
	require.False(t, cfg.QuorumAll(func(id uint64) bool { return values[id] >= 9 }))
}

func TestConfigurationTransitional(t *testing.T) {
	cfg := New(1)
	cfg.SetConfiguration(5, Description{
		OldServers: []Server{{ID: 1}, {ID: 2}, {ID: 3}},
		NewServers: []Server{{ID: 3}, {ID: 4}, {ID: 5}},
	})
	require.Equal(t, Transitional, cfg.State)
	require.True(t, cfg.HasVote(4)) // in newServers only, still votes under TRANSITIONAL
	require.True(t, cfg.HasVote(1)) // in oldServers

	// quorum now requires a majority of BOTH sets
	values := map[uint64]uint64{1: 10, 2: 10, 3: 10, 4: 1, 5: 1}
	got := cfg.QuorumMin(func(id uint64) uint64 { return values[id] })
	require.EqualValues(t, 1, got)
}

func TestConfigurationManagerRestoresInvariants(t *testing.T) {
	cfg := New(1)
	mgr := NewManager(cfg)
	require.Equal(t, Blank, cfg.State)

	mgr.Add(3, Description{OldServers: []Server{{ID: 1}, {ID: 2}}})
	require.Equal(t, Stable, cfg.State)
	require.EqualValues(t, 3, cfg.ID)

	mgr.Add(7, Description{OldServers: []Server{{ID: 1}, {ID: 2}, {ID: 3}}})
	require.EqualValues(t, 7, cfg.ID)

	mgr.TruncateSuffix(5)
	require.EqualValues(t, 3, cfg.ID)

	mgr.TruncatePrefix(4)
	require.Equal(t, Blank, cfg.State)
}
