package clusterconfig

import "sort"

// Manager keeps Configuration in sync with the log and the latest
// snapshot: every configuration-change entry seen is recorded by index,
// and whichever one has the largest index not yet truncated away is the
// one installed into the live Configuration. This mirrors LogCabin's
// ConfigurationManager, whose whole job is restoring that invariant
// after every add/truncatePrefix/truncateSuffix/setSnapshot call.
type Manager struct {
	configuration *Configuration

	// descriptions holds every configuration found in the log, plus one
	// extra entry (key 0 when absent) carried over from the latest
	// snapshot.
	descriptions map[uint64]Description

	snapshotIndex uint64
	snapshot      Description
}

// NewManager returns a Manager that keeps cfg up to date.
func NewManager(cfg *Configuration) *Manager {
	return &Manager{
		configuration: cfg,
		descriptions:  make(map[uint64]Description),
	}
}

// Add records a configuration-change entry found at the given log
// index.
func (m *Manager) Add(index uint64, desc Description) {
	m.descriptions[index] = desc
	m.restoreInvariants()
}

// TruncatePrefix drops every recorded configuration below firstKept
// (entries [1, firstKept) are being discarded from the log after a
// snapshot covers them).
func (m *Manager) TruncatePrefix(firstKept uint64) {
	for idx := range m.descriptions {
		if idx < firstKept {
			delete(m.descriptions, idx)
		}
	}
	m.restoreInvariants()
}

// TruncateSuffix drops every recorded configuration above lastKept
// (entries (lastKept, infinity) are being discarded, e.g. after
// discovering a conflict with the leader's log).
func (m *Manager) TruncateSuffix(lastKept uint64) {
	for idx := range m.descriptions {
		if idx > lastKept {
			delete(m.descriptions, idx)
		}
	}
	m.restoreInvariants()
}

// SetSnapshot records the configuration in effect as of a newly taken
// (or newly received) snapshot. Only the latest such configuration is
// kept.
func (m *Manager) SetSnapshot(index uint64, desc Description) {
	if index > m.snapshotIndex {
		m.snapshotIndex = index
		m.snapshot = desc
	}
	m.restoreInvariants()
}

// GetLatestConfigurationAsOf returns the index and description of the
// configuration with the largest index in [1, lastIncludedIndex], used
// when deciding what configuration a new snapshot should cover.
func (m *Manager) GetLatestConfigurationAsOf(lastIncludedIndex uint64) (uint64, Description) {
	bestIdx := uint64(0)
	var best Description
	if m.snapshotIndex <= lastIncludedIndex {
		bestIdx = m.snapshotIndex
		best = m.snapshot
	}
	for idx, desc := range m.descriptions {
		if idx <= lastIncludedIndex && idx >= bestIdx {
			bestIdx = idx
			best = desc
		}
	}
	return bestIdx, best
}

// restoreInvariants makes sure the snapshot configuration is present in
// descriptions and installs the configuration with the largest known
// index into the live Configuration (or resets it to BLANK if none is
// known).
func (m *Manager) restoreInvariants() {
	if m.snapshotIndex > 0 {
		if _, ok := m.descriptions[m.snapshotIndex]; !ok {
			m.descriptions[m.snapshotIndex] = m.snapshot
		}
	}
	if len(m.descriptions) == 0 {
		m.configuration.Reset()
		return
	}
	indexes := make([]uint64, 0, len(m.descriptions))
	for idx := range m.descriptions {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	latest := indexes[len(indexes)-1]
	m.configuration.SetConfiguration(latest, m.descriptions[latest])
}
