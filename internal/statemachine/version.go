package statemachine

// MinSupportedVersion and MaxSupportedVersion bound the state-machine
// versions this server advertises to the cluster (the AdvanceVersion
// MAX_SUPPORTED gate). Version 2 is required for CloseSession to take
// effect.
const (
	MinSupportedVersion uint16 = 1
	MaxSupportedVersion uint16 = 2
)

// versionStep records a point at which the running state-machine version
// changed, keyed by the log index of the AdvanceVersion entry (or 0 for
// the initial version).
type versionStep struct {
	Index   uint64 `json:"index"`
	Version uint16 `json:"version"`
}

// versionHistory is an ordered, append-only record of state-machine
// version changes, seeded with {0: 1}.
type versionHistory struct {
	steps []versionStep
}

func newVersionHistory() *versionHistory {
	return &versionHistory{steps: []versionStep{{Index: 0, Version: 1}}}
}

// runningAt returns the state-machine version in effect at the given log
// index (the version from the latest step whose index is <= the given
// index).
func (h *versionHistory) runningAt(index uint64) uint16 {
	v := h.steps[0].Version
	for _, step := range h.steps {
		if step.Index > index {
			break
		}
		v = step.Version
	}
	return v
}

// current returns the most recently recorded version.
func (h *versionHistory) current() uint16 {
	return h.steps[len(h.steps)-1].Version
}

// advance appends a new step, enforcing the monotone-non-decreasing
// version invariant. Callers must already have validated requested against
// current()/MaxSupportedVersion.
func (h *versionHistory) advance(index uint64, version uint16) {
	h.steps = append(h.steps, versionStep{Index: index, Version: version})
}
