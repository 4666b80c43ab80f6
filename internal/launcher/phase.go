// Package launcher orchestrates a full rig session: synchronization,
// repository setup, preflight, the pre-acquisition pipeline, acquisition
// supervision, the post-acquisition pipeline, and state persistence.
package launcher

// Phase identifies the launcher's position in the session flow.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSync
	PhaseRepository
	PhasePreflight
	PhasePreAcquisition
	PhaseAcquisition
	PhasePostAcquisition
	PhaseDone
	PhaseFailed
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSync:
		return "sync"
	case PhaseRepository:
		return "repository"
	case PhasePreflight:
		return "preflight"
	case PhasePreAcquisition:
		return "pre_acquisition"
	case PhaseAcquisition:
		return "acquisition"
	case PhasePostAcquisition:
		return "post_acquisition"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true when the session has ended.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}
