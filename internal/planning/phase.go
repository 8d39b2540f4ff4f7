package planning

import "fmt"

// Phase is the step a planning run is currently in.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseReadPRD        Phase = "read-prd"
	PhaseScanCode       Phase = "scan-code"
	PhaseDocs           Phase = "docs"
	PhaseRefs           Phase = "refs"
	PhaseGapAnalysis    Phase = "gap-analysis"
	PhaseBuildSteps     Phase = "build-steps"
	PhaseBuildTaskGraph Phase = "build-task-graph"
	PhaseReviewPass     Phase = "review-pass"
	PhaseFinalizing     Phase = "finalizing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// Phases lists every phase in run order.
var Phases = []Phase{
	PhaseIdle, PhaseReadPRD, PhaseScanCode, PhaseDocs, PhaseRefs, PhaseGapAnalysis,
	PhaseBuildSteps, PhaseBuildTaskGraph, PhaseReviewPass, PhaseFinalizing,
	PhaseCompleted, PhaseFailed,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ParsePhase converts s to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
	}
	return p, nil
}
