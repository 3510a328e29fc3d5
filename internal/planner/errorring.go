package planner

import "github.com/teamforge/orchestrator/internal/models"

// maxErrorRing bounds the Planner's recorded-error history exposed via
// the status command, per spec section 4.7's "bounded length" note.
const maxErrorRing = 100

// pushError appends entry to state's ring, evicting the oldest entry
// once the ring is full, newest last.
func pushError(state *models.PlannerState, entry models.PlannerErrorEntry) {
	state.Errors = append(state.Errors, entry)
	if len(state.Errors) > maxErrorRing {
		state.Errors = state.Errors[len(state.Errors)-maxErrorRing:]
	}
}
