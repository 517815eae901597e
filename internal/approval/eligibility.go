package approval

import (
	"github.com/genbaflow/genbaflow/internal/directory"
)

// stepRule decides whether an actor may act on a step. supervisorID is the
// site's currently assigned supervisor (0 when unassigned).
type stepRule func(actor directory.User, step Step, supervisorID int64) bool

// pinnedOrPosition is the default rule: a pinned step admits exactly the
// pinned user; an unpinned step admits any holder of the step's position.
func pinnedOrPosition(actor directory.User, step Step, _ int64) bool {
	if step.Pinned() {
		return actor.ID == *step.ApproverUserID
	}
	return actor.Position == step.Position
}

// stepEligibility dispatches on the step's position tag. Only the site
// supervisor step deviates from the default: eligibility follows the site
// assignment, not the pinned value, so a pin that drifted from the site
// record cannot widen access.
var stepEligibility = map[directory.Position]stepRule{
	directory.PositionSiteSupervisor: func(actor directory.User, _ Step, supervisorID int64) bool {
		return supervisorID != 0 && actor.ID == supervisorID
	},
	directory.PositionDepartmentManager:      pinnedOrPosition,
	directory.PositionSeniorManagingDirector: pinnedOrPosition,
	directory.PositionPresident:              pinnedOrPosition,
	directory.PositionManagingDirector:       pinnedOrPosition,
	directory.PositionAccountant:             pinnedOrPosition,
}

// CheckEligibility decides whether actor may approve at step. An accountant
// may act only at the accounting step, never earlier. That rule is checked
// before anything else so pinning cannot override it.
func CheckEligibility(actor directory.User, step Step, supervisorID int64) error {
	if actor.Position == directory.PositionAccountant && step.Position != directory.PositionAccountant {
		return errPermissionDenied("accountants may only act at the accounting step, current step is %s", step.Position)
	}
	rule, ok := stepEligibility[step.Position]
	if !ok {
		rule = pinnedOrPosition
	}
	if !rule(actor, step, supervisorID) {
		return errPermissionDenied("user %d (%s) is not eligible for step %d (%s)",
			actor.ID, actor.Position, step.StepOrder, step.Position)
	}
	return nil
}
