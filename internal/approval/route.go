package approval

import (
	"context"
	"fmt"

	"github.com/genbaflow/genbaflow/internal/directory"
)

// chainStep defines one stage of the fixed approval chain. Pin controls
// whether the approver is resolved once at instantiation and frozen into the
// step; unpinned steps resolve at advance-time so any active holder of the
// role may act. Accounting stays unpinned deliberately: the roster shares
// that desk and freezing one person would block on their availability.
type chainStep struct {
	Position directory.Position
	Label    string
	Pin      bool
}

var approvalChain = []chainStep{
	{Position: directory.PositionSiteSupervisor, Label: "Site supervisor review", Pin: true},
	{Position: directory.PositionDepartmentManager, Label: "Department manager approval", Pin: true},
	{Position: directory.PositionSeniorManagingDirector, Label: "Senior managing director approval", Pin: true},
	{Position: directory.PositionPresident, Label: "President approval", Pin: true},
	{Position: directory.PositionManagingDirector, Label: "Managing director approval", Pin: true},
	{Position: directory.PositionAccountant, Label: "Accounting review", Pin: false},
}

// ChainLength is the number of steps every route carries.
const ChainLength = 6

// approverResolver resolves the current holder of a position within a company.
type approverResolver func(ctx context.Context, position directory.Position, companyID int64) (*directory.User, error)

// buildSteps instantiates the step list for a fresh route. The site
// supervisor step is always pinned to the site's supervisor as of now;
// later reassignment does not touch in-flight invoices. Other pinned steps
// freeze whoever holds the position today, and stay unpinned when nobody
// does; resolution is then deferred to advance-time.
func buildSteps(ctx context.Context, routeID, companyID, supervisorID int64, resolve approverResolver) ([]Step, error) {
	steps := make([]Step, 0, len(approvalChain))
	for i, cs := range approvalChain {
		step := Step{
			RouteID:   routeID,
			StepOrder: i + 1,
			Label:     cs.Label,
			Position:  cs.Position,
		}
		switch {
		case cs.Position == directory.PositionSiteSupervisor:
			sup := supervisorID
			step.ApproverUserID = &sup
		case cs.Pin:
			holder, err := resolve(ctx, cs.Position, companyID)
			if err != nil {
				return nil, fmt.Errorf("approval: resolve %s: %w", cs.Position, err)
			}
			if holder != nil {
				id := holder.ID
				step.ApproverUserID = &id
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}
