package tracker

import (
	"context"
	"fmt"

	"github.com/steveyegge/portalsync/internal/types"
)

// TransitIssue moves related through the workflow action matching source's new
// status. Resolving transitions carry resolution, fix versions, description and
// time tracking. A rejected transition leaves related untouched.
func (e *Engine) TransitIssue(ctx context.Context, actor *types.User, eventType types.EventTypeID, source, related *types.Issue, comment *types.Comment) (err error) {
	const op = "transit_issue"
	ctx, end := e.begin(ctx, op, source)
	defer end(&err)

	if related == nil {
		e.report(ctx, op, ErrUnresolvedLink, "related issue doesn't exist", issueAttrs(source)...)
		return nil
	}
	sourcePortal, err := e.isPortal(ctx, source.ProjectID)
	if err != nil {
		return err
	}

	actionID := e.transitions.ActionID(eventType, source, related)
	inputs := TransitionInputs{Assignee: cloneUser(source.Assignee)}
	if eventType.IsResolving() {
		if source.Resolution != nil {
			inputs.ResolutionID = source.Resolution.ID
		}
		for _, v := range source.FixVersions {
			if id, ok := e.restoreVersion(ctx, op, source, v.ID, !sourcePortal); ok {
				inputs.FixVersionIDs = append(inputs.FixVersionIDs, id)
			}
		}
		desc := source.Description
		inputs.Description = &desc
		inputs.TimeSpent = int64PtrFrom(source.TimeSpent)
		inputs.RemainingEstimate = int64PtrFrom(source.Estimate)
	}

	result, err := e.host.Workflow.ValidateTransition(ctx, actor, related.ID, actionID, inputs)
	if err != nil {
		return opError(op, related.Key, ErrTransitionValidation, err)
	}
	if !result.Valid {
		return opError(op, related.Key, ErrTransitionValidation,
			fmt.Errorf("action %d: %w", actionID, validationError(result.Errors)))
	}

	e.ledger.Lock(related, eventType)
	fresh, err := e.host.Issues.GetIssue(ctx, related.ID)
	if err != nil {
		return fmt.Errorf("re-reading %s: %w", related, err)
	}
	if _, err := e.CopyComment(ctx, source, fresh, comment); err != nil {
		return err
	}
	if err := e.host.Workflow.ExecuteTransition(ctx, actor, result); err != nil {
		return fmt.Errorf("transition %d on %s: %w", actionID, related, err)
	}
	return nil
}

// changeIssueStatus runs the action for a custom event with no transition inputs.
// The suppression token is registered before validation.
func (e *Engine) changeIssueStatus(ctx context.Context, actor *types.User, eventType types.EventTypeID, source, related *types.Issue) error {
	const op = "change_issue_status"
	actionID := e.transitions.ActionID(eventType, source, related)

	e.ledger.Lock(related, eventType)
	result, err := e.host.Workflow.ValidateTransition(ctx, actor, related.ID, actionID, TransitionInputs{})
	if err != nil {
		return opError(op, related.Key, ErrTransitionValidation, err)
	}
	if !result.Valid {
		return opError(op, related.Key, ErrTransitionValidation,
			fmt.Errorf("action %d: %w", actionID, validationError(result.Errors)))
	}
	if err := e.host.Workflow.ExecuteTransition(ctx, actor, result); err != nil {
		return fmt.Errorf("transition %d on %s: %w", actionID, related, err)
	}
	return nil
}
