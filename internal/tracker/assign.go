package tracker

import (
	"context"
	"fmt"

	"github.com/steveyegge/portalsync/internal/types"
)

// Assignee applies source's assignee to related after the host validated it, then
// mirrors comment. An invalid assignment leaves related untouched.
func (e *Engine) Assignee(ctx context.Context, actor *types.User, source, related *types.Issue, comment *types.Comment) (err error) {
	const op = "assign"
	ctx, end := e.begin(ctx, op, source)
	defer end(&err)

	if related == nil {
		return nil
	}
	result, err := e.host.Workflow.ValidateAssign(ctx, actor, related.ID, source.Assignee)
	if err != nil {
		return opError(op, related.Key, ErrTransitionValidation, err)
	}
	if !result.Valid {
		return opError(op, related.Key, ErrTransitionValidation, validationError(result.Errors))
	}

	e.ledger.Lock(related, types.EventIssueAssigned)
	if err := e.host.Workflow.Assign(ctx, actor, result); err != nil {
		return fmt.Errorf("assigning %s: %w", related, err)
	}

	fresh, err := e.host.Issues.GetIssue(ctx, related.ID)
	if err != nil {
		return fmt.Errorf("re-reading %s: %w", related, err)
	}
	_, err = e.CopyComment(ctx, source, fresh, comment)
	return err
}
