package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/types"
)

// RemoveIssueLink drops the issue link keyed by issue on its own side, together
// with the comment links of the pair.
func (e *Engine) RemoveIssueLink(ctx context.Context, issue *types.Issue) (err error) {
	const op = "remove_issue_link"
	ctx, end := e.begin(ctx, op, issue)
	defer end(&err)

	portal, err := e.isPortal(ctx, issue.ProjectID)
	if err != nil {
		return err
	}
	portalIssueID := issue.ID
	if !portal {
		link, err := e.links.IssueLinkByInternal(ctx, issue.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			e.report(ctx, op, ErrUnresolvedLink, "no issue link to remove", issueAttrs(issue)...)
			return nil
		case err != nil:
			return fmt.Errorf("issue link for %s: %w", issue, err)
		}
		portalIssueID = link.PortalIssueID
	}

	if err := e.links.RemoveIssueLink(ctx, issue.ID, portal); err != nil {
		return fmt.Errorf("removing issue link of %s: %w", issue, err)
	}
	if err := e.links.RemoveCommentLinks(ctx, portalIssueID); err != nil {
		return fmt.Errorf("removing comment links of %d: %w", portalIssueID, err)
	}
	return nil
}

// DeleteIssue deletes issue without dispatching an event. Failures are not retried.
func (e *Engine) DeleteIssue(ctx context.Context, issue *types.Issue) (err error) {
	const op = "delete_issue"
	ctx, end := e.begin(ctx, op, issue)
	defer end(&err)

	if issue == nil {
		return nil
	}
	if err := e.host.Issues.DeleteIssue(ctx, issue); err != nil {
		return fmt.Errorf("deleting %s: %w", issue, err)
	}
	e.logger.InfoContext(ctx, "mirror deleted", issueAttrs(issue)...)
	return nil
}
