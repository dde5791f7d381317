package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/types"
)

// RelatedIssue returns the counterpart of issue found through its issue link.
// portal tells which side issue is on. A missing link yields (nil, nil).
func (e *Engine) RelatedIssue(ctx context.Context, issue *types.Issue, portal bool) (*types.Issue, error) {
	if issue == nil {
		return nil, nil
	}
	var (
		link *storage.IssueLink
		err  error
	)
	if portal {
		link, err = e.links.IssueLinkByPortal(ctx, issue.ID)
	} else {
		link, err = e.links.IssueLinkByInternal(ctx, issue.ID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("issue link for %s: %w", issue, err)
	}

	otherID := link.InternalIssueID
	if !portal {
		otherID = link.PortalIssueID
	}
	related, err := e.host.Issues.GetIssue(ctx, otherID)
	if err != nil {
		return nil, fmt.Errorf("related issue %d of %s: %w", otherID, issue, err)
	}
	return related, nil
}

// RelatedProject returns the project paired through extra, or nil when the
// project is not paired or the paired project is gone.
func (e *Engine) RelatedProject(ctx context.Context, extra *types.ProjectExtraFields) (*types.Project, error) {
	if !extra.HasRelatedProject() {
		return nil, nil
	}
	p, err := e.host.Projects.Project(ctx, extra.RelatedProjectID)
	if err != nil {
		return nil, fmt.Errorf("related project %d: %w", extra.RelatedProjectID, err)
	}
	return p, nil
}
