package tracker

import (
	"context"
	"fmt"

	"github.com/steveyegge/portalsync/internal/types"
)

// ApplyCommentVisibility enforces the visibility convention of a one-project
// portal. An untagged comment by someone outside the client role is restricted to
// the internal role; a tagged comment loses its tag. Both updates are silent.
func (e *Engine) ApplyCommentVisibility(ctx context.Context, issue *types.Issue, comment *types.Comment) (changed bool, err error) {
	if issue == nil || comment == nil {
		return false, nil
	}
	if !types.HasPortalTag(comment.Body) {
		client, err := e.host.Roles.IsMember(ctx, comment.Author, e.roles.Client, issue.ProjectID)
		if err != nil {
			return false, fmt.Errorf("role lookup for %s: %w", comment.Author.Key(), err)
		}
		if client {
			return false, nil
		}
		comment.RoleLevel = e.roles.Internal
	} else {
		comment.Body = types.StripPortalTag(comment.Body)
	}
	if err := e.host.Comments.UpdateComment(ctx, comment, false); err != nil {
		return false, fmt.Errorf("updating comment %d: %w", comment.ID, err)
	}
	return true, nil
}

// StripWorklogTag removes one leading visibility tag from a worklog comment and
// saves the worklog silently.
func (e *Engine) StripWorklogTag(ctx context.Context, actor *types.User, w *types.Worklog) (bool, error) {
	if w == nil || !types.HasPortalTag(w.Comment) {
		return false, nil
	}
	w.Comment = types.StripPortalTag(w.Comment)
	if err := e.host.Worklogs.UpdateWorklog(ctx, actor, w, false); err != nil {
		return false, fmt.Errorf("updating worklog %d: %w", w.ID, err)
	}
	return true, nil
}
