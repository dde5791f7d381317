package tracker

import (
	"context"
	"slices"
	"time"

	"github.com/steveyegge/portalsync/internal/types"
)

// UpdateIssue copies source's fields onto related, reconciles versions, custom
// fields and attachments, saves related silently and mirrors comment. A portal
// source whose priority or due date was derived from the priority table is saved
// silently as well. Custom events additionally move related through its workflow.
func (e *Engine) UpdateIssue(ctx context.Context, actor *types.User, source, related *types.Issue, comment *types.Comment, eventType types.EventTypeID) (err error) {
	const op = "update_issue"
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

	related.AffectedVersions = slices.Clone(source.AffectedVersions)
	related.FixVersions = slices.Clone(source.FixVersions)
	related.Assignee = cloneUser(source.Assignee)
	related.Description = source.Description
	related.DueDate = timePtrFrom(source.DueDate)
	related.Environment = source.Environment
	related.Estimate = int64PtrFrom(source.Estimate)
	related.OriginalEstimate = int64PtrFrom(source.OriginalEstimate)
	sourceChanged := false
	if sourcePortal {
		sourceChanged = e.updatePriority(ctx, op, source.ProjectKey, source, related)
	} else {
		related.Priority = clonePriority(source.Priority)
	}
	related.Labels = slices.Clone(source.Labels)
	related.Type = source.Type
	related.Reporter = cloneUser(source.Reporter)
	related.Summary = source.Summary
	related.TimeSpent = int64PtrFrom(source.TimeSpent)
	if source.Resolution != nil {
		r := *source.Resolution
		related.Resolution = &r
	} else {
		related.Resolution = nil
	}

	e.correctVersions(ctx, op, related, !sourcePortal)
	if err := e.populateCustomFields(ctx, source, related); err != nil {
		return err
	}
	e.SyncAttachments(ctx, actor, source, related)

	if err := e.silentUpdate(ctx, actor, related); err != nil {
		return err
	}
	if sourceChanged {
		if err := e.silentUpdate(ctx, actor, source); err != nil {
			return err
		}
	}
	if _, err := e.CopyComment(ctx, source, related, comment); err != nil {
		return err
	}

	if eventType.IsCustom(e.threshold) {
		if err := e.changeIssueStatus(ctx, actor, eventType, source, related); err != nil {
			return err
		}
	}

	fresh, err := e.host.Issues.GetIssue(ctx, related.ID)
	if err != nil {
		e.report(ctx, op, ErrIndexFailure, "re-reading issue for reindex failed",
			append(issueAttrs(related), "error", err)...)
		return nil
	}
	e.reindex(ctx, op, fresh)
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func timePtrFrom(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

func int64PtrFrom(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
