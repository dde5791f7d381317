package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/types"
)

// CopyComment mirrors comment from source onto related. Portal comments always
// propagate and gain the visibility tag; internal comments propagate only when
// tagged and lose exactly one leading tag. It returns the created comment, or nil
// when nothing was mirrored.
func (e *Engine) CopyComment(ctx context.Context, source, related *types.Issue, comment *types.Comment) (created *types.Comment, err error) {
	if comment == nil {
		return nil, nil
	}
	const op = "copy_comment"
	ctx, end := e.begin(ctx, op, source)
	defer end(&err)

	sourcePortal, err := e.isPortal(ctx, source.ProjectID)
	if err != nil {
		return nil, err
	}
	if !sourcePortal && !types.HasPortalTag(comment.Body) {
		return nil, nil
	}
	if related == nil {
		e.report(ctx, op, ErrUnresolvedLink, "no related issue for comment",
			append(issueAttrs(source), "comment_id", comment.ID)...)
		return nil, nil
	}
	project, err := e.host.Projects.Project(ctx, related.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project of %s: %w", related, err)
	}
	if project == nil {
		return nil, nil
	}

	e.ledger.Lock(related, types.EventIssueCommented)

	body := types.StripPortalTag(comment.Body)
	if sourcePortal {
		body = types.AddPortalTag(comment.Body)
	}
	now := e.now()
	created, err = e.host.Comments.CreateComment(ctx, related, NewComment{
		Author:       cloneUser(comment.Author),
		UpdateAuthor: cloneUser(comment.UpdateAuthor),
		Body:         body,
		Created:      now,
		Updated:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating comment on %s: %w", related, err)
	}

	link := storage.CommentLink{
		PortalIssueID:     related.ID,
		InternalIssueID:   source.ID,
		PortalCommentID:   created.ID,
		InternalCommentID: comment.ID,
	}
	if sourcePortal {
		link = storage.CommentLink{
			PortalIssueID:     source.ID,
			InternalIssueID:   related.ID,
			PortalCommentID:   comment.ID,
			InternalCommentID: created.ID,
		}
	}
	if _, err := e.links.SaveCommentLink(ctx, link); err != nil {
		return created, fmt.Errorf("linking comment %d to %d: %w", comment.ID, created.ID, err)
	}
	e.logger.DebugContext(ctx, "comment mirrored",
		append(pairAttrs(source, related), "comment_id", comment.ID, "mirror_comment_id", created.ID)...)
	return created, nil
}

// UpdateComment pushes an edit of comment to its counterpart on related. The
// counterpart is found only through the comment link.
func (e *Engine) UpdateComment(ctx context.Context, related *types.Issue, comment *types.Comment) (err error) {
	const op = "update_comment"
	ctx, end := e.begin(ctx, op, related)
	defer end(&err)

	if related == nil || comment == nil {
		return nil
	}
	relatedPortal, err := e.isPortal(ctx, related.ProjectID)
	if err != nil {
		return err
	}
	// The edited comment sits on the side opposite related.
	side := storage.CommentPortal
	if relatedPortal {
		side = storage.CommentInternal
	}

	link, err := e.links.CommentLinkByComment(ctx, side, comment.ID)
	if errors.Is(err, storage.ErrNotFound) {
		e.report(ctx, op, ErrUnresolvedLink, "no comment link",
			append(issueAttrs(related), "comment_id", comment.ID, "side", string(side))...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("comment link for %d: %w", comment.ID, err)
	}
	counterpart, err := e.host.Comments.GetComment(ctx, link.Counterpart(side))
	if err != nil {
		return fmt.Errorf("comment %d: %w", link.Counterpart(side), err)
	}
	if counterpart == nil {
		e.report(ctx, op, ErrUnresolvedLink, "linked comment is gone",
			append(issueAttrs(related), "comment_id", link.Counterpart(side))...)
		return nil
	}

	e.ledger.Lock(related, types.EventIssueCommentEdited)

	if side == storage.CommentInternal {
		if !types.HasPortalTag(comment.Body) {
			counterpart.Body = comment.Body
			original := *comment
			original.Body = types.AddPortalTag(comment.Body)
			if err := e.host.Comments.UpdateComment(ctx, &original, false); err != nil {
				return fmt.Errorf("tagging comment %d: %w", comment.ID, err)
			}
		} else {
			counterpart.Body = types.StripPortalTag(comment.Body)
		}
	} else {
		counterpart.Body = types.AddPortalTag(comment.Body)
	}
	counterpart.Updated = comment.Updated
	counterpart.UpdateAuthor = cloneUser(comment.UpdateAuthor)
	if err := e.host.Comments.UpdateComment(ctx, counterpart, true); err != nil {
		return fmt.Errorf("updating comment %d: %w", counterpart.ID, err)
	}
	return nil
}
