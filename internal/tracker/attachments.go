package tracker

import (
	"context"

	"github.com/steveyegge/portalsync/internal/types"
)

// SyncAttachments reconciles target's attachments with source's by count. With
// more attachments on source, the ones target lacks are copied; with fewer, the
// ones source lacks are removed from target. Equal counts are left alone.
// Attachments match on filename and size. Failures are logged per attachment.
func (e *Engine) SyncAttachments(ctx context.Context, actor *types.User, source, target *types.Issue) (added, removed int) {
	const op = "sync_attachments"
	if source == nil || target == nil {
		return 0, 0
	}
	src, err := e.host.Attachments.ListAttachments(ctx, source)
	if err != nil {
		e.report(ctx, op, ErrAttachmentIO, "listing attachments failed", append(issueAttrs(source), "error", err)...)
		return 0, 0
	}
	dst, err := e.host.Attachments.ListAttachments(ctx, target)
	if err != nil {
		e.report(ctx, op, ErrAttachmentIO, "listing attachments failed", append(issueAttrs(target), "error", err)...)
		return 0, 0
	}

	switch {
	case len(src) > len(dst):
		have := matchKeys(dst)
		for _, a := range src {
			if have[a.MatchKey()] {
				continue
			}
			err := e.host.Attachments.CreateAttachment(ctx, NewAttachment{
				Source:  a,
				Issue:   target,
				Author:  a.Author,
				Created: e.now(),
			})
			if err != nil {
				e.report(ctx, op, ErrAttachmentIO, "copying attachment failed",
					append(attachmentAttrs(a, target), "error", err)...)
				continue
			}
			added++
		}
	case len(src) < len(dst):
		keep := matchKeys(src)
		for _, a := range dst {
			if keep[a.MatchKey()] {
				continue
			}
			if err := e.host.Attachments.DeleteAttachment(ctx, a); err != nil {
				e.report(ctx, op, ErrAttachmentIO, "removing attachment failed",
					append(attachmentAttrs(a, target), "error", err)...)
				continue
			}
			removed++
		}
	}
	return added, removed
}

func matchKeys(list []*types.Attachment) map[string]bool {
	keys := make(map[string]bool, len(list))
	for _, a := range list {
		keys[a.MatchKey()] = true
	}
	return keys
}

func attachmentAttrs(a *types.Attachment, issue *types.Issue) []any {
	return append(issueAttrs(issue),
		"attachment_id", a.ID, "filename", a.Filename, "path", a.Path)
}
