package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// --- tracker.CommentStore ---

// CreateComment posts a comment. Author and timestamps are set by the host to
// the configured account and the current time.
func (h *Host) CreateComment(ctx context.Context, issue *types.Issue, nc tracker.NewComment) (*types.Comment, error) {
	payload := map[string]any{"body": h.client.richText(nc.Body)}
	var cf CommentField
	if err := h.client.sendJSON(ctx, http.MethodPost, h.client.api("/issue/%d/comment", issue.ID), payload, &cf); err != nil {
		return nil, fmt.Errorf("add comment to %s: %w", issue, err)
	}
	return cf.toComment(issue.ID), nil
}

func (h *Host) UpdateComment(ctx context.Context, c *types.Comment, notify bool) error {
	payload := map[string]any{"body": h.client.richText(c.Body)}
	if v := visibility(c.RoleLevel); v != nil {
		payload["visibility"] = v
	}
	apiURL := h.client.api("/issue/%d/comment/%d?notifyUsers=%s", c.IssueID, c.ID, strconv.FormatBool(notify))
	if err := h.client.sendJSON(ctx, http.MethodPut, apiURL, payload, nil); err != nil {
		return fmt.Errorf("update comment %d: %w", c.ID, err)
	}
	return nil
}

// GetComment looks a comment up by ID alone through the bulk comment endpoint.
func (h *Host) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	var resp struct {
		Values []CommentField `json:"values"`
	}
	payload := map[string]any{"ids": []int64{id}}
	if err := h.client.sendJSON(ctx, http.MethodPost, h.client.api("/comment/list"), payload, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get comment %d: %w", id, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return resp.Values[0].toComment(0), nil
}

// --- tracker.WorklogStore ---

func (h *Host) UpdateWorklog(ctx context.Context, actor *types.User, w *types.Worklog, notify bool) error {
	payload := map[string]any{"comment": h.client.richText(w.Comment)}
	if v := visibility(w.RoleLevel); v != nil {
		payload["visibility"] = v
	}
	apiURL := h.client.api("/issue/%d/worklog/%d?notifyUsers=%s", w.IssueID, w.ID, strconv.FormatBool(notify))
	if err := h.client.sendJSON(ctx, http.MethodPut, apiURL, payload, nil); err != nil {
		return fmt.Errorf("update worklog %d: %w", w.ID, err)
	}
	h.logger.Debug("worklog updated", "worklog_id", w.ID, "actor", actor.Key())
	return nil
}

// --- tracker.AttachmentStore ---

func (h *Host) ListAttachments(ctx context.Context, issue *types.Issue) ([]*types.Attachment, error) {
	var raw Issue
	if err := h.client.getJSON(ctx, h.client.api("/issue/%d?fields=attachment", issue.ID), &raw); err != nil {
		return nil, fmt.Errorf("list attachments of %s: %w", issue, err)
	}
	out := make([]*types.Attachment, 0, len(raw.Fields.Attachment))
	for i := range raw.Fields.Attachment {
		out = append(out, raw.Fields.Attachment[i].toAttachment(issue.ID))
	}
	return out, nil
}

// CreateAttachment downloads the source blob and uploads it to the target issue.
func (h *Host) CreateAttachment(ctx context.Context, na tracker.NewAttachment) error {
	content, err := h.client.download(ctx, na.Source.Path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", tracker.ErrAttachmentIO, na.Source.Filename, err)
	}
	body, err := h.client.upload(ctx, h.client.api("/issue/%d/attachments", na.Issue.ID), na.Source.Filename, content)
	if err != nil {
		return fmt.Errorf("%w: upload %s to %s: %v", tracker.ErrAttachmentIO, na.Source.Filename, na.Issue, err)
	}
	var created []AttachmentField
	if len(body) > 0 && json.Unmarshal(body, &created) == nil && len(created) == 1 {
		h.logger.Debug("attachment copied", "issue_key", na.Issue.Key, "attachment_id", created[0].ID)
	}
	return nil
}

func (h *Host) DeleteAttachment(ctx context.Context, a *types.Attachment) error {
	if err := h.client.sendJSON(ctx, http.MethodDelete, h.client.api("/attachment/%d", a.ID), nil, nil); err != nil {
		return fmt.Errorf("%w: delete %s: %v", tracker.ErrAttachmentIO, a.Filename, err)
	}
	return nil
}
