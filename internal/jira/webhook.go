package jira

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/portalsync/internal/types"
)

// WebhookPayload is the body Jira posts to a registered webhook.
type WebhookPayload struct {
	Timestamp          int64         `json:"timestamp"`
	WebhookEvent       string        `json:"webhookEvent"`
	IssueEventTypeName string        `json:"issue_event_type_name"`
	User               *UserField    `json:"user"`
	Issue              *Issue        `json:"issue"`
	Comment            *CommentField `json:"comment"`
	Worklog            *WorklogField `json:"worklog"`
	Version            *NamedField   `json:"version"`
}

// Webhook event names.
const (
	WebhookIssueCreated   = "jira:issue_created"
	WebhookIssueUpdated   = "jira:issue_updated"
	WebhookIssueDeleted   = "jira:issue_deleted"
	WebhookVersionDeleted = "jira:version_deleted"
)

var webhookEvents = map[string]types.EventTypeID{
	WebhookIssueCreated: types.EventIssueCreated,
	WebhookIssueUpdated: types.EventIssueUpdated,
	WebhookIssueDeleted: types.EventIssueDeleted,
	"comment_created":   types.EventIssueCommented,
	"comment_updated":   types.EventIssueCommentEdited,
	"comment_deleted":   types.EventIssueCommentDeleted,
	"worklog_created":   types.EventIssueWorklogged,
	"worklog_updated":   types.EventIssueWorklogUpdated,
	"worklog_deleted":   types.EventIssueWorklogDeleted,
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &p, nil
}

// EventType resolves the tracker event type of the payload. The issue event
// name is preferred over the webhook event name since it distinguishes
// workflow transitions and custom events. custom maps lower-cased names of
// administrator-defined events to their IDs.
func (p *WebhookPayload) EventType(custom map[string]types.EventTypeID) (types.EventTypeID, bool) {
	if name := strings.ToLower(strings.TrimSpace(p.IssueEventTypeName)); name != "" {
		if t, ok := types.EventTypeByName(name); ok {
			return t, true
		}
		if t, ok := custom[name]; ok {
			return t, true
		}
	}
	t, ok := webhookEvents[p.WebhookEvent]
	return t, ok
}

// IsVersionEvent reports whether the payload describes a project version.
func (p *WebhookPayload) IsVersionEvent() bool {
	return strings.HasPrefix(p.WebhookEvent, "jira:version_")
}

// Actor returns the user who caused the event, or nil.
func (p *WebhookPayload) Actor() *types.User {
	return p.User.toUser()
}

// IssueID returns the ID of the issue the event concerns, or 0. Worklog events
// only carry the issue ID on the worklog.
func (p *WebhookPayload) IssueID() int64 {
	switch {
	case p.Issue != nil && p.Issue.ID != "":
		return parseID(p.Issue.ID)
	case p.Comment != nil && p.Comment.IssueID != "":
		return parseID(p.Comment.IssueID)
	case p.Worklog != nil:
		return parseID(p.Worklog.IssueID)
	}
	return 0
}

// IssueSnapshot returns the issue as it was when the event fired, or nil.
func (p *WebhookPayload) IssueSnapshot() *types.Issue {
	if p.Issue == nil {
		return nil
	}
	return p.Issue.toIssue()
}

// CommentSnapshot returns the comment carried by the payload, or nil.
func (p *WebhookPayload) CommentSnapshot(issueID int64) *types.Comment {
	if p.Comment == nil {
		return nil
	}
	return p.Comment.toComment(issueID)
}

// WorklogSnapshot returns the worklog carried by the payload, or nil.
func (p *WebhookPayload) WorklogSnapshot() *types.Worklog {
	if p.Worklog == nil {
		return nil
	}
	return p.Worklog.toWorklog()
}

// VersionID returns the ID of the version of a version event, or 0.
func (p *WebhookPayload) VersionID() int64 {
	if p.Version == nil {
		return 0
	}
	return parseID(p.Version.ID)
}
