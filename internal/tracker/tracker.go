// Package tracker mirrors issues between the two projects of a portal/internal pair.
//
// The Engine holds the reconciliation operations. It talks to the issue tracking
// host only through the collaborator interfaces below, which a Host bundles; the
// jira package provides a REST implementation and trackertest an in-memory one.
package tracker

import (
	"context"
	"time"

	"github.com/steveyegge/portalsync/internal/types"
)

// UpdateOptions controls how an issue update is published by the host.
type UpdateOptions struct {
	// Notify sends notifications and dispatches an update event. Mirror writes
	// never notify; see UpdateEchoer for hosts that dispatch the event anyway.
	Notify bool
}

// UpdateEchoer is implemented by issue stores that still dispatch an update
// event for an update made without Notify. The engine locks that event in the
// suppression ledger before each such write.
type UpdateEchoer interface {
	EchoesSilentUpdates() bool
}

// IssueStore reads and writes issues.
type IssueStore interface {
	// GetIssue fails with ErrIssueNotFound when id does not exist.
	GetIssue(ctx context.Context, id int64) (*types.Issue, error)
	// CreateIssue creates issue and returns it with ID and Key assigned.
	CreateIssue(ctx context.Context, actor *types.User, issue *types.Issue) (*types.Issue, error)
	UpdateIssue(ctx context.Context, actor *types.User, issue *types.Issue, opts UpdateOptions) error
	// DeleteIssue removes issue without dispatching a deletion event.
	DeleteIssue(ctx context.Context, issue *types.Issue) error
	// CloneIssue returns an unsaved copy of issue.
	CloneIssue(ctx context.Context, issue *types.Issue) (*types.Issue, error)
}

// NewComment carries the values of a comment to create.
type NewComment struct {
	Author       *types.User
	UpdateAuthor *types.User
	Body         string
	Created      time.Time
	Updated      time.Time
}

// CommentStore reads and writes comments.
type CommentStore interface {
	CreateComment(ctx context.Context, issue *types.Issue, c NewComment) (*types.Comment, error)
	UpdateComment(ctx context.Context, c *types.Comment, notify bool) error
	// GetComment returns nil when the comment does not exist.
	GetComment(ctx context.Context, id int64) (*types.Comment, error)
}

// NewAttachment describes an attachment copied onto Issue.
type NewAttachment struct {
	Source  *types.Attachment
	Issue   *types.Issue
	Author  *types.User
	Created time.Time
}

// AttachmentStore lists, copies and removes attachments. Create and Delete fail
// with ErrAttachmentIO when the blob is missing or unreadable.
type AttachmentStore interface {
	ListAttachments(ctx context.Context, issue *types.Issue) ([]*types.Attachment, error)
	CreateAttachment(ctx context.Context, a NewAttachment) error
	DeleteAttachment(ctx context.Context, a *types.Attachment) error
}

// Field is a custom field definition.
type Field struct {
	ID         string
	Name       string
	Calculated bool
}

// CustomFieldCatalog enumerates custom fields and reads/writes their values.
type CustomFieldCatalog interface {
	// Fields lists every custom field the host defines.
	Fields(ctx context.Context) ([]Field, error)
	// FieldsFor returns the fields applicable to an issue type in a project.
	FieldsFor(ctx context.Context, projectID int64, issueTypeID string) ([]Field, error)
	ValueOf(issue *types.Issue, field Field) any
	SetValue(issue *types.Issue, field Field, value any)
}

// TransitionInputs are the field values submitted with a workflow transition.
type TransitionInputs struct {
	Assignee          *types.User
	ResolutionID      string
	FixVersionIDs     []int64
	Description       *string
	TimeSpent         *int64
	RemainingEstimate *int64
}

// ValidationResult is the outcome of validating a transition or an assignment.
// Execute and Assign accept only a result with Valid set.
type ValidationResult struct {
	Valid    bool
	Issue    *types.Issue
	ActionID int
	Inputs   TransitionInputs
	Assignee *types.User
	Errors   []string
}

// WorkflowEngine validates and executes transitions and assignments on the host.
type WorkflowEngine interface {
	ValidateTransition(ctx context.Context, actor *types.User, issueID int64, actionID int, inputs TransitionInputs) (*ValidationResult, error)
	ExecuteTransition(ctx context.Context, actor *types.User, result *ValidationResult) error
	ValidateAssign(ctx context.Context, actor *types.User, issueID int64, assignee *types.User) (*ValidationResult, error)
	Assign(ctx context.Context, actor *types.User, result *ValidationResult) error
}

// RoleDirectory resolves project role membership.
type RoleDirectory interface {
	MembersOf(ctx context.Context, role string, projectID int64) ([]*types.User, error)
	IsMember(ctx context.Context, user *types.User, role string, projectID int64) (bool, error)
}

// SearchIndex keeps the host's search index current.
type SearchIndex interface {
	Reindex(ctx context.Context, issue *types.Issue) error
}

// ProjectDirectory resolves projects and their mirroring configuration.
type ProjectDirectory interface {
	// ExtraFields returns the project's mirroring configuration, or nil when
	// the project takes no part in mirroring.
	ExtraFields(ctx context.Context, projectID int64) (*types.ProjectExtraFields, error)
	// Project returns nil when the project does not exist.
	Project(ctx context.Context, projectID int64) (*types.Project, error)
	// DefaultSecurityLevel returns the project's default security level, or nil.
	DefaultSecurityLevel(ctx context.Context, projectID int64) (*int64, error)
}

// WatcherStore manages issue watchers.
type WatcherStore interface {
	Watchers(ctx context.Context, issue *types.Issue) ([]*types.User, error)
	StopWatching(ctx context.Context, user *types.User, issue *types.Issue) error
}

// WorklogStore updates worklogs.
type WorklogStore interface {
	UpdateWorklog(ctx context.Context, actor *types.User, w *types.Worklog, notify bool) error
}

// Host bundles the collaborators of one issue tracking host.
type Host struct {
	Issues      IssueStore
	Comments    CommentStore
	Attachments AttachmentStore
	Fields      CustomFieldCatalog
	Workflow    WorkflowEngine
	Roles       RoleDirectory
	Index       SearchIndex
	Projects    ProjectDirectory
	Watchers    WatcherStore
	Worklogs    WorklogStore
}
