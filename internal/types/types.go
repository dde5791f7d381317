// Package types defines the issue model shared by both sides of a portal/internal
// project pair.
package types

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Project is a tracker project as seen by the mirror.
type Project struct {
	ID         int64       `json:"id"`
	Key        string      `json:"key"`
	Name       string      `json:"name,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// Component is a project component. Components are matched across projects by name.
type Component struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Version is a project version (affects/fix version).
type Version struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	ProjectID int64  `json:"project_id,omitempty"`
}

// User identifies a tracker user. AccountID is set on cloud hosts, Name on server hosts.
type User struct {
	Name        string `json:"name,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Key returns the identifier the host uses for this user.
func (u *User) Key() string {
	if u == nil {
		return ""
	}
	if u.AccountID != "" {
		return u.AccountID
	}
	return u.Name
}

// IssueType is the issue type of an issue.
type IssueType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SubTask bool   `json:"subtask,omitempty"`
}

// Priority is a host priority object.
type Priority struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Resolution is a host resolution object.
type Resolution struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Status is the workflow status an issue currently sits in.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Issue is a tracker issue. Time tracking values are in seconds.
type Issue struct {
	ID         int64  `json:"id"`
	Key        string `json:"key"`
	ProjectID  int64  `json:"project_id"`
	ProjectKey string `json:"project_key,omitempty"`

	Type        IssueType `json:"type"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Status      Status    `json:"status"`
	Workflow    string    `json:"workflow,omitempty"`

	Priority   *Priority   `json:"priority,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Assignee   *User       `json:"assignee,omitempty"`
	Reporter   *User       `json:"reporter,omitempty"`
	DueDate    *time.Time  `json:"due_date,omitempty"`

	OriginalEstimate *int64 `json:"original_estimate,omitempty"`
	Estimate         *int64 `json:"estimate,omitempty"`
	TimeSpent        *int64 `json:"time_spent,omitempty"`

	Labels           []string    `json:"labels,omitempty"`
	Components       []Component `json:"components,omitempty"`
	AffectedVersions []Version   `json:"affected_versions,omitempty"`
	FixVersions      []Version   `json:"fix_versions,omitempty"`
	SecurityLevelID  *int64      `json:"security_level_id,omitempty"`

	// CustomFields holds custom field values keyed by field ID (e.g. "customfield_10937").
	CustomFields map[string]any `json:"custom_fields,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// String returns the issue key, falling back to the numeric ID.
func (i *Issue) String() string {
	if i == nil {
		return "<nil>"
	}
	if i.Key != "" {
		return i.Key
	}
	return "#" + strconv.FormatInt(i.ID, 10)
}

// IsSubTask reports whether the issue type is a sub-task type.
func (i *Issue) IsSubTask() bool {
	return i.Type.SubTask
}

// CustomField returns the value stored for a custom field ID.
func (i *Issue) CustomField(fieldID string) (any, bool) {
	if i.CustomFields == nil {
		return nil, false
	}
	v, ok := i.CustomFields[fieldID]
	return v, ok
}

// SetCustomField stores a custom field value.
func (i *Issue) SetCustomField(fieldID string, value any) {
	if i.CustomFields == nil {
		i.CustomFields = make(map[string]any)
	}
	i.CustomFields[fieldID] = value
}

// Clone returns a copy of the issue that shares no mutable state with the original.
// Custom field values are copied shallowly.
func (i *Issue) Clone() *Issue {
	c := *i
	c.Priority = clonePtr(i.Priority)
	c.Resolution = clonePtr(i.Resolution)
	c.Assignee = clonePtr(i.Assignee)
	c.Reporter = clonePtr(i.Reporter)
	c.DueDate = clonePtr(i.DueDate)
	c.OriginalEstimate = clonePtr(i.OriginalEstimate)
	c.Estimate = clonePtr(i.Estimate)
	c.TimeSpent = clonePtr(i.TimeSpent)
	c.SecurityLevelID = clonePtr(i.SecurityLevelID)
	c.Labels = slices.Clone(i.Labels)
	c.Components = slices.Clone(i.Components)
	c.AffectedVersions = slices.Clone(i.AffectedVersions)
	c.FixVersions = slices.Clone(i.FixVersions)
	if i.CustomFields != nil {
		c.CustomFields = maps.Clone(i.CustomFields)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Comment is an issue comment. RoleLevel restricts visibility to a project role when set.
type Comment struct {
	ID           int64     `json:"id"`
	IssueID      int64     `json:"issue_id"`
	Author       *User     `json:"author,omitempty"`
	UpdateAuthor *User     `json:"update_author,omitempty"`
	Body         string    `json:"body"`
	RoleLevel    string    `json:"role_level,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// Worklog is a time-tracking entry on an issue.
type Worklog struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	Author    *User     `json:"author,omitempty"`
	Comment   string    `json:"comment"`
	Started   time.Time `json:"started"`
	TimeSpent int64     `json:"time_spent"`
	RoleLevel string    `json:"role_level,omitempty"`
}

// Attachment is a file attached to an issue. Path is where the host keeps the blob.
type Attachment struct {
	ID       int64     `json:"id"`
	IssueID  int64     `json:"issue_id"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type,omitempty"`
	Path     string    `json:"path,omitempty"`
	Author   *User     `json:"author,omitempty"`
	Created  time.Time `json:"created"`
}

// MatchKey identifies an attachment across projects: attachments are equal when
// filename and size match, regardless of their IDs.
func (a Attachment) MatchKey() string {
	return fmt.Sprintf("%s||%d", a.Filename, a.Size)
}
