// Package jira adapts the Jira REST API to the tracker collaborator interfaces.
package jira

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/portalsync/internal/types"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self,omitempty"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of a Jira issue. Custom fields are kept raw.
type IssueFields struct {
	Summary              string            `json:"summary"`
	Description          json.RawMessage   `json:"description"`
	Environment          json.RawMessage   `json:"environment"`
	Status               *StatusField      `json:"status"`
	Priority             *NamedField       `json:"priority"`
	IssueType            *IssueTypeField   `json:"issuetype"`
	Project              *ProjectField     `json:"project"`
	Assignee             *UserField        `json:"assignee"`
	Reporter             *UserField        `json:"reporter"`
	Labels               []string          `json:"labels"`
	Components           []NamedField      `json:"components"`
	Versions             []NamedField      `json:"versions"`
	FixVersions          []NamedField      `json:"fixVersions"`
	Security             *NamedField       `json:"security"`
	DueDate              string            `json:"duedate"`
	TimeOriginalEstimate *int64            `json:"timeoriginalestimate"`
	TimeEstimate         *int64            `json:"timeestimate"`
	TimeSpent            *int64            `json:"timespent"`
	Attachment           []AttachmentField `json:"attachment"`
	Created              string            `json:"created"`
	Updated              string            `json:"updated"`
	Resolution           *NamedField       `json:"resolution"`

	Custom map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the standard fields and collects customfield_* values.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	type plain IssueFields
	if err := json.Unmarshal(data, (*plain)(f)); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if strings.HasPrefix(k, "customfield_") && string(v) != "null" {
			if f.Custom == nil {
				f.Custom = make(map[string]json.RawMessage)
			}
			f.Custom[k] = v
		}
	}
	return nil
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NamedField is any id/name object: priority, resolution, component, version,
// security level.
type NamedField struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// IssueTypeField represents a Jira issue type.
type IssueTypeField struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask"`
}

// ProjectField represents a Jira project.
type ProjectField struct {
	ID         string       `json:"id"`
	Key        string       `json:"key"`
	Name       string       `json:"name,omitempty"`
	Components []NamedField `json:"components,omitempty"`
}

// UserField represents a Jira user. Server instances identify users by Name,
// cloud instances by AccountID.
type UserField struct {
	Name         string `json:"name,omitempty"`
	Key          string `json:"key,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Visibility restricts a comment or worklog to a project role.
type Visibility struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// CommentField is a comment as returned by the REST API.
type CommentField struct {
	ID           string          `json:"id"`
	IssueID      string          `json:"issueId,omitempty"`
	Self         string          `json:"self,omitempty"`
	Author       *UserField      `json:"author"`
	UpdateAuthor *UserField      `json:"updateAuthor"`
	Body         json.RawMessage `json:"body"`
	Visibility   *Visibility     `json:"visibility"`
	Created      string          `json:"created"`
	Updated      string          `json:"updated"`
}

// WorklogField is a worklog as returned by the REST API.
type WorklogField struct {
	ID               string          `json:"id"`
	IssueID          string          `json:"issueId"`
	Author           *UserField      `json:"author"`
	Comment          json.RawMessage `json:"comment"`
	Started          string          `json:"started"`
	TimeSpentSeconds int64           `json:"timeSpentSeconds"`
	Visibility       *Visibility     `json:"visibility"`
}

// AttachmentField is an attachment as returned by the REST API.
type AttachmentField struct {
	ID       string     `json:"id"`
	Filename string     `json:"filename"`
	Size     int64      `json:"size"`
	MimeType string     `json:"mimeType"`
	Content  string     `json:"content"`
	Author   *UserField `json:"author"`
	Created  string     `json:"created"`
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseTime(s string) time.Time {
	t, _ := ParseTimestamp(s)
	return t
}

func (u *UserField) toUser() *types.User {
	if u == nil {
		return nil
	}
	return &types.User{
		Name:        u.Name,
		AccountID:   u.AccountID,
		DisplayName: u.DisplayName,
		Email:       u.EmailAddress,
	}
}

// userRef is the request body form of a user: accountId on cloud, name on server.
func (c *Client) userRef(u *types.User) map[string]any {
	if u == nil {
		return nil
	}
	if c.Cloud() || (u.Name == "" && u.AccountID != "") {
		return map[string]any{"accountId": u.AccountID}
	}
	return map[string]any{"name": u.Name}
}

func namedRefs[T any](items []T, id func(T) int64) []map[string]string {
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]string{"id": formatID(id(it))})
	}
	return out
}

func toVersions(fields []NamedField, projectID int64) []types.Version {
	if len(fields) == 0 {
		return nil
	}
	out := make([]types.Version, 0, len(fields))
	for _, f := range fields {
		out = append(out, types.Version{ID: parseID(f.ID), Name: f.Name, ProjectID: projectID})
	}
	return out
}

// toIssue converts the REST representation to the shared model.
func (i *Issue) toIssue() *types.Issue {
	f := &i.Fields
	issue := &types.Issue{
		ID:               parseID(i.ID),
		Key:              i.Key,
		Summary:          f.Summary,
		Description:      DescriptionToPlainText(f.Description),
		Environment:      DescriptionToPlainText(f.Environment),
		Assignee:         f.Assignee.toUser(),
		Reporter:         f.Reporter.toUser(),
		OriginalEstimate: f.TimeOriginalEstimate,
		Estimate:         f.TimeEstimate,
		TimeSpent:        f.TimeSpent,
		Labels:           f.Labels,
		Created:          parseTime(f.Created),
		Updated:          parseTime(f.Updated),
	}
	if f.Project != nil {
		issue.ProjectID = parseID(f.Project.ID)
		issue.ProjectKey = f.Project.Key
	}
	if f.IssueType != nil {
		issue.Type = types.IssueType{ID: f.IssueType.ID, Name: f.IssueType.Name, SubTask: f.IssueType.Subtask}
	}
	if f.Status != nil {
		issue.Status = types.Status{ID: f.Status.ID, Name: f.Status.Name}
	}
	if f.Priority != nil {
		issue.Priority = &types.Priority{ID: f.Priority.ID, Name: f.Priority.Name}
	}
	if f.Resolution != nil {
		issue.Resolution = &types.Resolution{ID: f.Resolution.ID, Name: f.Resolution.Name}
	}
	if f.DueDate != "" {
		if due, err := time.Parse("2006-01-02", f.DueDate); err == nil {
			issue.DueDate = &due
		}
	}
	if f.Security != nil {
		level := parseID(f.Security.ID)
		issue.SecurityLevelID = &level
	}
	for _, c := range f.Components {
		issue.Components = append(issue.Components, types.Component{ID: parseID(c.ID), Name: c.Name})
	}
	issue.AffectedVersions = toVersions(f.Versions, issue.ProjectID)
	issue.FixVersions = toVersions(f.FixVersions, issue.ProjectID)
	for id, raw := range f.Custom {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			issue.SetCustomField(id, v)
		}
	}
	return issue
}

// issueFields renders the editable fields of issue as a create/edit payload.
// Status and resolution only change through transitions and are not included.
func (c *Client) issueFields(issue *types.Issue, create bool) map[string]any {
	fields := map[string]any{
		"summary":     issue.Summary,
		"description": c.richText(issue.Description),
		"environment": c.richText(issue.Environment),
		"labels":      nonNil(issue.Labels),
		"components":  namedRefs(issue.Components, func(x types.Component) int64 { return x.ID }),
		"versions":    namedRefs(issue.AffectedVersions, func(x types.Version) int64 { return x.ID }),
		"fixVersions": namedRefs(issue.FixVersions, func(x types.Version) int64 { return x.ID }),
		"assignee":    c.userRef(issue.Assignee),
	}
	if create {
		fields["project"] = map[string]string{"id": formatID(issue.ProjectID)}
		fields["issuetype"] = map[string]string{"id": issue.Type.ID}
	}
	if issue.Reporter != nil {
		fields["reporter"] = c.userRef(issue.Reporter)
	}
	if issue.Priority != nil {
		fields["priority"] = map[string]string{"id": issue.Priority.ID}
	}
	if issue.DueDate != nil {
		fields["duedate"] = issue.DueDate.Format("2006-01-02")
	} else {
		fields["duedate"] = nil
	}
	if issue.SecurityLevelID != nil {
		fields["security"] = map[string]string{"id": formatID(*issue.SecurityLevelID)}
	}
	tt := map[string]string{}
	if issue.OriginalEstimate != nil {
		tt["originalEstimate"] = minutes(*issue.OriginalEstimate)
	}
	if issue.Estimate != nil {
		tt["remainingEstimate"] = minutes(*issue.Estimate)
	}
	if len(tt) > 0 {
		fields["timetracking"] = tt
	}
	for id, v := range issue.CustomFields {
		fields[id] = v
	}
	return fields
}

func minutes(seconds int64) string {
	return strconv.FormatInt(seconds/60, 10) + "m"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (cf *CommentField) toComment(issueID int64) *types.Comment {
	c := &types.Comment{
		ID:           parseID(cf.ID),
		IssueID:      issueID,
		Author:       cf.Author.toUser(),
		UpdateAuthor: cf.UpdateAuthor.toUser(),
		Body:         DescriptionToPlainText(cf.Body),
		Created:      parseTime(cf.Created),
		Updated:      parseTime(cf.Updated),
	}
	if cf.IssueID != "" {
		c.IssueID = parseID(cf.IssueID)
	}
	if cf.Visibility != nil && cf.Visibility.Type == "role" {
		c.RoleLevel = cf.Visibility.Value
	}
	return c
}

func (wf *WorklogField) toWorklog() *types.Worklog {
	w := &types.Worklog{
		ID:        parseID(wf.ID),
		IssueID:   parseID(wf.IssueID),
		Author:    wf.Author.toUser(),
		Comment:   DescriptionToPlainText(wf.Comment),
		Started:   parseTime(wf.Started),
		TimeSpent: wf.TimeSpentSeconds,
	}
	if wf.Visibility != nil && wf.Visibility.Type == "role" {
		w.RoleLevel = wf.Visibility.Value
	}
	return w
}

func (af *AttachmentField) toAttachment(issueID int64) *types.Attachment {
	return &types.Attachment{
		ID:       parseID(af.ID),
		IssueID:  issueID,
		Filename: af.Filename,
		Size:     af.Size,
		MimeType: af.MimeType,
		Path:     af.Content,
		Author:   af.Author.toUser(),
		Created:  parseTime(af.Created),
	}
}

func visibility(role string) *Visibility {
	if role == "" {
		return nil
	}
	return &Visibility{Type: "role", Value: role}
}
