// Package trackertest provides an in-memory host for engine and listener tests.
package trackertest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// Emitted is an event the fake host would have dispatched for a mutation.
type Emitted struct {
	Type    types.EventTypeID
	IssueID int64
}

// Update records one UpdateIssue call.
type Update struct {
	IssueID int64
	Notify  bool
}

// Transition records one executed transition.
type Transition struct {
	IssueID  int64
	ActionID int
	Inputs   tracker.TransitionInputs
}

// Host implements every tracker collaborator in memory. Issues and comments are
// copied on the way in and out, so callers see host state only after writing it.
type Host struct {
	mu     sync.Mutex
	nextID int64
	now    func() time.Time

	issues       map[int64]*types.Issue
	keySeq       map[string]int
	comments     map[int64]*types.Comment
	attachments  map[int64][]*types.Attachment
	worklogs     map[int64]*types.Worklog
	projects     map[int64]*types.Project
	extras       map[int64]*types.ProjectExtraFields
	security     map[int64]int64
	fields       []tracker.Field
	projectField map[int64][]string
	roles        map[string]map[int64][]*types.User
	watchers     map[int64][]*types.User

	// CreateErr makes CreateIssue fail.
	CreateErr error
	// IndexErr makes Reindex fail.
	IndexErr error
	// MissingBlobs lists attachment paths whose blob cannot be read.
	MissingBlobs map[string]bool
	// RejectActions maps action IDs to the validation message they fail with.
	RejectActions map[int]string
	// RejectAssignees lists user keys that cannot be assigned.
	RejectAssignees map[string]bool
	// ActionEvents maps action IDs to the event their execution dispatches.
	ActionEvents map[int]types.EventTypeID
	// DefaultWatchers are added to every created issue.
	DefaultWatchers []*types.User
	// EchoUpdates makes UpdateIssue dispatch an update event even when Notify
	// is off, the way a webhook-driven host does.
	EchoUpdates bool

	Emitted     []Emitted
	Updates     []Update
	Transitions []Transition
	Deleted     []int64
	Reindexed   []int64
}

// New returns an empty host.
func New() *Host {
	return &Host{
		now:             time.Now,
		issues:          make(map[int64]*types.Issue),
		keySeq:          make(map[string]int),
		comments:        make(map[int64]*types.Comment),
		attachments:     make(map[int64][]*types.Attachment),
		worklogs:        make(map[int64]*types.Worklog),
		projects:        make(map[int64]*types.Project),
		extras:          make(map[int64]*types.ProjectExtraFields),
		security:        make(map[int64]int64),
		projectField:    make(map[int64][]string),
		roles:           make(map[string]map[int64][]*types.User),
		watchers:        make(map[int64][]*types.User),
		MissingBlobs:    make(map[string]bool),
		RejectActions:   make(map[int]string),
		RejectAssignees: make(map[string]bool),
		ActionEvents:    make(map[int]types.EventTypeID),
	}
}

// Collaborators returns the host as a tracker.Host.
func (h *Host) Collaborators() *tracker.Host {
	return &tracker.Host{
		Issues:      h,
		Comments:    h,
		Attachments: h,
		Fields:      h,
		Workflow:    h,
		Roles:       h,
		Index:       h,
		Projects:    h,
		Watchers:    h,
		Worklogs:    h,
	}
}

// SetClock overrides the clock used for timestamps.
func (h *Host) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

func (h *Host) id() int64 {
	h.nextID++
	return h.nextID
}

// --- setup ---

// AddProject registers a project and its mirroring configuration. extra may be nil.
func (h *Host) AddProject(p types.Project, extra *types.ProjectExtraFields) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.projects[p.ID] = &p
	if extra != nil {
		x := *extra
		x.ProjectID = p.ID
		h.extras[p.ID] = &x
	}
}

// SetDefaultSecurityLevel sets the default security level of a project.
func (h *Host) SetDefaultSecurityLevel(projectID, level int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.security[projectID] = level
}

// DefineFields declares custom fields and the projects that have them. A nil
// projects list makes the field available everywhere.
func (h *Host) DefineFields(projects []int64, fields ...tracker.Field) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range fields {
		if !slices.ContainsFunc(h.fields, func(x tracker.Field) bool { return x.ID == f.ID }) {
			h.fields = append(h.fields, f)
		}
		for _, p := range projects {
			h.projectField[p] = append(h.projectField[p], f.ID)
		}
	}
}

// SetRoleMembers replaces the members of a project role.
func (h *Host) SetRoleMembers(role string, projectID int64, users ...*types.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.roles[role] == nil {
		h.roles[role] = make(map[int64][]*types.User)
	}
	h.roles[role][projectID] = users
}

// AddIssue stores issue as-is, assigning an ID and key when missing.
func (h *Host) AddIssue(issue *types.Issue) *types.Issue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store(issue.Clone()).Clone()
}

func (h *Host) store(issue *types.Issue) *types.Issue {
	if issue.ID == 0 {
		issue.ID = h.id()
	} else if issue.ID > h.nextID {
		h.nextID = issue.ID
	}
	if p, ok := h.projects[issue.ProjectID]; ok && issue.ProjectKey == "" {
		issue.ProjectKey = p.Key
	}
	if issue.Key == "" {
		h.keySeq[issue.ProjectKey]++
		issue.Key = issue.ProjectKey + "-" + strconv.Itoa(h.keySeq[issue.ProjectKey])
	}
	h.issues[issue.ID] = issue
	return issue
}

// AddComment stores a comment on issueID.
func (h *Host) AddComment(issueID int64, author *types.User, body string) *types.Comment {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	c := &types.Comment{ID: h.id(), IssueID: issueID, Author: author, UpdateAuthor: author, Body: body, Created: now, Updated: now}
	h.comments[c.ID] = c
	cp := *c
	return &cp
}

// AddAttachment stores an attachment on issueID.
func (h *Host) AddAttachment(issueID int64, filename string, size int64) *types.Attachment {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := &types.Attachment{ID: h.id(), IssueID: issueID, Filename: filename, Size: size,
		Path: fmt.Sprintf("/blobs/%d/%s", issueID, filename), Created: h.now()}
	h.attachments[issueID] = append(h.attachments[issueID], a)
	cp := *a
	return &cp
}

// AddWorklog stores a worklog.
func (h *Host) AddWorklog(issueID int64, comment string) *types.Worklog {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &types.Worklog{ID: h.id(), IssueID: issueID, Comment: comment, Started: h.now(), TimeSpent: 3600}
	h.worklogs[w.ID] = w
	cp := *w
	return &cp
}

// --- inspection ---

// Issue returns a copy of a stored issue, or nil.
func (h *Host) Issue(id int64) *types.Issue {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i, ok := h.issues[id]; ok {
		return i.Clone()
	}
	return nil
}

// IssuesIn returns copies of the issues of a project ordered by ID.
func (h *Host) IssuesIn(projectID int64) []*types.Issue {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*types.Issue
	for _, i := range h.issues {
		if i.ProjectID == projectID {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Comment returns a copy of a stored comment, or nil.
func (h *Host) Comment(id int64) *types.Comment {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.comments[id]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// CommentsOn returns copies of the comments of an issue ordered by ID.
func (h *Host) CommentsOn(issueID int64) []*types.Comment {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*types.Comment
	for _, c := range h.comments {
		if c.IssueID == issueID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// AttachmentNames returns the filenames attached to an issue, sorted.
func (h *Host) AttachmentNames(issueID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, a := range h.attachments[issueID] {
		names = append(names, a.Filename)
	}
	sort.Strings(names)
	return names
}

// Worklog returns a copy of a stored worklog, or nil.
func (h *Host) Worklog(id int64) *types.Worklog {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.worklogs[id]; ok {
		cp := *w
		return &cp
	}
	return nil
}

// WatchersOf returns the watchers of an issue.
func (h *Host) WatchersOf(issueID int64) []*types.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.watchers[issueID])
}

func (h *Host) emit(t types.EventTypeID, issueID int64) {
	h.Emitted = append(h.Emitted, Emitted{Type: t, IssueID: issueID})
}

// --- tracker.IssueStore ---

func (h *Host) GetIssue(_ context.Context, id int64) (*types.Issue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.issues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, id)
	}
	return i.Clone(), nil
}

func (h *Host) CreateIssue(_ context.Context, _ *types.User, issue *types.Issue) (*types.Issue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.CreateErr != nil {
		return nil, h.CreateErr
	}
	if _, ok := h.projects[issue.ProjectID]; !ok {
		return nil, fmt.Errorf("project %d does not exist", issue.ProjectID)
	}
	c := issue.Clone()
	c.ID = 0
	c.Key = ""
	stored := h.store(c)
	h.watchers[stored.ID] = slices.Clone(h.DefaultWatchers)
	h.emit(types.EventIssueCreated, stored.ID)
	return stored.Clone(), nil
}

func (h *Host) UpdateIssue(_ context.Context, _ *types.User, issue *types.Issue, opts tracker.UpdateOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.issues[issue.ID]; !ok {
		return fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issue.ID)
	}
	c := issue.Clone()
	c.Updated = h.now()
	h.issues[issue.ID] = c
	h.Updates = append(h.Updates, Update{IssueID: issue.ID, Notify: opts.Notify})
	if opts.Notify || h.EchoUpdates {
		h.emit(types.EventIssueUpdated, issue.ID)
	}
	return nil
}

// EchoesSilentUpdates implements tracker.UpdateEchoer.
func (h *Host) EchoesSilentUpdates() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.EchoUpdates
}

func (h *Host) DeleteIssue(_ context.Context, issue *types.Issue) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.issues[issue.ID]; !ok {
		return fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issue.ID)
	}
	delete(h.issues, issue.ID)
	h.Deleted = append(h.Deleted, issue.ID)
	return nil
}

func (h *Host) CloneIssue(_ context.Context, issue *types.Issue) (*types.Issue, error) {
	return issue.Clone(), nil
}

// --- tracker.CommentStore ---

func (h *Host) CreateComment(_ context.Context, issue *types.Issue, nc tracker.NewComment) (*types.Comment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.issues[issue.ID]; !ok {
		return nil, fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issue.ID)
	}
	c := &types.Comment{ID: h.id(), IssueID: issue.ID, Author: nc.Author, UpdateAuthor: nc.UpdateAuthor,
		Body: nc.Body, Created: nc.Created, Updated: nc.Updated}
	h.comments[c.ID] = c
	h.emit(types.EventIssueCommented, issue.ID)
	cp := *c
	return &cp, nil
}

func (h *Host) UpdateComment(_ context.Context, c *types.Comment, notify bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.comments[c.ID]; !ok {
		return fmt.Errorf("comment %d does not exist", c.ID)
	}
	cp := *c
	h.comments[c.ID] = &cp
	if notify {
		h.emit(types.EventIssueCommentEdited, c.IssueID)
	}
	return nil
}

func (h *Host) GetComment(_ context.Context, id int64) (*types.Comment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// --- tracker.AttachmentStore ---

func (h *Host) ListAttachments(_ context.Context, issue *types.Issue) ([]*types.Attachment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*types.Attachment
	for _, a := range h.attachments[issue.ID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (h *Host) CreateAttachment(_ context.Context, na tracker.NewAttachment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.MissingBlobs[na.Source.Path] {
		return fmt.Errorf("%w: %s", tracker.ErrAttachmentIO, na.Source.Path)
	}
	a := &types.Attachment{ID: h.id(), IssueID: na.Issue.ID, Filename: na.Source.Filename,
		Size: na.Source.Size, MimeType: na.Source.MimeType, Author: na.Author, Created: na.Created,
		Path: fmt.Sprintf("/blobs/%d/%s", na.Issue.ID, na.Source.Filename)}
	h.attachments[na.Issue.ID] = append(h.attachments[na.Issue.ID], a)
	return nil
}

func (h *Host) DeleteAttachment(_ context.Context, a *types.Attachment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.attachments[a.IssueID]
	i := slices.IndexFunc(list, func(x *types.Attachment) bool { return x.ID == a.ID })
	if i < 0 {
		return fmt.Errorf("%w: attachment %d not found", tracker.ErrAttachmentIO, a.ID)
	}
	h.attachments[a.IssueID] = slices.Delete(list, i, i+1)
	return nil
}

// --- tracker.CustomFieldCatalog ---

func (h *Host) Fields(context.Context) ([]tracker.Field, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.fields), nil
}

func (h *Host) FieldsFor(_ context.Context, projectID int64, _ string) ([]tracker.Field, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := h.projectField[projectID]
	var out []tracker.Field
	for _, f := range h.fields {
		if slices.Contains(ids, f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (h *Host) ValueOf(issue *types.Issue, f tracker.Field) any {
	v, _ := issue.CustomField(f.ID)
	return v
}

func (h *Host) SetValue(issue *types.Issue, f tracker.Field, value any) {
	issue.SetCustomField(f.ID, value)
}

// --- tracker.WorkflowEngine ---

func (h *Host) ValidateTransition(_ context.Context, _ *types.User, issueID int64, actionID int, inputs tracker.TransitionInputs) (*tracker.ValidationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	issue, ok := h.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issueID)
	}
	res := &tracker.ValidationResult{Issue: issue.Clone(), ActionID: actionID, Inputs: inputs}
	switch msg, rejected := h.RejectActions[actionID]; {
	case actionID == 0:
		res.Errors = []string{"no valid action"}
	case rejected:
		res.Errors = []string{msg}
	default:
		res.Valid = true
	}
	return res, nil
}

func (h *Host) ExecuteTransition(_ context.Context, _ *types.User, res *tracker.ValidationResult) error {
	if res == nil || !res.Valid {
		return errors.New("transition was not validated")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	issue, ok := h.issues[res.Issue.ID]
	if !ok {
		return fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, res.Issue.ID)
	}
	if res.Inputs.ResolutionID != "" {
		issue.Resolution = &types.Resolution{ID: res.Inputs.ResolutionID}
	}
	h.Transitions = append(h.Transitions, Transition{IssueID: issue.ID, ActionID: res.ActionID, Inputs: res.Inputs})
	if ev, ok := h.ActionEvents[res.ActionID]; ok {
		h.emit(ev, issue.ID)
	}
	return nil
}

func (h *Host) ValidateAssign(_ context.Context, _ *types.User, issueID int64, assignee *types.User) (*tracker.ValidationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	issue, ok := h.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, issueID)
	}
	res := &tracker.ValidationResult{Issue: issue.Clone(), Assignee: assignee}
	if h.RejectAssignees[assignee.Key()] {
		res.Errors = []string{"user '" + assignee.Key() + "' cannot be assigned issues"}
	} else {
		res.Valid = true
	}
	return res, nil
}

func (h *Host) Assign(_ context.Context, _ *types.User, res *tracker.ValidationResult) error {
	if res == nil || !res.Valid {
		return errors.New("assignment was not validated")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	issue, ok := h.issues[res.Issue.ID]
	if !ok {
		return fmt.Errorf("%w: %d", tracker.ErrIssueNotFound, res.Issue.ID)
	}
	if res.Assignee == nil {
		issue.Assignee = nil
	} else {
		u := *res.Assignee
		issue.Assignee = &u
	}
	h.emit(types.EventIssueAssigned, issue.ID)
	return nil
}

// --- tracker.RoleDirectory ---

func (h *Host) MembersOf(_ context.Context, role string, projectID int64) ([]*types.User, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.roles[role][projectID]), nil
}

func (h *Host) IsMember(_ context.Context, user *types.User, role string, projectID int64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range h.roles[role][projectID] {
		if u.Key() == user.Key() {
			return true, nil
		}
	}
	return false, nil
}

// --- tracker.SearchIndex ---

func (h *Host) Reindex(_ context.Context, issue *types.Issue) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.IndexErr != nil {
		return h.IndexErr
	}
	h.Reindexed = append(h.Reindexed, issue.ID)
	return nil
}

// --- tracker.ProjectDirectory ---

func (h *Host) ExtraFields(_ context.Context, projectID int64) (*types.ProjectExtraFields, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	x, ok := h.extras[projectID]
	if !ok {
		return nil, nil
	}
	cp := *x
	return &cp, nil
}

func (h *Host) Project(_ context.Context, projectID int64) (*types.Project, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.projects[projectID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (h *Host) DefaultSecurityLevel(_ context.Context, projectID int64) (*int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lvl, ok := h.security[projectID]
	if !ok {
		return nil, nil
	}
	return &lvl, nil
}

// --- tracker.WatcherStore ---

func (h *Host) Watchers(_ context.Context, issue *types.Issue) ([]*types.User, error) {
	return h.WatchersOf(issue.ID), nil
}

func (h *Host) StopWatching(_ context.Context, user *types.User, issue *types.Issue) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[issue.ID] = slices.DeleteFunc(h.watchers[issue.ID], func(u *types.User) bool {
		return u.Key() == user.Key()
	})
	return nil
}

// --- tracker.WorklogStore ---

func (h *Host) UpdateWorklog(_ context.Context, _ *types.User, w *types.Worklog, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.worklogs[w.ID]; !ok {
		return fmt.Errorf("worklog %d does not exist", w.ID)
	}
	cp := *w
	h.worklogs[w.ID] = &cp
	return nil
}
