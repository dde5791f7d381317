package listener

import (
	"context"
	"fmt"

	"github.com/steveyegge/portalsync/internal/eventbus"
	"github.com/steveyegge/portalsync/internal/types"
)

// visibilityHandler enforces the one-project portal comment convention on any
// event that carries a new comment.
type visibilityHandler struct{ l *Listener }

func (h *visibilityHandler) ID() string    { return "comment-visibility" }
func (h *visibilityHandler) Priority() int { return PriorityVisibility }

func (h *visibilityHandler) Handles(t types.EventTypeID) bool {
	return t != types.EventIssueCommentEdited && t != types.EventIssueDeleted
}

func (h *visibilityHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	if event.Comment == nil || event.Issue.IsSubTask() {
		return nil
	}
	extra, err := h.l.extraFields(ctx, event)
	if err != nil {
		return fmt.Errorf("project settings: %w", err)
	}
	if extra == nil || !extra.OneProjectPortal {
		return nil
	}
	changed, err := h.l.engine.ApplyCommentVisibility(ctx, event.Issue, event.Comment)
	if err != nil {
		return err
	}
	if changed {
		result.Operations = append(result.Operations, string(OpCommentVisibility))
	}
	return nil
}

// worklogHandler strips the visibility tag from new worklogs.
type worklogHandler struct{ l *Listener }

func (h *worklogHandler) ID() string    { return "worklog-tag" }
func (h *worklogHandler) Priority() int { return PriorityWorklog }

func (h *worklogHandler) Handles(t types.EventTypeID) bool {
	return t == types.EventIssueWorklogged
}

func (h *worklogHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	if event.Worklog == nil {
		return nil
	}
	changed, err := h.l.engine.StripWorklogTag(ctx, event.Actor, event.Worklog)
	if err != nil {
		return err
	}
	if changed {
		result.Operations = append(result.Operations, string(OpStripWorklogTag))
	}
	return nil
}

// mirrorHandler reconciles the event's issue with its counterpart.
type mirrorHandler struct{ l *Listener }

func (h *mirrorHandler) ID() string    { return "mirror" }
func (h *mirrorHandler) Priority() int { return PriorityMirror }

func (h *mirrorHandler) Handles(t types.EventTypeID) bool {
	op := Classify(t, h.l.engine.CustomEventThreshold())
	return op != OpNone && op != OpStripWorklogTag
}

func (h *mirrorHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	l := h.l
	extra, err := l.extraFields(ctx, event)
	if err != nil {
		return fmt.Errorf("project settings: %w", err)
	}
	if extra == nil {
		l.skip(ctx, event, result, SkipNotMirrored)
		return nil
	}
	relatedProject, err := l.engine.RelatedProject(ctx, extra)
	if err != nil {
		return err
	}

	op := Classify(event.Type, l.engine.CustomEventThreshold())
	m := &mirror{l: l, event: event, result: result, extra: extra, relatedProject: relatedProject}
	switch op {
	case OpCreateMirror:
		return m.create(ctx)
	case OpUpdateIssue:
		return m.update(ctx)
	case OpCopyComment:
		return m.copyComment(ctx)
	case OpCustomUpdate:
		return m.customUpdate(ctx)
	case OpTransitIssue:
		return m.transit(ctx)
	case OpAssignee:
		return m.assign(ctx)
	case OpUpdateComment:
		return m.updateComment(ctx)
	case OpDeleteMirror:
		return m.delete(ctx)
	}
	return nil
}

// mirror carries the state of one mirror handler invocation.
type mirror struct {
	l              *Listener
	event          *eventbus.Event
	result         *eventbus.Result
	extra          *types.ProjectExtraFields
	relatedProject *types.Project
}

func (m *mirror) ran(op Operation) {
	m.result.Operations = append(m.result.Operations, string(op))
}

// related resolves the counterpart of the event's issue, recording a skip when
// there is none.
func (m *mirror) related(ctx context.Context) (*types.Issue, error) {
	related, err := m.l.engine.RelatedIssue(ctx, m.event.Issue, m.extra.Portal)
	if err != nil {
		return nil, err
	}
	if related == nil {
		m.l.missingRelated(ctx, m.event, m.result)
	}
	return related, nil
}

// mirrorsSubTasks reports whether field updates of the event's issue cross over.
// Sub-tasks of the internal project stay internal.
func (m *mirror) mirrorsSubTasks() bool {
	return m.extra.Portal || !m.event.Issue.IsSubTask()
}

func (m *mirror) create(ctx context.Context) error {
	issue := m.event.Issue
	if m.extra.ExcludesIssueType(issue.Type.ID) {
		m.l.skip(ctx, m.event, m.result, SkipIssueTypeExcluded)
		return nil
	}
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	switch {
	case !m.extra.Bidirectional:
		m.l.skip(ctx, m.event, m.result, SkipNotBidirectional)
		return nil
	case m.relatedProject == nil:
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	case !m.mirrorsSubTasks():
		m.l.skip(ctx, m.event, m.result, SkipSubTask)
		return nil
	}
	if _, err := m.l.engine.CreateMirror(ctx, m.event.Actor, issue, m.relatedProject); err != nil {
		return err
	}
	m.ran(OpCreateMirror)
	return nil
}

func (m *mirror) update(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	if m.relatedProject == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	if !m.mirrorsSubTasks() {
		m.l.skip(ctx, m.event, m.result, SkipSubTask)
		return nil
	}
	if err := m.l.engine.UpdateIssue(ctx, m.event.Actor, m.event.Issue, related, m.event.Comment, m.event.Type); err != nil {
		return err
	}
	m.ran(OpUpdateIssue)
	return nil
}

func (m *mirror) copyComment(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	if !m.extra.Portal && (m.event.Comment == nil || !types.HasPortalTag(m.event.Comment.Body)) {
		m.l.skip(ctx, m.event, m.result, SkipInternalComment)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	if _, err := m.l.engine.CopyComment(ctx, m.event.Issue, related, m.event.Comment); err != nil {
		return err
	}
	m.ran(OpCopyComment)
	return nil
}

func (m *mirror) customUpdate(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	if m.relatedProject == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	if !m.mirrorsSubTasks() {
		m.l.skip(ctx, m.event, m.result, SkipSubTask)
		return nil
	}
	if err := m.l.engine.UpdateIssue(ctx, m.event.Actor, m.event.Issue, related, m.event.Comment, m.event.Type); err != nil {
		return err
	}
	m.ran(OpCustomUpdate)
	return nil
}

func (m *mirror) transit(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	if m.relatedProject == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	if err := m.l.engine.TransitIssue(ctx, m.event.Actor, m.event.Type, m.event.Issue, related, m.event.Comment); err != nil {
		return err
	}
	m.ran(OpTransitIssue)
	return nil
}

func (m *mirror) assign(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	if m.relatedProject == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	if err := m.l.engine.Assignee(ctx, m.event.Actor, m.event.Issue, related, m.event.Comment); err != nil {
		return err
	}
	m.ran(OpAssignee)
	return nil
}

func (m *mirror) updateComment(ctx context.Context) error {
	if !m.l.shouldProcess(ctx, m.event, m.result) {
		return nil
	}
	related, err := m.l.engine.RelatedIssue(ctx, m.event.Issue, m.extra.Portal)
	if err != nil {
		return err
	}
	if related == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedIssue)
		return nil
	}
	if err := m.l.engine.UpdateComment(ctx, related, m.event.Comment); err != nil {
		return err
	}
	m.ran(OpUpdateComment)
	return nil
}

// delete removes the counterpart of a deleted issue. The issue link is always
// removed through the portal side of the pair.
func (m *mirror) delete(ctx context.Context) error {
	if m.relatedProject == nil {
		m.l.skip(ctx, m.event, m.result, SkipNoRelatedProject)
		return nil
	}
	related, err := m.related(ctx)
	if err != nil || related == nil {
		return err
	}
	portalSide := related
	if m.extra.Portal {
		portalSide = m.event.Issue
	}
	if err := m.l.engine.RemoveIssueLink(ctx, portalSide); err != nil {
		return err
	}
	if err := m.l.engine.DeleteIssue(ctx, related); err != nil {
		return err
	}
	m.ran(OpDeleteMirror)
	return nil
}
