package tracker

import (
	"context"
	"strconv"

	"github.com/steveyegge/portalsync/internal/types"
)

// updatePriority derives priority and due date of source and target from the
// priority table of portalProject. A row without a priority copies the source
// priority verbatim. Without a matching row the due date of the current priority
// is propagated; failing that the priority is copied verbatim. It reports whether
// source was changed.
func (e *Engine) updatePriority(ctx context.Context, op, portalProject string, source, target *types.Issue) bool {
	mapper := e.priorities.For(portalProject)
	urgency := e.roleValue(source, RoleUrgency)
	impact := e.roleValue(source, RoleBusinessImpact)

	if m, ok := mapper.Mapping(source.Type.Name, urgency, impact); ok {
		if m.Priority == nil {
			target.Priority = clonePriority(source.Priority)
			return false
		}
		if m.DueDate != nil {
			source.DueDate = timePtr(*m.DueDate)
			target.DueDate = timePtr(*m.DueDate)
		}
		p := &types.Priority{ID: strconv.Itoa(*m.Priority)}
		source.Priority = p
		target.Priority = clonePriority(p)
		return true
	}

	if source.DueDate == nil && source.Priority != nil {
		if due, ok := mapper.DueDate(source.Priority.Name); ok {
			source.DueDate = &due
			target.DueDate = timePtr(due)
			return true
		}
	}

	target.Priority = clonePriority(source.Priority)
	e.report(ctx, op, ErrUnmappedPriority, "can't find priority mapping",
		append(pairAttrs(source, target),
			"project", portalProject, "issue_type", source.Type.Name,
			"urgency", urgency, "impact", impact)...)
	return false
}

func clonePriority(p *types.Priority) *types.Priority {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
