// Package transition picks the workflow action to run on a mirror issue when its
// counterpart changed status.
//
// Two tables are consulted. Action mappings pair a source status with the action
// that brings the target to the equivalent status, optionally scoped to the
// target's workflow and current status. Event mappings are the fallback and map a
// numeric event type to an action per workflow.
package transition

import (
	"strings"

	"github.com/steveyegge/portalsync/internal/types"
)

// AnyWorkflow scopes a mapping to every workflow.
const AnyWorkflow = "*"

// Action is a workflow action on the target issue.
type Action struct {
	ID   int
	Name string
}

// ActionMapping pairs the status the source moved to with an action on the target.
type ActionMapping struct {
	Workflow     string `mapstructure:"workflow" yaml:"workflow"`           // target workflow, "*" or empty for any
	TargetStatus string `mapstructure:"target_status" yaml:"target_status"` // target's current status, empty for any
	SourceStatus string `mapstructure:"source_status" yaml:"source_status"`
	ActionID     int    `mapstructure:"action" yaml:"action"`
	ActionName   string `mapstructure:"name" yaml:"name"`
}

// EventMapping maps an event type to an action within a workflow.
type EventMapping struct {
	Workflow string            `mapstructure:"workflow" yaml:"workflow"`
	Event    types.EventTypeID `mapstructure:"event" yaml:"event"`
	ActionID int               `mapstructure:"action" yaml:"action"`
}

// DefaultEventMappings are the action IDs of the host's stock workflow.
var DefaultEventMappings = []EventMapping{
	{Workflow: AnyWorkflow, Event: types.EventIssueResolved, ActionID: 5},
	{Workflow: AnyWorkflow, Event: types.EventIssueClosed, ActionID: 2},
	{Workflow: AnyWorkflow, Event: types.EventIssueReopened, ActionID: 3},
	{Workflow: AnyWorkflow, Event: types.EventIssueWorkStarted, ActionID: 4},
	{Workflow: AnyWorkflow, Event: types.EventIssueWorkStopped, ActionID: 301},
}

type eventKey struct {
	workflow string
	event    types.EventTypeID
}

// Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	actions []ActionMapping
	events  map[eventKey]int
}

// New builds a resolver. Event mappings are layered over DefaultEventMappings.
func New(actions []ActionMapping, events []EventMapping) *Resolver {
	r := &Resolver{
		actions: append([]ActionMapping(nil), actions...),
		events:  make(map[eventKey]int, len(DefaultEventMappings)+len(events)),
	}
	for _, list := range [][]EventMapping{DefaultEventMappings, events} {
		for _, m := range list {
			r.events[eventKey{workflow: normWorkflow(m.Workflow), event: m.Event}] = m.ActionID
		}
	}
	return r
}

func normWorkflow(w string) string {
	if w == "" {
		return AnyWorkflow
	}
	return strings.ToLower(w)
}

// ActionFor returns the explicitly configured action that moves target to the
// status source is now in. Workflow-specific mappings win over "*" mappings.
func (r *Resolver) ActionFor(source, target *types.Issue) (*Action, bool) {
	if r == nil || source == nil || target == nil {
		return nil, false
	}
	workflow := normWorkflow(target.Workflow)
	var fallback *ActionMapping
	for i := range r.actions {
		m := &r.actions[i]
		if !strings.EqualFold(m.SourceStatus, source.Status.Name) {
			continue
		}
		if m.TargetStatus != "" && !strings.EqualFold(m.TargetStatus, target.Status.Name) {
			continue
		}
		switch normWorkflow(m.Workflow) {
		case workflow:
			return &Action{ID: m.ActionID, Name: m.ActionName}, true
		case AnyWorkflow:
			if fallback == nil {
				fallback = m
			}
		}
	}
	if fallback != nil {
		return &Action{ID: fallback.ActionID, Name: fallback.ActionName}, true
	}
	return nil, false
}

// Resolve maps an event type to an action of target's workflow.
func (r *Resolver) Resolve(eventType types.EventTypeID, target *types.Issue) (int, bool) {
	if r == nil || target == nil {
		return 0, false
	}
	if id, ok := r.events[eventKey{workflow: normWorkflow(target.Workflow), event: eventType}]; ok {
		return id, true
	}
	id, ok := r.events[eventKey{workflow: AnyWorkflow, event: eventType}]
	return id, ok
}

// ActionID prefers an explicit action mapping and falls back to Resolve. Zero
// means nothing resolved; the workflow engine rejects it at validation.
func (r *Resolver) ActionID(eventType types.EventTypeID, source, target *types.Issue) int {
	if a, ok := r.ActionFor(source, target); ok {
		return a.ID
	}
	id, _ := r.Resolve(eventType, target)
	return id
}
