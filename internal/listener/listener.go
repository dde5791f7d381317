// Package listener turns normalized tracker events into reconciliation
// operations. It registers three handlers on an event bus: the one-project
// portal comment visibility rule, the cross-project mirror, and the worklog
// tag strip.
package listener

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/portalsync/internal/eventbus"
	"github.com/steveyegge/portalsync/internal/telemetry"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// Operation names the reconciliation step an event maps to.
type Operation string

const (
	OpNone              Operation = ""
	OpCreateMirror      Operation = "create_mirror"
	OpUpdateIssue       Operation = "update_issue"
	OpCopyComment       Operation = "copy_comment"
	OpCustomUpdate      Operation = "custom_update"
	OpTransitIssue      Operation = "transit_issue"
	OpAssignee          Operation = "assignee"
	OpUpdateComment     Operation = "update_comment"
	OpDeleteMirror      Operation = "delete_mirror"
	OpStripWorklogTag   Operation = "strip_worklog_tag"
	OpCommentVisibility Operation = "comment_visibility"
)

// Handler priorities. Visibility runs before mirroring so that a comment is
// demoted or stripped before anything else looks at it.
const (
	PriorityVisibility = 10
	PriorityMirror     = 20
	PriorityWorklog    = 30
)

// Skip reasons recorded in eventbus.Result.Skipped.
const (
	SkipNotMirrored       = "project is not mirrored"
	SkipNoRelatedProject  = "no related project"
	SkipNoRelatedIssue    = "related issue doesn't exist"
	SkipNotBidirectional  = "project is not bidirectional"
	SkipSubTask           = "sub-task of internal project"
	SkipIssueTypeExcluded = "issue type is not mapped"
	SkipInternalComment   = "comment is internal"
)

// Classify maps an event type to the operation the mirror handler runs for it,
// before any configuration, suppression or link checks. Custom events take
// precedence over the built-in families, so a threshold below the built-in range
// turns every event into a custom update.
func Classify(t, threshold types.EventTypeID) Operation {
	switch {
	case t == types.EventIssueCreated:
		return OpCreateMirror
	case t == types.EventIssueUpdated:
		return OpUpdateIssue
	case t == types.EventIssueCommented:
		return OpCopyComment
	case t.IsCustom(threshold):
		return OpCustomUpdate
	case t.IsBuiltinTransition():
		return OpTransitIssue
	case t == types.EventIssueAssigned:
		return OpAssignee
	case t == types.EventIssueCommentEdited:
		return OpUpdateComment
	case t == types.EventIssueDeleted:
		return OpDeleteMirror
	case t == types.EventIssueWorklogged:
		return OpStripWorklogTag
	}
	return OpNone
}

// Listener owns the handlers that connect the bus to the engine.
type Listener struct {
	engine *tracker.Engine
	logger *slog.Logger
}

// New returns a listener for engine. A nil logger means slog.Default().
func New(engine *tracker.Engine, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{engine: engine, logger: logger}
}

// Register adds the listener's handlers to bus.
func (l *Listener) Register(bus *eventbus.Bus) {
	bus.Register(&visibilityHandler{l})
	bus.Register(&mirrorHandler{l})
	bus.Register(&worklogHandler{l})
	l.observeLedger()
}

// observeLedger reports the number of pending suppression tokens.
func (l *Listener) observeLedger() {
	m := telemetry.Meter("github.com/steveyegge/portalsync/listener")
	_, err := m.Int64ObservableGauge("psync.ledger.pending",
		metric.WithDescription("Suppression tokens waiting for their self-caused event"),
		metric.WithUnit("{token}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(l.engine.Ledger().Len()))
			return nil
		}),
	)
	if err != nil {
		l.logger.Debug("ledger gauge unavailable", "error", err)
	}
}

var listenerMetrics struct {
	suppressed metric.Int64Counter
	skipped    metric.Int64Counter
}

var listenerMetricsOnce sync.Once

func initListenerMetrics() {
	m := telemetry.Meter("github.com/steveyegge/portalsync/listener")
	listenerMetrics.suppressed, _ = m.Int64Counter("psync.events.suppressed",
		metric.WithDescription("Self-caused events dropped by the suppression ledger"),
		metric.WithUnit("{event}"),
	)
	listenerMetrics.skipped, _ = m.Int64Counter("psync.events.skipped",
		metric.WithDescription("Events the mirror handler did not act on"),
		metric.WithUnit("{event}"),
	)
}

// extraFields returns the mirroring configuration of the event's project, or nil.
func (l *Listener) extraFields(ctx context.Context, event *eventbus.Event) (*types.ProjectExtraFields, error) {
	return l.engine.Host().Projects.ExtraFields(ctx, event.Issue.ProjectID)
}

// shouldProcess consumes a suppression token for the event's issue and marks the
// result when the event was self-caused.
func (l *Listener) shouldProcess(ctx context.Context, event *eventbus.Event, result *eventbus.Result) bool {
	if l.engine.Ledger().ShouldProcess(event.Issue, event.Type) {
		return true
	}
	listenerMetricsOnce.Do(initListenerMetrics)
	result.Suppressed = true
	if listenerMetrics.suppressed != nil {
		listenerMetrics.suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("psync.event_type", event.Type.String())))
	}
	l.logger.DebugContext(ctx, "event suppressed",
		"event_type", event.Type.String(), "issue_id", event.Issue.ID, "issue_key", event.Issue.Key)
	return false
}

func (l *Listener) skip(ctx context.Context, event *eventbus.Event, result *eventbus.Result, reason string) {
	listenerMetricsOnce.Do(initListenerMetrics)
	result.Skipped = reason
	if listenerMetrics.skipped != nil {
		listenerMetrics.skipped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("psync.event_type", event.Type.String()),
			attribute.String("psync.reason", reason)))
	}
	l.logger.DebugContext(ctx, "event skipped",
		"reason", reason, "event_type", event.Type.String(), "issue_id", event.Issue.ID, "issue_key", event.Issue.Key)
}

// missingRelated records and logs an event whose pair could not be resolved.
func (l *Listener) missingRelated(ctx context.Context, event *eventbus.Event, result *eventbus.Result) {
	l.skip(ctx, event, result, SkipNoRelatedIssue)
	l.logger.WarnContext(ctx, "related issue doesn't exist",
		"event_type", event.Type.String(), "issue_id", event.Issue.ID, "issue_key", event.Issue.Key)
}
