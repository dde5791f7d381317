package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/portalsync/internal/priority"
	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/suppress"
	"github.com/steveyegge/portalsync/internal/telemetry"
	"github.com/steveyegge/portalsync/internal/transition"
	"github.com/steveyegge/portalsync/internal/types"
)

const instrumentationName = "github.com/steveyegge/portalsync/tracker"

// Role names and option values used when none are configured.
const (
	DefaultPortalOwnerRole = "Portal Owner"
	DefaultClientRole      = "Client"
	DefaultInternalRole    = "Internal Users"
	DefaultAsAClientYes    = "Check if Yes"
)

// Roles names the project roles the engine consults.
type Roles struct {
	PortalOwner string // reporter substitute when an issue is raised on behalf of a client
	Client      string // authors whose untagged comments stay visible
	Internal    string // role level of demoted comments
}

// Config wires an Engine. Host and Links are required.
type Config struct {
	Host        *Host
	Links       storage.LinkStore
	Ledger      *suppress.Ledger
	Priorities  *priority.Registry
	Transitions *transition.Resolver
	Fields      FieldRoles
	Roles       Roles

	// AsAClientYes is the option of the as-a-client field that triggers
	// reporter substitution.
	AsAClientYes string
	// CustomEventThreshold is the first custom event type ID.
	CustomEventThreshold types.EventTypeID
	// SupportUser is assigned to issues created from remote portal issues.
	SupportUser *types.User

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine runs the reconciliation operations. It is safe for concurrent use as
// long as its collaborators are.
type Engine struct {
	host        *Host
	links       storage.LinkStore
	ledger      *suppress.Ledger
	priorities  *priority.Registry
	transitions *transition.Resolver
	fields      FieldRoles
	roles       Roles
	asAClient   string
	threshold   types.EventTypeID
	support     *types.User
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine validates cfg and fills in defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Host == nil {
		return nil, errors.New("tracker: host is required")
	}
	if cfg.Links == nil {
		return nil, errors.New("tracker: link store is required")
	}
	h := cfg.Host
	for name, c := range map[string]any{
		"issues": h.Issues, "comments": h.Comments, "attachments": h.Attachments,
		"fields": h.Fields, "workflow": h.Workflow, "roles": h.Roles, "index": h.Index,
		"projects": h.Projects, "watchers": h.Watchers, "worklogs": h.Worklogs,
	} {
		if c == nil {
			return nil, fmt.Errorf("tracker: host %s collaborator is required", name)
		}
	}

	e := &Engine{
		host:        h,
		links:       cfg.Links,
		ledger:      cfg.Ledger,
		priorities:  cfg.Priorities,
		transitions: cfg.Transitions,
		fields:      cfg.Fields,
		roles:       cfg.Roles,
		asAClient:   cfg.AsAClientYes,
		threshold:   cfg.CustomEventThreshold,
		support:     cfg.SupportUser,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if e.ledger == nil {
		e.ledger = suppress.New()
	}
	if e.priorities == nil {
		e.priorities = priority.NewRegistry(nil)
	}
	if e.transitions == nil {
		e.transitions = transition.New(nil, nil)
	}
	if e.fields == nil {
		e.fields = FieldRoles{}
	}
	if e.roles.PortalOwner == "" {
		e.roles.PortalOwner = DefaultPortalOwnerRole
	}
	if e.roles.Client == "" {
		e.roles.Client = DefaultClientRole
	}
	if e.roles.Internal == "" {
		e.roles.Internal = DefaultInternalRole
	}
	if e.asAClient == "" {
		e.asAClient = DefaultAsAClientYes
	}
	if e.threshold <= 0 {
		e.threshold = types.CustomEventThreshold
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Ledger returns the suppression ledger shared with the event classifier.
func (e *Engine) Ledger() *suppress.Ledger { return e.ledger }

// Links returns the link store.
func (e *Engine) Links() storage.LinkStore { return e.links }

// Host returns the host collaborators.
func (e *Engine) Host() *Host { return e.host }

// CustomEventThreshold returns the first custom event type ID.
func (e *Engine) CustomEventThreshold() types.EventTypeID { return e.threshold }

// engineMetrics holds lazily-initialized OTel instruments for engine operations.
var engineMetrics struct {
	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
}

var engineMetricsOnce sync.Once

func initEngineMetrics() {
	m := telemetry.Meter(instrumentationName)
	engineMetrics.operations, _ = m.Int64Counter("psync.engine.operations",
		metric.WithDescription("Reconciliation operations run"),
		metric.WithUnit("{operation}"),
	)
	engineMetrics.failures, _ = m.Int64Counter("psync.engine.failures",
		metric.WithDescription("Reconciliation failures by kind"),
		metric.WithUnit("{failure}"),
	)
	engineMetrics.duration, _ = m.Float64Histogram("psync.engine.operation.duration",
		metric.WithDescription("Reconciliation operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

var kindNames = map[error]string{
	ErrCreateFailure:        "create_failure",
	ErrIndexFailure:         "index_failure",
	ErrAttachmentIO:         "attachment_io",
	ErrTransitionValidation: "transition_validation",
	ErrUnresolvedLink:       "unresolved_link",
	ErrUnmappedPriority:     "unmapped_priority",
}

func kindName(kind error) string {
	if n, ok := kindNames[kind]; ok {
		return n
	}
	return "other"
}

// begin opens a span for op and returns the function that closes it. Call it as
// defer end(&err).
func (e *Engine) begin(ctx context.Context, op string, issue *types.Issue) (context.Context, func(*error)) {
	engineMetricsOnce.Do(initEngineMetrics)
	ctx, span := telemetry.Tracer(instrumentationName).Start(ctx, "tracker."+op,
		trace.WithAttributes(attribute.String("psync.issue.key", issue.String())))
	t0 := time.Now()
	return ctx, func(errp *error) {
		opAttr := attribute.String("psync.op", op)
		if engineMetrics.operations != nil {
			engineMetrics.operations.Add(ctx, 1, metric.WithAttributes(opAttr))
			engineMetrics.duration.Record(ctx, float64(time.Since(t0).Milliseconds()), metric.WithAttributes(opAttr))
		}
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
			e.count(ctx, op, KindOf(*errp))
		}
		span.End()
	}
}

func (e *Engine) count(ctx context.Context, op string, kind error) {
	if engineMetrics.failures == nil {
		return
	}
	engineMetrics.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("psync.op", op),
		attribute.String("psync.failure.kind", kindName(kind)),
	))
}

// report logs a failure the operation recovers from and counts it.
func (e *Engine) report(ctx context.Context, op string, kind error, msg string, args ...any) {
	level := slog.LevelError
	if kind == ErrAttachmentIO || kind == ErrUnresolvedLink {
		level = slog.LevelWarn
	}
	args = append(args, "op", op, "kind", kindName(kind))
	e.logger.Log(ctx, level, msg, args...)
	e.count(ctx, op, kind)
}

func issueAttrs(issue *types.Issue) []any {
	if issue == nil {
		return nil
	}
	return []any{"issue_id", issue.ID, "issue_key", issue.Key}
}

func pairAttrs(source, related *types.Issue) []any {
	args := issueAttrs(source)
	if related != nil {
		args = append(args, "related_id", related.ID, "related_key", related.Key)
	}
	return args
}

// isPortal reports whether projectID is configured as a portal project.
func (e *Engine) isPortal(ctx context.Context, projectID int64) (bool, error) {
	extra, err := e.host.Projects.ExtraFields(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("project %d extra fields: %w", projectID, err)
	}
	return extra != nil && extra.Portal, nil
}

func (e *Engine) reindex(ctx context.Context, op string, issue *types.Issue) {
	if err := e.host.Index.Reindex(ctx, issue); err != nil {
		e.report(ctx, op, ErrIndexFailure, "reindex failed",
			append(issueAttrs(issue), "error", err)...)
	}
}

func (e *Engine) silentUpdate(ctx context.Context, actor *types.User, issue *types.Issue) error {
	if echoer, ok := e.host.Issues.(UpdateEchoer); ok && echoer.EchoesSilentUpdates() {
		e.ledger.Lock(issue, types.EventIssueUpdated)
	}
	if err := e.host.Issues.UpdateIssue(ctx, actor, issue, UpdateOptions{Notify: false}); err != nil {
		return fmt.Errorf("updating %s: %w", issue, err)
	}
	return nil
}
