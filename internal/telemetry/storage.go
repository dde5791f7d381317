package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/portalsync/internal/storage"
)

const storageScopeName = "github.com/steveyegge/portalsync/storage"

// InstrumentedLinkStore wraps storage.LinkStore with OTel tracing and metrics.
// Every method gets a span and is counted in psync.storage.* metrics.
// Use WrapLinkStore to create one.
type InstrumentedLinkStore struct {
	inner  storage.LinkStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapLinkStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapLinkStore(s storage.LinkStore) storage.LinkStore {
	if !Enabled() {
		return s
	}
	return newInstrumented(s)
}

func newInstrumented(s storage.LinkStore) *InstrumentedLinkStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("psync.storage.operations",
		metric.WithDescription("Total link store operations executed"),
	)
	dur, _ := m.Float64Histogram("psync.storage.operation.duration",
		metric.WithDescription("Link store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("psync.storage.errors",
		metric.WithDescription("Link store operation errors, not counting lookups that found nothing"),
	)
	return &InstrumentedLinkStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the underlying store.
func (s *InstrumentedLinkStore) Unwrap() storage.LinkStore { return s.inner }

func (s *InstrumentedLinkStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all[0]))
	return ctx, span, time.Now()
}

func (s *InstrumentedLinkStore) done(ctx context.Context, name string, span trace.Span, start time.Time, err error) {
	op := metric.WithAttributes(attribute.String("db.operation", name))
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), op)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		span.SetAttributes(attribute.Bool("psync.link.found", false))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, op)
	}
	span.End()
}

// ── Issue links ─────────────────────────────────────────────────────────────

func (s *InstrumentedLinkStore) SaveIssueLink(ctx context.Context, portalIssueID, internalIssueID int64) (*storage.IssueLink, error) {
	ctx, span, t := s.op(ctx, "SaveIssueLink",
		attribute.Int64("psync.portal_issue.id", portalIssueID),
		attribute.Int64("psync.internal_issue.id", internalIssueID),
	)
	v, err := s.inner.SaveIssueLink(ctx, portalIssueID, internalIssueID)
	s.done(ctx, "SaveIssueLink", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) IssueLinkByPortal(ctx context.Context, portalIssueID int64) (*storage.IssueLink, error) {
	ctx, span, t := s.op(ctx, "IssueLinkByPortal", attribute.Int64("psync.portal_issue.id", portalIssueID))
	v, err := s.inner.IssueLinkByPortal(ctx, portalIssueID)
	s.done(ctx, "IssueLinkByPortal", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) IssueLinkByInternal(ctx context.Context, internalIssueID int64) (*storage.IssueLink, error) {
	ctx, span, t := s.op(ctx, "IssueLinkByInternal", attribute.Int64("psync.internal_issue.id", internalIssueID))
	v, err := s.inner.IssueLinkByInternal(ctx, internalIssueID)
	s.done(ctx, "IssueLinkByInternal", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) RemoveIssueLink(ctx context.Context, issueID int64, portal bool) error {
	ctx, span, t := s.op(ctx, "RemoveIssueLink",
		attribute.Int64("psync.issue.id", issueID),
		attribute.Bool("psync.portal", portal),
	)
	err := s.inner.RemoveIssueLink(ctx, issueID, portal)
	s.done(ctx, "RemoveIssueLink", span, t, err)
	return err
}

func (s *InstrumentedLinkStore) ListIssueLinks(ctx context.Context, filter storage.LinkFilter) ([]*storage.IssueLink, error) {
	ctx, span, t := s.op(ctx, "ListIssueLinks", attribute.Int("psync.limit", filter.Limit))
	v, err := s.inner.ListIssueLinks(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("psync.result.count", len(v)))
	}
	s.done(ctx, "ListIssueLinks", span, t, err)
	return v, err
}

// ── Comment links ───────────────────────────────────────────────────────────

func (s *InstrumentedLinkStore) SaveCommentLink(ctx context.Context, link storage.CommentLink) (*storage.CommentLink, error) {
	ctx, span, t := s.op(ctx, "SaveCommentLink",
		attribute.Int64("psync.portal_comment.id", link.PortalCommentID),
		attribute.Int64("psync.internal_comment.id", link.InternalCommentID),
	)
	v, err := s.inner.SaveCommentLink(ctx, link)
	s.done(ctx, "SaveCommentLink", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) CommentLinkByComment(ctx context.Context, ct storage.CommentType, commentID int64) (*storage.CommentLink, error) {
	ctx, span, t := s.op(ctx, "CommentLinkByComment",
		attribute.String("psync.comment.type", string(ct)),
		attribute.Int64("psync.comment.id", commentID),
	)
	v, err := s.inner.CommentLinkByComment(ctx, ct, commentID)
	s.done(ctx, "CommentLinkByComment", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) ListCommentLinks(ctx context.Context, portalIssueID int64) ([]*storage.CommentLink, error) {
	ctx, span, t := s.op(ctx, "ListCommentLinks", attribute.Int64("psync.portal_issue.id", portalIssueID))
	v, err := s.inner.ListCommentLinks(ctx, portalIssueID)
	s.done(ctx, "ListCommentLinks", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) RemoveCommentLinks(ctx context.Context, portalIssueID int64) error {
	ctx, span, t := s.op(ctx, "RemoveCommentLinks", attribute.Int64("psync.portal_issue.id", portalIssueID))
	err := s.inner.RemoveCommentLinks(ctx, portalIssueID)
	s.done(ctx, "RemoveCommentLinks", span, t, err)
	return err
}

// ── Version links ───────────────────────────────────────────────────────────

func (s *InstrumentedLinkStore) SaveVersionLink(ctx context.Context, portalVersionID, internalVersionID int64) (*storage.VersionLink, error) {
	ctx, span, t := s.op(ctx, "SaveVersionLink",
		attribute.Int64("psync.portal_version.id", portalVersionID),
		attribute.Int64("psync.internal_version.id", internalVersionID),
	)
	v, err := s.inner.SaveVersionLink(ctx, portalVersionID, internalVersionID)
	s.done(ctx, "SaveVersionLink", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) RestoreVersion(ctx context.Context, versionID int64, targetIsPortal bool) (int64, error) {
	ctx, span, t := s.op(ctx, "RestoreVersion",
		attribute.Int64("psync.version.id", versionID),
		attribute.Bool("psync.portal", targetIsPortal),
	)
	v, err := s.inner.RestoreVersion(ctx, versionID, targetIsPortal)
	s.done(ctx, "RestoreVersion", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) RemoveVersionLinks(ctx context.Context, versionID int64) error {
	ctx, span, t := s.op(ctx, "RemoveVersionLinks", attribute.Int64("psync.version.id", versionID))
	err := s.inner.RemoveVersionLinks(ctx, versionID)
	s.done(ctx, "RemoveVersionLinks", span, t, err)
	return err
}

func (s *InstrumentedLinkStore) ListVersionLinks(ctx context.Context) ([]*storage.VersionLink, error) {
	ctx, span, t := s.op(ctx, "ListVersionLinks")
	v, err := s.inner.ListVersionLinks(ctx)
	s.done(ctx, "ListVersionLinks", span, t, err)
	return v, err
}

func (s *InstrumentedLinkStore) Close() error {
	return s.inner.Close()
}
