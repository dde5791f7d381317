// Package eventbus dispatches normalized tracker events to the handlers that
// reconcile them.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/portalsync/internal/telemetry"
	"github.com/steveyegge/portalsync/internal/types"
)

// Bus dispatches events to registered handlers. Each event is handled to
// completion before Dispatch returns; there is no queue.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// New creates a new event bus. A nil logger means slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

var busMetrics struct {
	events        metric.Int64Counter
	handlerErrors metric.Int64Counter
}

var busMetricsOnce sync.Once

func initBusMetrics() {
	m := telemetry.Meter("github.com/steveyegge/portalsync/eventbus")
	busMetrics.events, _ = m.Int64Counter("psync.events.dispatched",
		metric.WithDescription("Tracker events dispatched"),
		metric.WithUnit("{event}"),
	)
	busMetrics.handlerErrors, _ = m.Int64Counter("psync.events.handler_errors",
		metric.WithDescription("Handler failures"),
		metric.WithUnit("{error}"),
	)
}

// Dispatch sends an event to all registered handlers that handle its type.
// Handlers are called sequentially in priority order (lowest first).
// Handler errors are logged and recorded in the result but do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if event.Issue == nil {
		return nil, fmt.Errorf("eventbus: event %s has no issue", event.Type)
	}
	busMetricsOnce.Do(initBusMetrics)

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	typeAttr := attribute.String("psync.event_type", event.Type.String())
	if busMetrics.events != nil {
		busMetrics.events.Add(ctx, 1, metric.WithAttributes(typeAttr))
	}
	ctx, span := telemetry.Tracer("github.com/steveyegge/portalsync/eventbus").Start(ctx, "eventbus.dispatch")
	defer span.End()
	span.SetAttributes(typeAttr, attribute.String("psync.issue.key", event.Issue.String()))

	result := &Result{}
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}

		if err := h.Handle(ctx, event, result); err != nil {
			b.logger.ErrorContext(ctx, "handler failed",
				"handler", h.ID(),
				"event_type", event.Type.String(),
				"issue_id", event.Issue.ID,
				"issue_key", event.Issue.Key,
				"error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", h.ID(), err))
			if busMetrics.handlerErrors != nil {
				busMetrics.handlerErrors.Add(ctx, 1, metric.WithAttributes(typeAttr, attribute.String("psync.handler", h.ID())))
			}
		}
	}
	span.SetAttributes(attribute.Int("psync.handlers", len(matching)), attribute.Bool("psync.suppressed", result.Suppressed))
	return result, nil
}

// Handlers returns all registered handlers (for introspection/status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType types.EventTypeID) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		if h.Handles(eventType) {
			matched = append(matched, h)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
