package eventbus

import (
	"context"

	"github.com/steveyegge/portalsync/internal/types"
)

// Handler processes events on the bus. Handlers are called in priority order
// (lower priority value = called earlier) for matching event types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles reports whether this handler processes events of type t.
	Handles(t types.EventTypeID) bool

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event and may modify the aggregated result.
	// Returning an error logs it but does not stop the handler chain.
	Handle(ctx context.Context, event *Event, result *Result) error
}
