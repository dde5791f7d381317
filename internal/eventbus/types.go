package eventbus

import (
	"time"

	"github.com/steveyegge/portalsync/internal/types"
)

// Event is a tracker event normalized by the inbound boundary. Issue is re-read
// from the host before dispatch except for deletions, where only the last known
// state exists.
type Event struct {
	Type    types.EventTypeID `json:"event_type_id"`
	Issue   *types.Issue      `json:"issue"`
	Actor   *types.User       `json:"actor,omitempty"`
	Comment *types.Comment    `json:"comment,omitempty"`
	Worklog *types.Worklog    `json:"worklog,omitempty"`

	// Source names the boundary that produced the event ("webhook", "cli").
	Source     string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Result aggregates what the handlers did with one event.
type Result struct {
	// Operations lists the reconciliation operations that ran, in order.
	Operations []string `json:"operations,omitempty"`
	// Suppressed is set when a self-caused event was dropped.
	Suppressed bool `json:"suppressed,omitempty"`
	// Skipped explains why the mirror handler did nothing.
	Skipped string `json:"skipped,omitempty"`
	// Errors holds one entry per failed handler.
	Errors []string `json:"errors,omitempty"`
}

// OK reports whether every handler succeeded.
func (r *Result) OK() bool {
	return r != nil && len(r.Errors) == 0
}
