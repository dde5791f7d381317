// Package suppress implements the short-lived registry that keeps mutations made by
// the mirror from re-entering the pipeline as new inbound events.
//
// Before the engine mutates an issue it locks the event type that mutation will
// cause. When the host re-delivers that event, ShouldProcess consumes the token and
// reports that the event must be dropped. Tokens are single use.
//
// The ledger is best effort: there is no expiry, and two concurrent deliveries of the
// same event for the same issue can race for one token.
package suppress

import (
	"strconv"
	"sync"

	"github.com/steveyegge/portalsync/internal/types"
)

// Ledger is safe for concurrent use. The zero value is ready to use.
type Ledger struct {
	mu      sync.Mutex
	pending map[types.EventTypeID]map[string]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Lock records that the next eventType event for issue is self-caused.
func (l *Ledger) Lock(issue *types.Issue, eventType types.EventTypeID) {
	if issue == nil {
		return
	}
	l.add(eventType, idToken(issue.ID))
}

// LockSummary is Lock for issues that do not have a stable ID yet, such as a mirror
// that is about to be created. The summary text is used as the token.
func (l *Ledger) LockSummary(issue *types.Issue, eventType types.EventTypeID) {
	if issue == nil {
		return
	}
	l.add(eventType, summaryToken(issue.Summary))
}

// ShouldProcess reports whether an inbound eventType event for issue was caused
// externally. A matching ID token is consumed first, then a matching summary token;
// either match consumes exactly that token and returns false.
func (l *Ledger) ShouldProcess(issue *types.Issue, eventType types.EventTypeID) bool {
	if issue == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens, ok := l.pending[eventType]
	if !ok {
		return true
	}
	for _, tok := range []string{idToken(issue.ID), summaryToken(issue.Summary)} {
		if _, ok := tokens[tok]; ok {
			delete(tokens, tok)
			if len(tokens) == 0 {
				delete(l.pending, eventType)
			}
			return false
		}
	}
	return true
}

// Len returns the number of pending tokens across all event types.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tokens := range l.pending {
		n += len(tokens)
	}
	return n
}

func (l *Ledger) add(eventType types.EventTypeID, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		l.pending = make(map[types.EventTypeID]map[string]struct{})
	}
	tokens, ok := l.pending[eventType]
	if !ok {
		tokens = make(map[string]struct{})
		l.pending[eventType] = tokens
	}
	tokens[token] = struct{}{}
}

// ID and summary tokens carry distinct prefixes; a numeric summary never matches an ID.
func idToken(id int64) string {
	return "id:" + strconv.FormatInt(id, 10)
}

func summaryToken(summary string) string {
	return "summary:" + summary
}
