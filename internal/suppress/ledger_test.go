package suppress

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/portalsync/internal/types"
)

func TestShouldProcessWithoutLock(t *testing.T) {
	l := New()
	issue := &types.Issue{ID: 1, Summary: "printer on fire"}
	assert.True(t, l.ShouldProcess(issue, types.EventIssueUpdated))
	assert.True(t, l.ShouldProcess(nil, types.EventIssueUpdated))
}

func TestLockIsSingleUse(t *testing.T) {
	l := New()
	issue := &types.Issue{ID: 42, Summary: "s"}

	l.Lock(issue, types.EventIssueCommented)
	assert.Equal(t, 1, l.Len())

	assert.False(t, l.ShouldProcess(issue, types.EventIssueCommented))
	assert.True(t, l.ShouldProcess(issue, types.EventIssueCommented))
	assert.True(t, l.ShouldProcess(issue, types.EventIssueCommented))
	assert.Equal(t, 0, l.Len())
}

func TestLockIsScopedByEventType(t *testing.T) {
	l := New()
	issue := &types.Issue{ID: 42}

	l.Lock(issue, types.EventIssueAssigned)
	assert.True(t, l.ShouldProcess(issue, types.EventIssueUpdated))
	assert.False(t, l.ShouldProcess(issue, types.EventIssueAssigned))
}

func TestLockIsScopedByIssue(t *testing.T) {
	l := New()
	l.Lock(&types.Issue{ID: 1}, types.EventIssueUpdated)
	assert.True(t, l.ShouldProcess(&types.Issue{ID: 2}, types.EventIssueUpdated))
	assert.False(t, l.ShouldProcess(&types.Issue{ID: 1}, types.EventIssueUpdated))
}

func TestLockSummary(t *testing.T) {
	l := New()
	// Mirror issues are locked before they have an ID.
	pending := &types.Issue{Summary: "Cannot log in"}
	l.LockSummary(pending, types.EventIssueCreated)

	created := &types.Issue{ID: 77, Summary: "Cannot log in"}
	assert.False(t, l.ShouldProcess(created, types.EventIssueCreated))
	assert.True(t, l.ShouldProcess(created, types.EventIssueCreated))
}

func TestIDTokenConsumedBeforeSummary(t *testing.T) {
	l := New()
	issue := &types.Issue{ID: 5, Summary: "dup"}
	l.Lock(issue, types.EventIssueUpdated)
	l.LockSummary(issue, types.EventIssueUpdated)

	assert.False(t, l.ShouldProcess(issue, types.EventIssueUpdated))
	assert.Equal(t, 1, l.Len(), "only the ID token is consumed")
	assert.False(t, l.ShouldProcess(issue, types.EventIssueUpdated))
	assert.True(t, l.ShouldProcess(issue, types.EventIssueUpdated))
}

func TestNumericSummaryDoesNotMatchID(t *testing.T) {
	l := New()
	l.LockSummary(&types.Issue{Summary: "12"}, types.EventIssueCreated)
	assert.True(t, l.ShouldProcess(&types.Issue{ID: 12, Summary: "other"}, types.EventIssueCreated))
}

func TestRepeatedLockCollapses(t *testing.T) {
	l := New()
	issue := &types.Issue{ID: 9}
	l.Lock(issue, types.EventIssueUpdated)
	l.Lock(issue, types.EventIssueUpdated)
	assert.Equal(t, 1, l.Len())
}

func TestZeroValueLedger(t *testing.T) {
	var l Ledger
	issue := &types.Issue{ID: 3}
	l.Lock(issue, types.EventIssueUpdated)
	assert.False(t, l.ShouldProcess(issue, types.EventIssueUpdated))
}

func TestConcurrentConsumeExactlyOnce(t *testing.T) {
	l := New()
	const issues = 200
	for i := 0; i < issues; i++ {
		l.Lock(&types.Issue{ID: int64(i)}, types.EventIssueUpdated)
	}

	var dropped atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < issues; i++ {
				if !l.ShouldProcess(&types.Issue{ID: int64(i)}, types.EventIssueUpdated) {
					dropped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(issues), dropped.Load())
	assert.Equal(t, 0, l.Len())
}
