package types

import "strconv"

// EventTypeID identifies a tracker event type. Built-in types use the host's
// fixed numbering; administrators' custom events start at CustomEventThreshold.
type EventTypeID int64

const (
	EventIssueCreated        EventTypeID = 1
	EventIssueUpdated        EventTypeID = 2
	EventIssueAssigned       EventTypeID = 3
	EventIssueResolved       EventTypeID = 4
	EventIssueClosed         EventTypeID = 5
	EventIssueCommented      EventTypeID = 6
	EventIssueReopened       EventTypeID = 7
	EventIssueDeleted        EventTypeID = 8
	EventIssueMoved          EventTypeID = 9
	EventIssueWorklogged     EventTypeID = 10
	EventIssueWorkStarted    EventTypeID = 11
	EventIssueWorkStopped    EventTypeID = 12
	EventIssueGeneric        EventTypeID = 13
	EventIssueCommentEdited  EventTypeID = 14
	EventIssueWorklogUpdated EventTypeID = 15
	EventIssueWorklogDeleted EventTypeID = 16
	EventIssueCommentDeleted EventTypeID = 17
)

// CustomEventThreshold is the first event type ID available to custom events.
const CustomEventThreshold EventTypeID = 10000

var eventNames = map[EventTypeID]string{
	EventIssueCreated:        "issue_created",
	EventIssueUpdated:        "issue_updated",
	EventIssueAssigned:       "issue_assigned",
	EventIssueResolved:       "issue_resolved",
	EventIssueClosed:         "issue_closed",
	EventIssueCommented:      "issue_commented",
	EventIssueReopened:       "issue_reopened",
	EventIssueDeleted:        "issue_deleted",
	EventIssueMoved:          "issue_moved",
	EventIssueWorklogged:     "issue_worklogged",
	EventIssueWorkStarted:    "issue_work_started",
	EventIssueWorkStopped:    "issue_work_stopped",
	EventIssueGeneric:        "issue_generic",
	EventIssueCommentEdited:  "issue_comment_edited",
	EventIssueWorklogUpdated: "issue_worklog_updated",
	EventIssueWorklogDeleted: "issue_worklog_deleted",
	EventIssueCommentDeleted: "issue_comment_deleted",
}

// EventTypeByName returns the built-in event type for a host event name
// such as "issue_resolved".
func EventTypeByName(name string) (EventTypeID, bool) {
	for id, n := range eventNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

func (e EventTypeID) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "event_" + strconv.FormatInt(int64(e), 10)
}

// IsBuiltinTransition reports whether e is one of the built-in workflow transition events.
func (e EventTypeID) IsBuiltinTransition() bool {
	switch e {
	case EventIssueResolved, EventIssueReopened, EventIssueClosed,
		EventIssueWorkStarted, EventIssueWorkStopped:
		return true
	}
	return false
}

// IsCustom reports whether e is at or above the given custom event threshold.
// A zero threshold means CustomEventThreshold.
func (e EventTypeID) IsCustom(threshold EventTypeID) bool {
	if threshold <= 0 {
		threshold = CustomEventThreshold
	}
	return e >= threshold
}

// IsResolving reports whether a transition for e carries resolution data.
func (e EventTypeID) IsResolving() bool {
	return e == EventIssueResolved || e == EventIssueClosed
}
