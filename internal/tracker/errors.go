package tracker

import (
	"errors"
	"fmt"
)

// Failure kinds. Operations that abort return an *OpError wrapping one of these;
// the others are logged where they happen and the operation carries on.
var (
	// ErrCreateFailure: the host rejected the mirror issue. No link is recorded.
	ErrCreateFailure = errors.New("create failure")
	// ErrIndexFailure: reindexing failed. Logged only.
	ErrIndexFailure = errors.New("index failure")
	// ErrAttachmentIO: an attachment blob could not be copied or removed. Logged only.
	ErrAttachmentIO = errors.New("attachment I/O failure")
	// ErrTransitionValidation: the target workflow rejected the transition or
	// assignment. The target is left untouched.
	ErrTransitionValidation = errors.New("transition validation failure")
	// ErrUnresolvedLink: an issue, comment or version link is missing.
	ErrUnresolvedLink = errors.New("unresolved link")
	// ErrUnmappedPriority: no priority mapping row or due date applies.
	ErrUnmappedPriority = errors.New("unmapped priority")
)

// ErrIssueNotFound is returned by hosts for unknown issue IDs.
var ErrIssueNotFound = errors.New("issue not found")

// OpError records which operation failed on which issue.
type OpError struct {
	Op       string
	IssueKey string
	Kind     error
	Err      error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.IssueKey != "" {
		msg += " " + e.IssueKey
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, issueKey string, kind, err error) *OpError {
	return &OpError{Op: op, IssueKey: issueKey, Kind: kind, Err: err}
}

// KindOf returns the failure kind carried by err, or nil.
func KindOf(err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, k := range []error{ErrCreateFailure, ErrIndexFailure, ErrAttachmentIO,
		ErrTransitionValidation, ErrUnresolvedLink, ErrUnmappedPriority} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// validationError flattens host validation messages into one error.
func validationError(messages []string) error {
	if len(messages) == 0 {
		return errors.New("rejected without detail")
	}
	return fmt.Errorf("%q", messages)
}
