package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure. Each kind maps to a distinct
// client-facing message and transport status.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "ValidationError"
	KindConflict          Kind = "Conflict"
	KindInvalidTransition Kind = "InvalidTransition"
	KindPolicyViolation   Kind = "PolicyViolation"
	KindInvalidState      Kind = "InvalidState"
	KindAlreadyResolved   Kind = "AlreadyResolved"
	// KindForbidden is raised only by the CLI, API and MCP boundaries when
	// the acting role may not perform an operation.
	KindForbidden Kind = "Forbidden"
)

// Message is the generic human-readable text for k.
func (k Kind) Message() string {
	switch k {
	case KindNotFound:
		return "bug or request not found"
	case KindValidation:
		return "invalid input"
	case KindConflict:
		return "a pending request already exists"
	case KindInvalidTransition:
		return "status change not allowed from the current status"
	case KindPolicyViolation:
		return "status change blocked by policy"
	case KindInvalidState:
		return "bug is not in a state that allows this operation"
	case KindAlreadyResolved:
		return "request has already been resolved"
	case KindForbidden:
		return "role not permitted to perform this operation"
	}
	return "workflow error"
}

// Error is returned by every engine operation that fails for a domain reason.
type Error struct {
	Kind  Kind
	Op    string
	BugID string
	Msg   string
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Message()
	}
	switch {
	case e.Op != "" && e.BugID != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.BugID, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.BugID == "" && t.Msg == ""
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrPolicyViolation   = &Error{Kind: KindPolicyViolation}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// KindOf returns the kind of a workflow error anywhere in err's chain, or ""
// for infrastructure errors.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

func newErr(kind Kind, op, bugID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, BugID: bugID, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden builds the boundary refusal error.
func Forbidden(op string, format string, args ...any) *Error {
	return newErr(KindForbidden, op, "", format, args...)
}
