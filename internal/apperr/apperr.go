// Package apperr defines the tagged error kinds the core returns instead of
// raw errors, so the router can decide how to surface a failure without
// string-matching (spec §7).
package apperr

import "fmt"

// Kind tags the category of failure.
type Kind string

const (
	Validation       Kind = "validation_error"
	PermissionDenied Kind = "permission_denied"
	StateConflict    Kind = "state_conflict"
	NotFound         Kind = "not_found"
	Storage          Kind = "storage_error"
	Chat             Kind = "chat_error"
)

// Error carries a Kind plus a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validationf(format string, args ...any) *Error {
	return newError(Validation, fmt.Sprintf(format, args...), nil)
}

func PermissionDeniedf(format string, args ...any) *Error {
	return newError(PermissionDenied, fmt.Sprintf(format, args...), nil)
}

func StateConflictf(format string, args ...any) *Error {
	return newError(StateConflict, fmt.Sprintf(format, args...), nil)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(NotFound, fmt.Sprintf(format, args...), nil)
}

func Storagef(err error, format string, args ...any) *Error {
	return newError(Storage, fmt.Sprintf(format, args...), err)
}

func Chatf(err error, format string, args ...any) *Error {
	return newError(Chat, fmt.Sprintf(format, args...), err)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
