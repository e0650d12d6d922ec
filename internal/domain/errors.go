package domain

import "errors"

// ErrorKind classifies the expected, user-facing failures of enrollment operations.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindAlreadyEnrolled  ErrorKind = "already_enrolled"
	KindCapacityExceeded ErrorKind = "capacity_exceeded"
	KindNotEnrolled      ErrorKind = "not_enrolled"
	KindInvalidInput     ErrorKind = "invalid_input"
)

// Error carries the kind of an enrollment failure and the request it belongs to.
type Error struct {
	Kind     ErrorKind
	Activity string
	Email    string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return "Activity not found"
	case KindAlreadyEnrolled:
		return "Student is already signed up"
	case KindCapacityExceeded:
		return "Activity is full"
	case KindNotEnrolled:
		return "Student is not signed up for this activity"
	case KindInvalidInput:
		return "email is required"
	default:
		return string(e.Kind)
	}
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrActivityNotFound is returned when no activity has the requested name.
	ErrActivityNotFound = &Error{Kind: KindNotFound}
	// ErrAlreadyEnrolled is returned when the participant already holds a spot.
	ErrAlreadyEnrolled = &Error{Kind: KindAlreadyEnrolled}
	// ErrCapacityExceeded is returned when the activity is at max_participants.
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	// ErrNotEnrolled is returned when unregistering someone who holds no spot.
	ErrNotEnrolled = &Error{Kind: KindNotEnrolled}
	// ErrInvalidInput is returned for requests missing an email.
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
)

// KindOf extracts the ErrorKind from err. The second result is false for
// unexpected failures, which callers treat as internal errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func newError(kind ErrorKind, activity, email string) *Error {
	return &Error{Kind: kind, Activity: activity, Email: email}
}
