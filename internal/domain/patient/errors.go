package patient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers of the record API.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindDuplicateKey ErrorKind = "duplicate_key"
	KindNotFound     ErrorKind = "not_found"
	KindAuthExpired  ErrorKind = "auth_expired"
	KindUnknown      ErrorKind = "unknown"
)

// Error is a structured failure with a kind and a user-facing message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrDuplicateKey = &Error{Kind: KindDuplicateKey}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrAuthExpired  = &Error{Kind: KindAuthExpired}
	ErrUnknown      = &Error{Kind: KindUnknown}
)

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func DuplicateKeyf(format string, args ...any) *Error {
	return &Error{Kind: KindDuplicateKey, Message: fmt.Sprintf(format, args...)}
}

// Unknown wraps an infrastructure failure.
func Unknown(msg string, err error) *Error {
	return &Error{Kind: KindUnknown, Message: msg, Err: err}
}

// KindOf reports the kind of err; anything that is not an *Error is unknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
