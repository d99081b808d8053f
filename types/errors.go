package types

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable tag carried by every user-visible error.
type ErrorKind string

const (
	KindAlreadyRunning       ErrorKind = "AlreadyRunning"
	KindUnknownProfile       ErrorKind = "UnknownProfile"
	KindMissingRequiredField ErrorKind = "MissingRequiredField"
	KindUnknownField         ErrorKind = "UnknownField"
	KindNothingToUninstall   ErrorKind = "NothingToUninstall"
	KindCommandFailed        ErrorKind = "CommandFailed"
	KindCancelled            ErrorKind = "Cancelled"
	KindConfigInvalid        ErrorKind = "ConfigInvalid"
	KindDiscoveryUnavailable ErrorKind = "DiscoveryUnavailable"
)

// Error pairs a stable kind tag with a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error with a kind and message.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind tag from an error chain. Untagged errors
// report an empty kind.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind tag.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
