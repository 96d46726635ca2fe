// Package errs defines the runtime's logical error taxonomy as typed,
// wrappable errors so callers can distinguish failure classes with
// errors.As instead of string matching.
package errs

import "fmt"

// ValidationError reports an invalid identifier, topic, or duplicate
// registration.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("validation: %s", e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError.
func NewValidation(msg string) *ValidationError { return &ValidationError{Msg: msg} }

// LookupError reports an unknown agent type, subscription id, or
// unregistered serialization pair.
type LookupError struct {
	Msg string
}

func (e *LookupError) Error() string { return fmt.Sprintf("lookup: %s", e.Msg) }

func NewLookup(msg string) *LookupError { return &LookupError{Msg: msg} }

// NotAccessibleError reports an attempt to reach a remote agent
// instance through a local-only accessor.
type NotAccessibleError struct {
	Msg string
}

func (e *NotAccessibleError) Error() string { return fmt.Sprintf("not accessible: %s", e.Msg) }

func NewNotAccessible(msg string) *NotAccessibleError { return &NotAccessibleError{Msg: msg} }

// TypeMismatchError reports that a factory produced an instance of a
// different runtime-visible type than it declared.
type TypeMismatchError struct {
	Expected, Got string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %q, got %q", e.Expected, e.Got)
}

// CantHandleError reports that a recipient has no handler for a
// message type.
type CantHandleError struct {
	Msg string
}

func (e *CantHandleError) Error() string { return fmt.Sprintf("cannot handle: %s", e.Msg) }

func NewCantHandle(msg string) *CantHandleError { return &CantHandleError{Msg: msg} }

// UndeliverableError reports that a message had no recipient or was
// dropped by an intervention handler.
type UndeliverableError struct {
	Msg string
}

func (e *UndeliverableError) Error() string { return fmt.Sprintf("undeliverable: %s", e.Msg) }

func NewUndeliverable(msg string) *UndeliverableError { return &UndeliverableError{Msg: msg} }

// MessageDroppedError reports an explicit intervention-chain drop.
type MessageDroppedError struct {
	Reason string
}

func (e *MessageDroppedError) Error() string { return fmt.Sprintf("message dropped: %s", e.Reason) }

func NewMessageDropped(reason string) *MessageDroppedError {
	return &MessageDroppedError{Reason: reason}
}

// CancelledError reports that an operation observed token
// cancellation before completion.
type CancelledError struct {
	Msg string
}

func (e *CancelledError) Error() string {
	if e.Msg == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", e.Msg)
}

func NewCancelled(msg string) *CancelledError { return &CancelledError{Msg: msg} }

// SerializationError reports a codec failure at the wire boundary.
type SerializationError struct {
	Msg string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serialization: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("serialization: %s", e.Msg)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func NewSerialization(msg string, err error) *SerializationError {
	return &SerializationError{Msg: msg, Err: err}
}

// RemoteError wraps an error string that crossed a distributed
// host/worker boundary, where the original Go error type cannot
// survive the wire.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("remote: %s", e.Msg) }

func NewRemote(msg string) *RemoteError { return &RemoteError{Msg: msg} }
