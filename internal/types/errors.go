package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the actors.
type ErrorKind string

const (
	// KindConfiguration means a required resource (store, model) is not ready.
	KindConfiguration ErrorKind = "configuration"
	// KindValidation means the caller supplied malformed input.
	KindValidation ErrorKind = "validation"
	// KindInternal covers unexpected failures, closed mailboxes and dropped replies.
	KindInternal ErrorKind = "internal"
	// KindTimeout means the caller stopped waiting for a reply.
	KindTimeout ErrorKind = "timeout"
	// KindRetrieval covers embedding and vector store failures.
	KindRetrieval ErrorKind = "retrieval"
	// KindRateLimited is reserved for an external limiter and never raised here.
	KindRateLimited ErrorKind = "rate_limited"
)

var (
	// ErrNotReady is wrapped by configuration errors for resources that failed to load.
	ErrNotReady = errors.New("not ready")
	// ErrMailboxClosed is wrapped when an actor has stopped accepting messages.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrNoReply is wrapped when an actor dropped a request without answering.
	ErrNoReply = errors.New("reply channel closed without a value")
)

// Error is the typed error returned across every actor boundary.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error. A nil cause gets a generic message so Error() never
// prints "<nil>".
func NewError(kind ErrorKind, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigurationError wraps err as a configuration failure.
func ConfigurationError(op string, err error) error { return NewError(KindConfiguration, op, err) }

// ValidationError builds a validation failure from a message.
func ValidationError(op, format string, args ...any) error {
	return NewError(KindValidation, op, fmt.Errorf(format, args...))
}

// InternalError wraps err as an internal failure.
func InternalError(op string, err error) error { return NewError(KindInternal, op, err) }

// TimeoutError wraps err as a caller-side timeout.
func TimeoutError(op string, err error) error { return NewError(KindTimeout, op, err) }

// RetrievalError wraps err as a retrieval failure.
func RetrievalError(op string, err error) error { return NewError(KindRetrieval, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain, or KindInternal
// for untyped errors. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
