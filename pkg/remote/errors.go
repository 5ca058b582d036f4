package remote

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure at the remote config boundary.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnavailable means the service could not be reached.
	KindUnavailable
	// KindInvalidValue means the value violates its declared range or step.
	KindInvalidValue
	// KindUnauthorized means the caller lacks permission.
	KindUnauthorized
	// KindNotLoaded means a mutation was attempted before the cache entry loaded.
	KindNotLoaded
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindInvalidValue:
		return "invalid value"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotLoaded:
		return "not loaded"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidValue = errors.New("invalid value")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotLoaded    = errors.New("not loaded")
)

// Error is the error type returned across the remote boundary and by the
// cache layer built on top of it.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// NewError builds an *Error.
func NewError(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

func (e *Error) Error() string {
	prefix := e.Op
	if e.Key != "" {
		prefix = fmt.Sprintf("%s %s", e.Op, e.Key)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := sentinel(e.Kind)
	return s != nil && target == s
}

func sentinel(k Kind) error {
	switch k {
	case KindUnavailable:
		return ErrUnavailable
	case KindInvalidValue:
		return ErrInvalidValue
	case KindUnauthorized:
		return ErrUnauthorized
	case KindNotLoaded:
		return ErrNotLoaded
	default:
		return nil
	}
}

// KindOf extracts the Kind of err. Context deadline and cancellation are
// reported as KindUnavailable since the transport never completed.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	return KindUnknown
}

// Wrap attaches op and key to err. An *Error passed in directly is returned
// as is when it already names an operation.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*Error); ok {
		if re.Op != "" {
			return re
		}
		return &Error{Kind: re.Kind, Op: op, Key: key, Err: re.Err}
	}
	return &Error{Kind: KindOf(err), Op: op, Key: key, Err: err}
}
