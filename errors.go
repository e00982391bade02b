package teensymonitor

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured error carrying the failing operation, a coarse
// Kind for programmatic dispatch, the originating errno when applicable,
// and a human-readable message.
type Error struct {
	Op    string // operation that failed, e.g. "open", "write", "decode"
	Kind  Kind
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("teensymonitor: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("teensymonitor: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// Kind is a coarse error category covering every recoverable failure mode
// a session can report: transport open/read/write, decoder resync/bloat,
// handshake cancellation, and consumer-callback panics.
type Kind string

const (
	KindOpenFailed         Kind = "open failed"
	KindReadTransient      Kind = "transient read error"
	KindReadCancelled      Kind = "read cancelled"
	KindWriteFailed        Kind = "write failed"
	KindDecodeResync       Kind = "decoder resync"
	KindDecodeBloat        Kind = "decoder buffer bloat"
	KindHandshakeCancelled Kind = "handshake cancelled"
	KindConsumerPanic      Kind = "consumer callback panicked"
)

// NewError builds a structured error with no errno or wrapped cause.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewErrnoError builds a structured error from a syscall errno, using the
// errno's own text as the message.
func NewErrnoError(op string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// WrapError attaches op/kind context to an arbitrary error, classifying
// syscall.Errno causes automatically.
func WrapError(op string, kind Kind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if te, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: kind, Errno: te.Errno, Msg: te.Msg, Inner: te.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Kind: kind, Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Kind: kind, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
