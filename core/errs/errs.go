// Package errs defines the error taxonomy shared by the session and tunnel core.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind. Callers
// branch on the kind with errors.Is against the sentinels below, never on messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller is expected to react.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransport: engine or identity API unreachable or rejected the call. Recoverable.
	KindTransport
	// KindTimeout: a bounded wait expired. The caller may retry the sequence.
	KindTimeout
	// KindPersistence: a preference write failed. In-memory state was rolled back.
	KindPersistence
	// KindInvalidState: the operation conflicts with one already in progress. Rejected, not queued.
	KindInvalidState
	// KindEngine: the network engine could not construct a device handle.
	KindEngine
)

var (
	ErrTransport    = errors.New("transport failure")
	ErrTimeout      = errors.New("timed out")
	ErrPersistence  = errors.New("persistence failure")
	ErrInvalidState = errors.New("invalid state")
	ErrEngine       = errors.New("engine failure")
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindPersistence:
		return "persistence"
	case KindInvalidState:
		return "invalid_state"
	case KindEngine:
		return "engine"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindTimeout:
		return ErrTimeout
	case KindPersistence:
		return ErrPersistence
	case KindInvalidState:
		return ErrInvalidState
	case KindEngine:
		return ErrEngine
	default:
		return nil
	}
}

// Error is a classified failure of operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrTimeout) works
// without unwrapping to a specific cause.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// New wraps err as a failure of the given kind. A nil err still yields a non-nil error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transport(op string, err error) error    { return New(KindTransport, op, err) }
func Timeout(op string, err error) error      { return New(KindTimeout, op, err) }
func Persistence(op string, err error) error  { return New(KindPersistence, op, err) }
func InvalidState(op string, err error) error { return New(KindInvalidState, op, err) }
func Engine(op string, err error) error       { return New(KindEngine, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
