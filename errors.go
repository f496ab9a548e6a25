package zof

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Datapath operations attempted after the
// underlying channel or connection has closed (spec.md §7 "ClosedError").
var ErrClosed = errors.New("zof: closed")

// StartupError indicates the helper could not be launched or the TLS
// configuration is incomplete (spec.md §7). Run does not check listen
// endpoints or OpenFlow versions itself; a helper that rejects them and
// exits is reported as a *ProtocolError.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("zof: startup: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// RPCError is returned by Datapath.Request/RequestAll when the helper
// reports a structured error for a request (spec.md §7).
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("zof: rpc error %d: %s", e.Code, e.Message) }

// TimeoutError is returned when an RPC call's ctx deadline expires before a
// reply arrives (spec.md §7). For Datapath.Request/RequestAll that deadline
// is the one on the caller's ctx; Config.RPCTimeout applies only to
// negotiation.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("zof: timeout: %s", e.Method) }

// HandlerError wraps a panic or error value recovered from a user handler,
// tagged with the event type and connection id it was dispatched for
// (spec.md §7). It is the argument passed to on_exception.
type HandlerError struct {
	EventType string
	ConnID    uint64
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("zof: handler %q (conn_id=%d): %v", e.EventType, e.ConnID, e.Err)
}
func (e *HandlerError) Unwrap() error { return e.Err }

// ProtocolError indicates the helper produced malformed JSON or an
// unrecognized framing; it is fatal and aborts Controller.Run (spec.md §7).
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("zof: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }
