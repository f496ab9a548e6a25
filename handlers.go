package zof

import (
	"context"
	"strings"
)

// Handler is one registered event handler, in exactly one of two forms
// (spec.md §4.5, Design Note "Asynchronous handlers"):
//
//   - Sync runs inline on the dispatcher's single logical thread and must
//     not block.
//   - Async is spawned as a task in the datapath's (or controller's) task
//     group; the dispatcher starts it and confirms it has begun running
//     before moving on to the next event, then lets it continue
//     concurrently.
//
// Exactly one of Sync/Async should be set; constructing via SyncHandler or
// AsyncHandler enforces this.
type Handler struct {
	Sync  func(dp *Datapath, ev Event) error
	Async func(ctx context.Context, dp *Datapath, ev Event) error
}

// SyncHandler wraps fn as an inline handler.
func SyncHandler(fn func(dp *Datapath, ev Event) error) Handler {
	return Handler{Sync: fn}
}

// AsyncHandler wraps fn as a task-spawning handler.
func AsyncHandler(fn func(ctx context.Context, dp *Datapath, ev Event) error) Handler {
	return Handler{Async: fn}
}

func (h Handler) isZero() bool { return h.Sync == nil && h.Async == nil }

// Handlers is the capability set a Controller user implements: each field
// is independently optional. This stands in for the source's name-based
// method lookup on a user class (spec.md Design Note "Runtime polymorphism
// of handlers") — the table below is built once at construction, never by
// reflecting on names at dispatch time.
type Handlers struct {
	// OnStart is invoked once before the dispatch loop begins. If it
	// returns an error, Run aborts without entering the loop.
	OnStart func(ctx context.Context) error
	// OnStop is invoked once during shutdown, after all datapaths have
	// received CHANNEL_DOWN and the controller task group has joined.
	OnStop func(ctx context.Context) error
	// OnException receives every error escaping a handler (sync or
	// async), wrapped as *HandlerError. Must not itself block or panic;
	// failures here are logged only (spec.md invariant 8).
	OnException func(err *HandlerError)
	// OnSignal is invoked for each received exit signal, translated into
	// an in-band event (spec.md Design Note "Signal handling"). Setting
	// ev.Exit = false vetoes the default shutdown for that signal.
	OnSignal func(ev *Event)

	// OnChannelUp is invoked once a connection completes negotiation.
	OnChannelUp Handler
	// OnChannelDown is invoked once a connection has fully torn down.
	OnChannelDown Handler
	// OnChannelAlert is invoked for helper-reported CHANNEL_ALERT events.
	OnChannelAlert Handler

	// Messages maps a lowercased OpenFlow message type (e.g. "packet_in")
	// to its handler. Stands in for per-message on_<type> methods.
	Messages map[string]Handler
	// OnMessage is the fallback used when Messages has no entry for the
	// incoming event's type (spec.md §4.5).
	OnMessage Handler
}

// resolve selects the handler for ev, following spec.md §4.5's lookup
// order: named synthetic handler, else a registered per-message handler,
// else the generic fallback.
func (h Handlers) resolve(ev Event) (Handler, bool) {
	switch ev.Type {
	case EventChannelUp:
		if !h.OnChannelUp.isZero() {
			return h.OnChannelUp, true
		}
	case EventChannelDown:
		if !h.OnChannelDown.isZero() {
			return h.OnChannelDown, true
		}
	case EventChannelAlert:
		if !h.OnChannelAlert.isZero() {
			return h.OnChannelAlert, true
		}
	}
	if handler, ok := h.Messages[strings.ToLower(string(ev.Type))]; ok {
		return handler, true
	}
	return h.OnMessage, !h.OnMessage.isZero()
}
