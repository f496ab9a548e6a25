package zof

import "encoding/json"

// EventType names an event as dispatched to handlers: either a synthetic
// lifecycle event or an OpenFlow message type forwarded from the helper
// verbatim (spec.md §3, §6).
type EventType string

// Synthetic event types the core recognizes directly (spec.md §6). Any
// other EventType value is an OpenFlow message type name passed through
// from the helper unmodified.
const (
	EventChannelUp    EventType = "CHANNEL_UP"
	EventChannelDown  EventType = "CHANNEL_DOWN"
	EventChannelAlert EventType = "CHANNEL_ALERT"
)

// Event is the tagged union delivered to handlers: a typed envelope with
// an opaque JSON body, left undecoded so the core never has to model
// OpenFlow message layouts (spec.md Design Note "Event as opaque mapping").
type Event struct {
	Type EventType

	// ConnID is set for datapath-scoped events (everything except
	// controller lifecycle events on_start/on_stop/on_exception/on_signal).
	ConnID uint64
	// HasConnID reports whether ConnID is meaningful — zero is a valid
	// connection id, so a bool flag avoids an ambiguous sentinel.
	HasConnID bool

	// Body is the event payload exactly as received from the helper (for
	// forwarded OpenFlow messages) or as synthesized by negotiation (for
	// CHANNEL_UP).
	Body json.RawMessage

	// Exit controls whether a signal-triggered shutdown proceeds.
	// Only meaningful on events delivered to on_signal; handlers may set
	// it to false to veto the default shutdown (spec.md Design Note
	// "Signal handling").
	Exit bool
}
