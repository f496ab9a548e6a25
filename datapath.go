package zof

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/byllyfish/zofgo/internal/jsonrpc"
	"github.com/byllyfish/zofgo/internal/taskgroup"
)

// Datapath is a live OpenFlow switch connection (spec.md §3, §4.4). It is
// created once negotiation completes and removed once CHANNEL_DOWN has
// been fully processed; a *Datapath must never be reused across that
// boundary. Modeled on engine/acp/process.go's process type, generalized
// from a single request-response session to the request/request_all/send
// surface spec.md §4.4 requires.
type Datapath struct {
	connID  uint64
	dpid    string
	version uint8
	// features and ports are the raw merged negotiation results, exposed
	// read-only via accessors (spec.md Design Note "Event as opaque
	// mapping" — applied here too, since OpenFlow feature/port layouts
	// are equally out of scope to model statically).
	features json.RawMessage
	ports    json.RawMessage

	transport *jsonrpc.Transport
	tasks     *taskgroup.Group

	closed atomic.Bool
}

// newDatapath wraps an established connection. tasks is the datapath-scoped
// task group created by the connection state machine; its lifetime equals
// the connection's.
func newDatapath(connID uint64, dpid string, version uint8, features, ports json.RawMessage, transport *jsonrpc.Transport, tasks *taskgroup.Group) *Datapath {
	return &Datapath{
		connID:    connID,
		dpid:      dpid,
		version:   version,
		features:  features,
		ports:     ports,
		transport: transport,
		tasks:     tasks,
	}
}

// ConnID returns the connection id, unique among currently-live datapaths
// (satisfies internal/registry.Entry).
func (dp *Datapath) ConnID() uint64 { return dp.connID }

// DPID returns the canonical 64-bit datapath identifier, e.g.
// "00:00:00:00:00:00:00:01".
func (dp *Datapath) DPID() string { return dp.dpid }

// Version returns the negotiated OpenFlow wire version.
func (dp *Datapath) Version() uint8 { return dp.version }

// Features returns the raw FEATURES_REQUEST reply merged into CHANNEL_UP.
func (dp *Datapath) Features() json.RawMessage { return dp.features }

// Ports returns the raw PORT_DESC_REQUEST reply merged into CHANNEL_UP.
func (dp *Datapath) Ports() json.RawMessage { return dp.ports }

// Closed reports whether this datapath has begun (or finished) its closing
// transition.
func (dp *Datapath) Closed() bool { return dp.closed.Load() }

// Send transmits msg to the helper for this connection without waiting for
// a reply (spec.md §4.4). Fails with ErrClosed if the datapath is closed —
// it never reaches the helper in that case (spec.md invariant 7).
func (dp *Datapath) Send(msg any) error {
	if dp.closed.Load() {
		return ErrClosed
	}
	if err := dp.transport.Send("OFP.SEND", dp.scopedParams(msg)); err != nil {
		return translateTransportErr(err)
	}
	return nil
}

// Request sends msg and blocks for a single reply (spec.md §4.4).
func (dp *Datapath) Request(ctx context.Context, msg any) (json.RawMessage, error) {
	if dp.closed.Load() {
		return nil, ErrClosed
	}
	result, err := dp.transport.Call(ctx, "OFP.REQUEST", dp.scopedParams(msg))
	if err != nil {
		return nil, translateTransportErr(err)
	}
	return result, nil
}

// ReplyStream yields the fragments of a multipart reply in order, exactly
// as produced by internal/jsonrpc.Stream (spec.md §4.4 request_all, S4).
type ReplyStream struct {
	s *jsonrpc.Stream
}

// Next blocks for the next fragment; ok is false once the stream has been
// fully consumed.
func (rs *ReplyStream) Next(ctx context.Context) (json.RawMessage, bool, error) {
	result, ok, err := rs.s.Next(ctx)
	if err != nil {
		return nil, false, translateTransportErr(err)
	}
	return result, ok, nil
}

// RequestAll sends msg expecting a multipart reply (spec.md §4.4).
func (dp *Datapath) RequestAll(ctx context.Context, msg any) (*ReplyStream, error) {
	if dp.closed.Load() {
		return nil, ErrClosed
	}
	s, err := dp.transport.CallStream(ctx, "OFP.REQUEST", dp.scopedParams(msg))
	if err != nil {
		return nil, translateTransportErr(err)
	}
	return &ReplyStream{s: s}, nil
}

// CreateTask adds fn to this datapath's task group; it is cancelled when
// the connection tears down (spec.md §4.4, §5).
func (dp *Datapath) CreateTask(fn func(ctx context.Context) error) {
	dp.tasks.Go(fn)
}

// Close requests the helper drop this connection, triggering the closing
// transition (spec.md §4.4). It does not itself wait for CHANNEL_DOWN.
func (dp *Datapath) Close() error {
	if dp.closed.Swap(true) {
		return nil
	}
	err := dp.transport.Send("OFP.CLOSE", map[string]uint64{"conn_id": dp.connID})
	if err != nil {
		return translateTransportErr(err)
	}
	return nil
}

// scopedParams merges this datapath's conn_id into an outgoing message so
// the helper can route it, without requiring callers to set conn_id
// themselves.
func (dp *Datapath) scopedParams(msg any) map[string]any {
	return map[string]any{"conn_id": dp.connID, "msg": msg}
}

// translateTransportErr maps internal/jsonrpc's sentinel/typed errors onto
// the root package's equivalents, so callers never need to import
// internal/jsonrpc to use errors.Is/As.
func translateTransportErr(err error) error {
	switch e := err.(type) {
	case *jsonrpc.RPCError:
		return &RPCError{Code: e.Code, Message: e.Message}
	case *jsonrpc.TimeoutError:
		return &TimeoutError{Method: e.Method}
	}
	if errors.Is(err, jsonrpc.ErrClosed) {
		return ErrClosed
	}
	return err
}
