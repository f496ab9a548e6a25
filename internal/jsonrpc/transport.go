package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Send, Call, CallStream, and Stream.Next once the
// underlying channel has closed. It is the transport's terminal error (spec.md §7).
var ErrClosed = errors.New("jsonrpc: channel closed")

// RPCError is a structured failure reported by the helper for a request
// (spec.md §7 RPCError{code,message}).
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc: rpc error %d: %s", e.Code, e.Message)
}

// TimeoutError indicates a Call exceeded its deadline (spec.md §7).
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("jsonrpc: %s: timed out", e.Method)
}

// Frames is the abstraction a Transport needs from the Driver: the ability
// to send an object and a channel of decoded inbound objects. The channel is
// closed exactly once, when the helper's stdout reaches EOF or the driver
// gives up on it; no further sends are attempted afterward.
type Frames interface {
	Send(v any) error
	Frames() <-chan json.RawMessage
}

// pendingCall is the bookkeeping for one outstanding Call or CallStream.
type pendingCall struct {
	ch        chan replyOrErr
	method    string
	multipart bool
}

type replyOrErr struct {
	result json.RawMessage
	more   bool
	err    error
}

// Transport multiplexes replies and notifications arriving from a single
// Frames source, assigning monotonically increasing xids to outgoing calls
// (spec.md §4.2).
type Transport struct {
	frames Frames

	mu       sync.Mutex
	nextXid  uint32
	pending  map[uint32]*pendingCall
	closed   bool
	closeErr error

	notifications chan Notification

	runOnce  sync.Once
	done     chan struct{}
	protoErr error
}

// New creates a Transport reading from frames. Run must be called once
// (typically in its own goroutine) to start dispatching.
func New(frames Frames) *Transport {
	return &Transport{
		frames:        frames,
		pending:       make(map[uint32]*pendingCall),
		notifications: make(chan Notification, 256),
		done:          make(chan struct{}),
	}
}

// Run reads inbound frames until the Frames channel closes, routing replies
// to their waiting Call/CallStream and notifications to Listen. Run returns
// once the Frames channel closes; callers should run it in a goroutine and
// treat its return as "no more events will ever arrive."
func (t *Transport) Run() {
	t.runOnce.Do(func() {
		for raw := range t.frames.Frames() {
			if !t.dispatch(raw) {
				break
			}
		}
		t.closeAll(ErrClosed)
		close(t.notifications)
		close(t.done)
	})
}

// Done returns a channel closed once Run has finished draining.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// ProtocolErr returns the decode failure that made Run stop early, if any.
// Only meaningful after Done() has closed; nil means Run drained the Frames
// channel to a clean close instead (spec.md §7 ProtocolError).
func (t *Transport) ProtocolErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protoErr
}

// dispatch decodes one inbound frame, routing it to a pending Call/
// CallStream or to Listen. It reports false if raw was not a well-formed
// JSON-RPC object — the helper's wire contract promises exactly that per
// frame, so a decode failure is fatal (spec.md §7 ProtocolError) rather than
// a frame to silently skip; Run stops draining once dispatch reports false.
func (t *Transport) dispatch(raw json.RawMessage) bool {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.mu.Lock()
		t.protoErr = fmt.Errorf("jsonrpc: malformed frame: %w", err)
		t.mu.Unlock()
		return false
	}
	if msg.isReply() {
		t.deliverReply(&msg)
		return true
	}
	if msg.Method != "" {
		select {
		case t.notifications <- Notification{Method: msg.Method, Params: msg.Params}:
		default:
			// notification backlog full: drop rather than block the single reader.
		}
	}
	return true
}

func (t *Transport) deliverReply(msg *inbound) {
	t.mu.Lock()
	pc, ok := t.pending[msg.ID]
	if ok && !msg.more() {
		delete(t.pending, msg.ID)
	}
	t.mu.Unlock()

	if !ok {
		return // xid timed out already, or duplicate/unsolicited — discarded per spec.md S3
	}

	var re replyOrErr
	if msg.Error != nil {
		re.err = &RPCError{Code: msg.Error.Code, Message: msg.Error.Message}
	} else {
		re.result = msg.Result
		re.more = msg.more()
	}
	select {
	case pc.ch <- re:
	default:
		// Call/CallStream consumer already gave up (e.g. ctx expired); drop.
	}
}

// allocXid returns the next xid, skipping zero and any xid still outstanding.
// Must be called with t.mu held.
func (t *Transport) allocXid() uint32 {
	for {
		t.nextXid++
		if t.nextXid == 0 {
			continue
		}
		if _, busy := t.pending[t.nextXid]; busy {
			continue
		}
		return t.nextXid
	}
}

// Send transmits method/params with no xid and does not wait for a reply
// (spec.md §4.4 Datapath.send: fire-and-forget). Fails with ErrClosed if the
// transport has already closed.
func (t *Transport) Send(method string, params any) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := t.frames.Send(&request{Method: method, Params: params}); err != nil {
		return fmt.Errorf("jsonrpc: send %s: %w", method, err)
	}
	return nil
}

// Call sends method/params and blocks for a single reply. ctx governs both
// the timeout (TimeoutError on expiry) and cancellation.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	xid, pc, err := t.register(method, false)
	if err != nil {
		return nil, err
	}
	defer t.forget(xid)

	if err := t.frames.Send(&request{ID: xid, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("jsonrpc: send %s: %w", method, err)
	}

	select {
	case re := <-pc.ch:
		if re.err != nil {
			return nil, re.err
		}
		return re.result, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Method: method}
		}
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	}
}

// Stream yields the fragments of a multipart reply in order, terminating
// after the fragment whose "more" flag is absent (spec.md §4.2, S4).
type Stream struct {
	t    *Transport
	xid  uint32
	pc   *pendingCall
	done bool
}

// Next blocks for the next fragment. ok is false once the stream is
// exhausted (the terminal fragment has already been returned); err is
// non-nil only on failure (timeout, RPCError, or ErrClosed).
func (s *Stream) Next(ctx context.Context) (result json.RawMessage, ok bool, err error) {
	if s.done {
		return nil, false, nil
	}
	select {
	case re := <-s.pc.ch:
		if re.err != nil {
			s.t.forget(s.xid)
			s.done = true
			return nil, false, re.err
		}
		if !re.more {
			s.t.forget(s.xid)
			s.done = true
		}
		return re.result, true, nil
	case <-ctx.Done():
		s.t.forget(s.xid)
		s.done = true
		if ctx.Err() == context.DeadlineExceeded {
			return nil, false, &TimeoutError{Method: s.pc.method}
		}
		return nil, false, ctx.Err()
	case <-s.t.done:
		s.done = true
		return nil, false, ErrClosed
	}
}

// CallStream sends a multipart request and returns a Stream of its replies.
// Not restartable: a Stream may be consumed only once, front to back.
func (t *Transport) CallStream(ctx context.Context, method string, params any) (*Stream, error) {
	xid, pc, err := t.register(method, true)
	if err != nil {
		return nil, err
	}
	if err := t.frames.Send(&request{ID: xid, Method: method, Params: params}); err != nil {
		t.forget(xid)
		return nil, fmt.Errorf("jsonrpc: send %s: %w", method, err)
	}
	return &Stream{t: t, xid: xid, pc: pc}, nil
}

// register allocates an xid and pending slot, failing with ErrClosed if the
// transport has already been closed.
func (t *Transport) register(method string, multipart bool) (uint32, *pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nil, ErrClosed
	}
	xid := t.allocXid()
	pc := &pendingCall{ch: make(chan replyOrErr, 1), method: method, multipart: multipart}
	t.pending[xid] = pc
	return xid, pc, nil
}

func (t *Transport) forget(xid uint32) {
	t.mu.Lock()
	delete(t.pending, xid)
	t.mu.Unlock()
}

// Listen returns the channel of notifications not correlated with a pending
// Call — the event stream the Dispatcher consumes. Closed once Run returns.
func (t *Transport) Listen() <-chan Notification {
	return t.notifications
}

// closeAll completes every pending call with err. Called once, from Run,
// after the Frames channel has closed.
func (t *Transport) closeAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeErr = err
	for xid, pc := range t.pending {
		select {
		case pc.ch <- replyOrErr{err: err}:
		default:
		}
		delete(t.pending, xid)
	}
}
