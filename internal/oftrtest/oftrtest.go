// Package oftrtest provides a scripted fake oftr helper used by the root
// zof package's tests (datapath and dispatcher), so they don't reinvent
// their own double. Adapted from the shared-harness role
// enginetest/clitest played for backend compliance suites — here there is
// no variant-backend matrix to run, just one fake wire peer reused across
// packages that would otherwise duplicate it.
package oftrtest

import (
	"encoding/json"
	"sync"
)

// Helper is an in-memory stand-in for the driver's Frames interface
// (Send(v any) error; Frames() <-chan json.RawMessage). Tests push
// canned replies/notifications with Push and inspect what was sent with
// Sent/LastSent.
type Helper struct {
	mu   sync.Mutex
	sent []Sent
	ch   chan json.RawMessage
}

// Sent records one outbound message as the helper would have seen it.
type Sent struct {
	ID     uint32          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// New creates an empty Helper with room for buffered inbound frames.
func New() *Helper {
	return &Helper{ch: make(chan json.RawMessage, 256)}
}

// Send records v as the next Sent entry.
func (h *Helper) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var s Sent
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	h.mu.Lock()
	h.sent = append(h.sent, s)
	h.mu.Unlock()
	return nil
}

// Frames returns the channel tests push canned inbound frames onto.
func (h *Helper) Frames() <-chan json.RawMessage {
	return h.ch
}

// Push injects a raw inbound frame, as if the real helper had written it.
func (h *Helper) Push(raw string) {
	h.ch <- json.RawMessage(raw)
}

// Reply pushes a single non-streaming reply for the given xid.
func (h *Helper) Reply(xid uint32, result string) {
	h.Push(`{"id":` + itoa(xid) + `,"result":` + result + `}`)
}

// Notify pushes a notification with the given method and raw params.
func (h *Helper) Notify(method, params string) {
	h.Push(`{"method":"` + method + `","params":` + params + `}`)
}

// Close signals EOF: no more frames will arrive.
func (h *Helper) Close() {
	close(h.ch)
}

// Sent returns a snapshot of everything sent so far.
func (h *Helper) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Sent, len(h.sent))
	copy(out, h.sent)
	return out
}

// LastSent returns the most recent Sent entry. It panics if nothing has
// been sent yet — tests are expected to wait (e.g. by polling Len) first.
func (h *Helper) LastSent() Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent[len(h.sent)-1]
}

// Len reports how many messages have been sent so far.
func (h *Helper) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
