package zof

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/byllyfish/zofgo/internal/jsonrpc"
	"github.com/byllyfish/zofgo/internal/negotiate"
	"github.com/byllyfish/zofgo/internal/registry"
	"github.com/byllyfish/zofgo/internal/taskgroup"
)

// channelUpParams is the raw helper notification that triggers negotiation
// (spec.md §4.4 state machine: "[absent] --helper CHANNEL_UP--> [negotiating]").
// It is distinct from the synthesized CHANNEL_UP event dispatched to
// handlers once negotiation completes.
type channelUpParams struct {
	ConnID   uint64 `json:"conn_id"`
	Version  uint8  `json:"version"`
	Endpoint string `json:"endpoint"`
}

// dispatcher consumes the Transport's notification stream, runs the
// per-connection negotiation state machine, and invokes Handlers in
// helper-emission order (spec.md §4.5).
type dispatcher struct {
	handlers  Handlers
	transport *jsonrpc.Transport
	registry  *registry.Registry[*Datapath]
	ctrlTasks *taskgroup.Group
	cfg       Config
	log       *slog.Logger
	observe   chan<- Event

	// cancelRun requests Run's shutdown once a signal's handler leaves
	// ev.Exit set (see handleSignal). Nil in tests that drive the
	// dispatcher directly without a Controller.
	cancelRun context.CancelFunc
}

func newDispatcher(handlers Handlers, transport *jsonrpc.Transport, reg *registry.Registry[*Datapath], ctrlTasks *taskgroup.Group, cfg Config) *dispatcher {
	return &dispatcher{
		handlers:  handlers,
		transport: transport,
		registry:  reg,
		ctrlTasks: ctrlTasks,
		cfg:       cfg,
		log:       cfg.Logger,
		observe:   cfg.Observe,
	}
}

// publish non-blockingly tees ev to the configured observer, if any.
func (d *dispatcher) publish(ev Event) {
	if d.observe == nil {
		return
	}
	select {
	case d.observe <- ev:
	default:
	}
}

// run drains notifications until ctx is cancelled (shutdown requested) or
// the Transport closes (helper exited) — whichever comes first (spec.md
// §4.6 "enter dispatch loop"). signals is merged into the same select so an
// exit signal is handled as just another serialized event, never from a
// goroutine running concurrently with a handler (spec.md Design Note
// "Signal handling").
func (d *dispatcher) run(ctx context.Context, signals <-chan os.Signal) {
	notifications := d.transport.Listen()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			d.handleNotification(ctx, n)
		case sig := <-signals:
			if d.handleSignal(sig) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleSignal runs on_signal inline, on the dispatcher's own goroutine, so
// it is mutually exclusive with every other handler invocation (spec.md §5).
// It reports whether the signal should proceed to shut down the dispatch
// loop; a handler may veto that by clearing ev.Exit.
func (d *dispatcher) handleSignal(sig os.Signal) bool {
	ev := &Event{Exit: true}
	if d.handlers.OnSignal != nil {
		d.handlers.OnSignal(ev)
	}
	if ev.Exit && d.cancelRun != nil {
		d.cancelRun()
	}
	return ev.Exit
}

func (d *dispatcher) handleNotification(ctx context.Context, n jsonrpc.Notification) {
	if n.Method != "OFP.MESSAGE" {
		return // unrecognized notification method; nothing in spec.md §6 names another
	}

	var env struct {
		Type   string `json:"type"`
		ConnID uint64 `json:"conn_id"`
	}
	if err := json.Unmarshal(n.Params, &env); err != nil {
		d.log.Debug("dropping malformed OFP.MESSAGE params", "error", err)
		return
	}

	switch env.Type {
	case "CHANNEL_UP":
		d.beginNegotiation(ctx, n.Params, env.ConnID)
	case "CHANNEL_DOWN":
		d.teardown(ctx, env.ConnID)
	default:
		d.dispatchToDatapath(env.ConnID, EventType(env.Type), n.Params)
	}
}

// beginNegotiation spawns the concurrent FEATURES_REQUEST/PORT_DESC_REQUEST
// handshake as a controller task so the dispatch loop is free to process
// events for other connections while it runs (spec.md §4.4).
func (d *dispatcher) beginNegotiation(ctx context.Context, raw json.RawMessage, connID uint64) {
	var up channelUpParams
	if err := json.Unmarshal(raw, &up); err != nil {
		d.log.Debug("dropping malformed CHANNEL_UP", "error", err)
		return
	}

	d.ctrlTasks.Go(func(ctx context.Context) error {
		negCtx, cancel := context.WithTimeout(ctx, d.cfg.RPCTimeout)
		defer cancel()

		result, err := negotiate.Run(negCtx, d.transport, connID, up.Version)
		if err != nil {
			negotiate.LogFailure(d.log, connID, err)
			return nil // negotiation failure drops the connection silently (spec.md §4.4)
		}

		body, err := json.Marshal(struct {
			ConnID     uint64          `json:"conn_id"`
			Version    uint8           `json:"version"`
			Endpoint   string          `json:"endpoint"`
			DatapathID string          `json:"datapath_id"`
			NBuffers   uint32          `json:"n_buffers"`
			NTables    uint8           `json:"n_tables"`
			Ports      json.RawMessage `json:"ports"`
		}{
			ConnID: connID, Version: up.Version, Endpoint: up.Endpoint,
			DatapathID: result.DatapathID, NBuffers: result.NBuffers,
			NTables: result.NTables, Ports: result.Ports,
		})
		if err != nil {
			d.log.Debug("failed marshaling synthesized CHANNEL_UP body", "conn_id", connID, "error", err)
			return nil
		}

		dg := taskgroup.New(ctx)
		features, _ := json.Marshal(struct {
			DatapathID   string `json:"datapath_id"`
			NBuffers     uint32 `json:"n_buffers"`
			NTables      uint8  `json:"n_tables"`
			Capabilities uint32 `json:"capabilities"`
		}{result.DatapathID, result.NBuffers, result.NTables, result.Capabilities})

		dp := newDatapath(connID, result.DatapathID, up.Version, features, result.Ports, d.transport, dg)
		if !d.registry.Insert(dp) {
			// conn_id already live: the helper contract promises uniqueness
			// while a connection is live (spec.md §4.3); treat a collision
			// as a dropped negotiation rather than corrupting existing state.
			dg.Close()
			d.log.Debug("conn_id collision, dropping negotiated connection", "conn_id", connID)
			return nil
		}

		ev := Event{Type: EventChannelUp, ConnID: connID, HasConnID: true, Body: body}
		d.publish(ev)
		if handler, found := d.handlers.resolve(ev); found {
			d.invoke(dg, handler, dp, ev)
		}
		return nil
	})
}

// teardown cancels and joins the datapath's task group, then dispatches
// CHANNEL_DOWN (spec.md §4.4, invariant 2: every datapath-scoped task is
// cancelled before the CHANNEL_DOWN handler returns).
func (d *dispatcher) teardown(ctx context.Context, connID uint64) {
	dp, ok := d.registry.Remove(connID)
	if !ok {
		return // never finished negotiating, or already torn down
	}
	dp.closed.Store(true)
	dp.tasks.Close()

	body, _ := json.Marshal(struct {
		ConnID uint64 `json:"conn_id"`
	}{connID})
	ev := Event{Type: EventChannelDown, ConnID: connID, HasConnID: true, Body: body}
	d.publish(ev)
	if handler, found := d.handlers.resolve(ev); found {
		d.invoke(d.ctrlTasks, handler, dp, ev)
	}
}

// dispatchToDatapath handles CHANNEL_ALERT and any forwarded OpenFlow
// message type (spec.md §4.5 step 1): a ready datapath must be found, or
// the event is dropped and logged.
func (d *dispatcher) dispatchToDatapath(connID uint64, eventType EventType, raw json.RawMessage) {
	dp, ok := d.registry.Get(connID)
	if !ok {
		d.log.Debug("dropping event for unready/unknown datapath", "conn_id", connID, "type", eventType)
		return
	}

	ev := Event{Type: eventType, ConnID: connID, HasConnID: true, Body: raw}
	d.publish(ev)

	handler, found := d.handlers.resolve(ev)
	if !found {
		return // no handler and no on_message fallback registered; silent discard
	}
	d.invoke(dp.tasks, handler, dp, ev)
}

// invoke runs handler for ev, routing its error (if any) to on_exception
// (spec.md §4.5 step 4, invariant 8). Sync handlers run inline; async
// handlers are spawned in group, and invoke blocks until the task has
// actually begun running — the Go-idiomatic reading of spec.md's "begins
// executing up to its first suspension point before the next dispatch"
// (true coroutine-step semantics aren't available without a CPS rewrite,
// so a start rendezvous is the practical equivalent here).
func (d *dispatcher) invoke(group *taskgroup.Group, handler Handler, dp *Datapath, ev Event) {
	if handler.isZero() {
		return
	}
	if handler.Sync != nil {
		d.runSync(handler.Sync, dp, ev)
		return
	}

	started := make(chan struct{})
	group.Go(func(ctx context.Context) error {
		close(started)
		d.runAsync(ctx, handler.Async, dp, ev)
		return nil
	})
	<-started
}

func (d *dispatcher) runSync(fn func(dp *Datapath, ev Event) error, dp *Datapath, ev Event) {
	defer d.recoverPanic(ev)
	if err := fn(dp, ev); err != nil {
		d.reportException(ev, err)
	}
}

func (d *dispatcher) runAsync(ctx context.Context, fn func(ctx context.Context, dp *Datapath, ev Event) error, dp *Datapath, ev Event) {
	defer d.recoverPanic(ev)
	if err := fn(ctx, dp, ev); err != nil {
		d.reportException(ev, err)
	}
}

func (d *dispatcher) recoverPanic(ev Event) {
	if r := recover(); r != nil {
		d.reportException(ev, fmt.Errorf("panic: %v", r))
	}
}

// reportException delivers err to on_exception, tagged per spec.md §7
// HandlerError. on_exception's own failures are logged only, never
// recursed into on_exception again (invariant 8).
func (d *dispatcher) reportException(ev Event, err error) {
	herr := &HandlerError{EventType: string(ev.Type), ConnID: ev.ConnID, Err: err}
	if d.handlers.OnException == nil {
		d.log.Error("unhandled handler error", "event", ev.Type, "conn_id", ev.ConnID, "error", err)
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("on_exception panicked", "error", r)
			}
		}()
		d.handlers.OnException(herr)
	}()
}
