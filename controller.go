package zof

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/byllyfish/zofgo/internal/driver"
	"github.com/byllyfish/zofgo/internal/jsonrpc"
	"github.com/byllyfish/zofgo/internal/oftrargs"
	"github.com/byllyfish/zofgo/internal/registry"
	"github.com/byllyfish/zofgo/internal/taskgroup"
)

// Controller is the top-level runtime: one Driver, one RPC Transport, one
// Registry, one Dispatcher, and one controller-scoped task group (spec.md
// §3). Multiple Controllers may coexist in a process — there is no
// module-level mutable state (spec.md Design Note "Global / process-wide
// state").
type Controller struct {
	cfg      Config
	handlers Handlers

	drv       *driver.Driver
	transport *jsonrpc.Transport
	registry  *registry.Registry[*Datapath]
	tasks     *taskgroup.Group
	disp      *dispatcher

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
}

// New constructs a Controller. It does not spawn the helper; call Run to
// start it.
func New(handlers Handlers, opts ...ConfigOption) *Controller {
	return &Controller{
		cfg:      resolveConfig(opts...),
		handlers: handlers,
	}
}

// Config returns the controller's resolved, immutable configuration
// (spec.md §4.6 get_config).
func (c *Controller) Config() Config { return c.cfg }

// CreateTask adds fn to the controller-scoped task group. Valid only while
// Run is active.
func (c *Controller) CreateTask(fn func(ctx context.Context) error) {
	c.tasks.Go(fn)
}

// Run performs the full lifecycle: start the helper, negotiate nothing yet,
// install signal handlers, call on_start, dispatch until shutdown, then
// tear everything down (spec.md §4.6). It blocks until shutdown completes.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancelRun = cancelRun
	c.cancelMu.Unlock()
	defer cancelRun()

	args := oftrargs.BuildArgs(oftrargs.Options{
		ListenEndpoints: c.cfg.ListenEndpoints,
		OFVersions:      c.cfg.ListenVersions,
		TLSCertFile:     c.cfg.TLSCertFile,
		TLSKeyFile:      c.cfg.TLSKeyFile,
		TLSCACertFile:   c.cfg.TLSCACertFile,
		ExtraArgs:       c.cfg.OftrArgs,
	})

	if err := validateTLS(c.cfg); err != nil {
		return &StartupError{Err: err}
	}

	drv, err := driver.Start(driver.Options{
		Path:        c.cfg.OftrPath,
		Args:        args,
		Framing:     driver.FramingLines,
		GracePeriod: c.cfg.ShutdownGrace,
		Logger:      c.cfg.Logger,
	})
	if err != nil {
		return &StartupError{Err: err}
	}
	c.drv = drv

	c.transport = jsonrpc.New(drv)
	go c.transport.Run()

	c.registry = registry.New[*Datapath]()
	c.tasks = taskgroup.New(runCtx)
	c.disp = newDispatcher(c.handlers, c.transport, c.registry, c.tasks, c.cfg)
	c.disp.cancelRun = cancelRun

	sigCh := c.installSignalHandlers()
	defer signal.Stop(sigCh)

	if c.handlers.OnStart != nil {
		if err := c.handlers.OnStart(runCtx); err != nil {
			c.shutdown(context.Background())
			return fmt.Errorf("zof: on_start: %w", err)
		}
	}

	c.disp.run(runCtx, sigCh)

	// If the dispatch loop exited because the helper's frame stream closed
	// or the Transport stopped on its own (not because Run's ctx was
	// cancelled), that's a crashed/misbehaving helper rather than a
	// requested shutdown (spec.md §7 ProtocolError): either the Driver
	// surfaced a non-nil exit error, or the Transport itself gave up on a
	// malformed frame.
	var helperErr error
	if runCtx.Err() == nil {
		helperErr = c.drv.Err()
		if helperErr == nil {
			helperErr = c.transport.ProtocolErr()
		}
	}

	shutdownErr := c.shutdown(context.Background())
	if helperErr != nil {
		return &ProtocolError{Err: helperErr}
	}
	return shutdownErr
}

// installSignalHandlers begins relaying c.cfg.ExitSignals onto a channel the
// dispatcher's own select loop drains (see dispatcher.run/handleSignal) —
// on_signal runs serialized with every other handler invocation instead of
// from an independent goroutine (spec.md Design Note "Signal handling").
func (c *Controller) installSignalHandlers() chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, c.cfg.ExitSignals...)
	return sigCh
}

// shutdown closes every live datapath (emitting CHANNEL_DOWN for each),
// joins the controller task group, calls on_stop, and stops the Driver
// (spec.md §4.6). It is idempotent-safe to call once per Run and tolerates
// a nil Driver if startup never completed.
func (c *Controller) shutdown(ctx context.Context) error {
	grace, cancel := context.WithTimeout(ctx, c.cfg.ShutdownGrace)
	defer cancel()

	for _, dp := range c.registry.Iterate() {
		c.disp.teardown(grace, dp.connID)
	}

	c.joinWithGrace(grace)

	var stopErr error
	if c.handlers.OnStop != nil {
		stopErr = c.handlers.OnStop(ctx)
	}

	if c.drv != nil {
		if err := c.drv.Stop(grace); err != nil && stopErr == nil {
			stopErr = err
		}
	}
	return stopErr
}

// joinWithGrace waits for the controller task group to finish, abandoning
// orphaned tasks past the grace deadline with a logged warning (spec.md §5
// "join deadline after which orphan tasks are abandoned").
func (c *Controller) joinWithGrace(grace context.Context) {
	done := make(chan struct{})
	go func() {
		c.tasks.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-grace.Done():
		c.cfg.Logger.Warn("shutdown grace period elapsed with tasks still running; abandoning them")
	}
}

// Stop requests a graceful shutdown as if an exit signal had been received.
// Safe to call from any goroutine; it is a no-op if Run has not been
// called or has already returned.
func (c *Controller) Stop() {
	c.cancelMu.Lock()
	cancel := c.cancelRun
	c.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
}
