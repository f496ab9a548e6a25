package zof

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// Default configuration values (spec.md §6).
const (
	defaultRPCTimeout    = 5 * time.Second
	defaultShutdownGrace = 3 * time.Second
	defaultOftrPath      = "oftr"
)

var defaultListenVersions = []uint8{4}

var defaultExitSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Config holds a Controller's construction-time configuration. It is
// immutable once a Controller has started (spec.md §3).
type Config struct {
	// ListenEndpoints are ordered host:port addresses oftr should accept
	// switch connections on. Empty disables listening.
	ListenEndpoints []string

	// ListenVersions restricts the OpenFlow versions offered to switches.
	// Defaults to {4} (OpenFlow 1.3).
	ListenVersions []uint8

	// ExitSignals are the OS signals that request graceful shutdown.
	// Defaults to SIGINT and SIGTERM.
	ExitSignals []os.Signal

	// TLSCertFile, TLSKeyFile, TLSCACertFile configure a TLS listener in
	// oftr. Leaving all three empty disables TLS.
	TLSCertFile   string
	TLSKeyFile    string
	TLSCACertFile string

	// OftrPath is the oftr binary, resolved via PATH if not absolute.
	OftrPath string

	// OftrArgs are additional opaque arguments appended to the oftr
	// invocation, passed through unchanged.
	OftrArgs []string

	// RPCTimeout bounds the FEATURES_REQUEST/PORT_DESC_REQUEST negotiation
	// that follows a helper CHANNEL_UP. Defaults to 5s. Datapath.Request and
	// Datapath.RequestAll do not apply it; they are bounded only by the ctx
	// their caller passes.
	RPCTimeout time.Duration

	// ShutdownGrace bounds how long Run's shutdown waits for handler tasks
	// to join before abandoning them with a warning (spec.md §4.6, §5). It
	// is also the Driver's grace period for the helper to exit.
	ShutdownGrace time.Duration

	// Logger receives structured logs for the controller and its helper
	// subprocess. A nil Logger is replaced with one that discards
	// everything, matching the "silent by default" convention, unless
	// ZOFDEBUG is set, in which case it writes debug-level text to stderr.
	Logger *slog.Logger

	// Observe, if set, receives a copy of every event as it is dispatched
	// (spec.md §4.5 events, fed through eventfilter.go's composable
	// middleware for external taps — monitoring, logging, tests). Sends
	// are non-blocking; a full or nil channel simply misses events.
	Observe chan<- Event
}

// ConfigOption configures a Config at construction time.
type ConfigOption func(*Config)

// WithListenEndpoints sets the ordered host:port addresses oftr listens on.
func WithListenEndpoints(endpoints ...string) ConfigOption {
	return func(c *Config) {
		c.ListenEndpoints = endpoints
	}
}

// WithOFVersions restricts the OpenFlow versions offered to switches.
// An empty list is ignored and keeps the default.
func WithOFVersions(versions ...uint8) ConfigOption {
	return func(c *Config) {
		if len(versions) > 0 {
			c.ListenVersions = versions
		}
	}
}

// WithExitSignals sets the OS signals that request graceful shutdown.
func WithExitSignals(signals ...os.Signal) ConfigOption {
	return func(c *Config) {
		if len(signals) > 0 {
			c.ExitSignals = signals
		}
	}
}

// WithTLS configures a TLS listener in oftr. All three paths are required
// together; an incomplete triple is a configuration error surfaced at
// Controller start.
func WithTLS(certFile, keyFile, caCertFile string) ConfigOption {
	return func(c *Config) {
		c.TLSCertFile = certFile
		c.TLSKeyFile = keyFile
		c.TLSCACertFile = caCertFile
	}
}

// WithOftrPath sets the oftr binary path. Values are ignored if empty.
func WithOftrPath(path string) ConfigOption {
	return func(c *Config) {
		if path != "" {
			c.OftrPath = path
		}
	}
}

// WithOftrArgs sets additional opaque arguments passed through to oftr.
func WithOftrArgs(args ...string) ConfigOption {
	return func(c *Config) {
		c.OftrArgs = args
	}
}

// WithRPCTimeout sets the deadline for CHANNEL_UP negotiation requests
// (see Config.RPCTimeout). Values <= 0 are ignored.
func WithRPCTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		if d > 0 {
			c.RPCTimeout = d
		}
	}
}

// WithShutdownGrace sets how long Run's shutdown waits for handler tasks to
// join before abandoning them. Values <= 0 are ignored.
func WithShutdownGrace(d time.Duration) ConfigOption {
	return func(c *Config) {
		if d > 0 {
			c.ShutdownGrace = d
		}
	}
}

// WithLogger sets the structured logger for the controller and its helper
// subprocess.
func WithLogger(log *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithObserver sets a channel that receives a copy of every dispatched
// event, for external taps built with eventfilter.go's Filter.
func WithObserver(ch chan<- Event) ConfigOption {
	return func(c *Config) {
		c.Observe = ch
	}
}

// errIncompleteTLS is returned by validateTLS when exactly one or two of
// Config's three TLS paths are set.
var errIncompleteTLS = errors.New("zof: WithTLS requires cert, key, and cacert together")

// validateTLS checks the "all three or none" invariant WithTLS documents.
// Called once at Controller start (spec.md §7 StartupError).
func validateTLS(c Config) error {
	n := 0
	for _, s := range []string{c.TLSCertFile, c.TLSKeyFile, c.TLSCACertFile} {
		if s != "" {
			n++
		}
	}
	if n != 0 && n != 3 {
		return errIncompleteTLS
	}
	return nil
}

// resolveConfig applies opts over the documented defaults (spec.md §6).
func resolveConfig(opts ...ConfigOption) Config {
	c := Config{
		ListenVersions: defaultListenVersions,
		ExitSignals:    defaultExitSignals,
		OftrPath:       defaultOftrPath,
		RPCTimeout:     defaultRPCTimeout,
		ShutdownGrace:  defaultShutdownGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	return c
}

// defaultLogger returns the logger used when no WithLogger option is given:
// silent, unless ZOFDEBUG requests debug-level output to stderr (spec.md §6).
func defaultLogger() *slog.Logger {
	if envDebugEnabled() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// envDebugEnabled reports whether ZOFDEBUG is set to a truthy value.
func envDebugEnabled() bool {
	v := os.Getenv("ZOFDEBUG")
	return v != "" && v != "0"
}
