// Package oftrargs builds the argv and environment for the oftr helper
// subprocess (spec.md §4.1, §6). Grounded on engine/cli/engine.go's
// spawnCmd/env-resolution pattern: argument construction stays pure (easy
// to unit test without spawning anything) and is handed to the driver
// package, which owns the actual exec.Cmd.
package oftrargs

import "os"

// Options mirrors the subset of zof.Config that shapes the oftr invocation.
type Options struct {
	// ListenEndpoints are addresses oftr should listen on for switch
	// connections, e.g. "6653" or "0.0.0.0:6653".
	ListenEndpoints []string
	// OFVersions restricts the offered OpenFlow versions, e.g. []uint8{1,4}
	// for OpenFlow 1.0 and 1.3. Empty means oftr's own default.
	OFVersions []uint8
	// TLSCertFile / TLSKeyFile / TLSCACertFile configure a TLS listener in
	// oftr; all three empty means plaintext.
	TLSCertFile   string
	TLSKeyFile    string
	TLSCACertFile string
	// ExtraArgs are appended verbatim after the constructed flags, for
	// escape-hatch options oftrargs doesn't model directly.
	ExtraArgs []string
}

// BuildArgs constructs the oftr argv, starting with the fixed "jsonrpc"
// subcommand that puts oftr into the line-delimited-JSON RPC mode this
// driver speaks.
func BuildArgs(opts Options) []string {
	args := []string{"jsonrpc"}

	for _, ep := range opts.ListenEndpoints {
		args = append(args, "--listen", ep)
	}
	for _, v := range opts.OFVersions {
		args = append(args, "--version", versionFlag(v))
	}
	if opts.TLSCertFile != "" {
		args = append(args, "--tls-cert", opts.TLSCertFile)
	}
	if opts.TLSKeyFile != "" {
		args = append(args, "--tls-privkey", opts.TLSKeyFile)
	}
	if opts.TLSCACertFile != "" {
		args = append(args, "--tls-cacert", opts.TLSCACertFile)
	}
	if debugEnabled() {
		args = append(args, "--trace=rpc")
	}

	return append(args, opts.ExtraArgs...)
}

// versionFlag renders an OpenFlow wire version (1, 4, 5, 6, ...) the way
// oftr's --version flag expects it ("1.0", "1.3", "1.4", "1.5").
func versionFlag(v uint8) string {
	switch v {
	case 1:
		return "1.0"
	case 2:
		return "1.1"
	case 3:
		return "1.2"
	case 4:
		return "1.3"
	case 5:
		return "1.4"
	case 6:
		return "1.5"
	default:
		return "1.3"
	}
}

// debugEnabled reports whether ZOFDEBUG is set to a truthy value, which
// enables oftr's own --trace=rpc wire logging in addition to the elevated
// slog level a caller should configure separately (spec.md §7).
func debugEnabled() bool {
	v := os.Getenv("ZOFDEBUG")
	return v != "" && v != "0"
}
