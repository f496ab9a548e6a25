package oftrargs

import (
	"slices"
	"testing"
)

func TestBuildArgsListenAndVersion(t *testing.T) {
	args := BuildArgs(Options{
		ListenEndpoints: []string{"6653"},
		OFVersions:      []uint8{4, 1},
	})
	want := []string{"jsonrpc", "--listen", "6653", "--version", "1.3", "--version", "1.0"}
	if !slices.Equal(args, want) {
		t.Fatalf("BuildArgs() = %v, want %v", args, want)
	}
}

func TestBuildArgsTLS(t *testing.T) {
	args := BuildArgs(Options{
		TLSCertFile:   "cert.pem",
		TLSKeyFile:    "key.pem",
		TLSCACertFile: "ca.pem",
	})
	want := []string{"jsonrpc", "--tls-cert", "cert.pem", "--tls-privkey", "key.pem", "--tls-cacert", "ca.pem"}
	if !slices.Equal(args, want) {
		t.Fatalf("BuildArgs() = %v, want %v", args, want)
	}
}

func TestBuildArgsDebugTrace(t *testing.T) {
	t.Setenv("ZOFDEBUG", "1")
	args := BuildArgs(Options{})
	if !slices.Contains(args, "--trace=rpc") {
		t.Fatalf("BuildArgs() = %v, want --trace=rpc present", args)
	}
}

func TestBuildArgsDebugDisabledByDefault(t *testing.T) {
	t.Setenv("ZOFDEBUG", "")
	args := BuildArgs(Options{})
	if slices.Contains(args, "--trace=rpc") {
		t.Fatalf("BuildArgs() = %v, want --trace=rpc absent", args)
	}
}

func TestBuildArgsExtraArgsAppendedLast(t *testing.T) {
	args := BuildArgs(Options{ExtraArgs: []string{"--foo", "bar"}})
	want := []string{"jsonrpc", "--foo", "bar"}
	if !slices.Equal(args, want) {
		t.Fatalf("BuildArgs() = %v, want %v", args, want)
	}
}

func TestVersionFlagUnknownDefaultsTo13(t *testing.T) {
	if got := versionFlag(99); got != "1.3" {
		t.Fatalf("versionFlag(99) = %q, want 1.3", got)
	}
}
