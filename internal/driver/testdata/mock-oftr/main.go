//go:build ignore

// Command mock-oftr simulates the oftr helper for Driver integration tests.
// It echoes every OFP.REQUEST as a single reply carrying the same params it
// received, fire-and-forgets OFP.SEND (no reply), and writes one line of
// stderr output in each recognized level tag for stderr-forwarding tests.
//
// Environment variables control behavior:
//
//	MOCK_OFTR_MODE=stderr        — emit one [DEBUG]/[ERROR]/[WARN] stderr line, then proceed normally
//	MOCK_OFTR_MODE=crash         — exit(1) immediately without reading stdin
//	MOCK_OFTR_MODE=hang          — never reply to OFP.REQUEST (for timeout tests)
//	MOCK_OFTR_MODE=garbage       — write one malformed JSON line to stdout, then proceed normally
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

type request struct {
	ID     uint32          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
}

func main() {
	mode := os.Getenv("MOCK_OFTR_MODE")

	if mode == "crash" {
		os.Exit(1)
	}
	if mode == "stderr" {
		fmt.Fprintln(os.Stderr, "[DEBUG] starting up")
		fmt.Fprintln(os.Stderr, "[ERROR] simulated problem")
		fmt.Fprintln(os.Stderr, "[WARN] simulated warning")
		fmt.Fprintln(os.Stderr, "unmarked info line")
	}
	if mode == "garbage" {
		fmt.Fprintln(os.Stdout, "not valid json")
	}

	enc := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == 0 {
			continue // OFP.SEND-style notification/fire-and-forget
		}
		if mode == "hang" {
			continue
		}
		_ = enc.Encode(reply{ID: req.ID, Result: req.Params})
	}
}
