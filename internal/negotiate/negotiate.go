// Package negotiate performs the post-connect handshake described in
// spec.md §4.2: FEATURES_REQUEST and PORT_DESC_REQUEST are issued
// concurrently, and their results are merged into the body that becomes the
// synthesized CHANNEL_UP event. Modeled on the initialize+session handshake
// in engine/acp/process.go's handshake method, generalized from a sequential
// two-step RPC into two concurrent calls merged on success.
package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Caller is the subset of *jsonrpc.Transport negotiate needs. Declared here,
// rather than importing jsonrpc, so this package stays testable with a bare
// function double and has no dependency on the wire layer.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Result is the merged handshake outcome: the fields that populate a
// CHANNEL_UP event body (spec.md §4.2).
type Result struct {
	DatapathID   string          `json:"datapath_id"`
	NBuffers     uint32          `json:"n_buffers"`
	NTables      uint8           `json:"n_tables"`
	Capabilities uint32          `json:"capabilities"`
	Ports        json.RawMessage `json:"ports"`
}

type featuresReply struct {
	DatapathID   string `json:"datapath_id"`
	NBuffers     uint32 `json:"n_buffers"`
	NTables      uint8  `json:"n_tables"`
	Capabilities uint32 `json:"capabilities"`
}

type portDescReply struct {
	Ports json.RawMessage `json:"ports"`
}

// Run issues FEATURES_REQUEST and PORT_DESC_REQUEST concurrently over
// caller and merges their results. If either call fails, Run returns the
// error; the caller is expected to log it at debug level (with a
// correlation id, see NewCorrelationID) and drop the connection silently,
// per spec.md §4.2's "negotiation failure" behavior — Run itself does not
// log, to keep it independent of any particular logger/handler.
func Run(ctx context.Context, caller Caller, connID uint64, version uint8) (Result, error) {
	var features featuresReply
	var portDesc portDescReply

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := caller.Call(gctx, "OFP.REQUEST", requestParams(connID, version, "FEATURES_REQUEST"))
		if err != nil {
			return fmt.Errorf("features_request: %w", err)
		}
		if err := json.Unmarshal(raw, &features); err != nil {
			return fmt.Errorf("features_request: decode reply: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		raw, err := caller.Call(gctx, "OFP.REQUEST", requestParams(connID, version, "PORT_DESC_REQUEST"))
		if err != nil {
			return fmt.Errorf("port_desc_request: %w", err)
		}
		if err := json.Unmarshal(raw, &portDesc); err != nil {
			return fmt.Errorf("port_desc_request: decode reply: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		DatapathID:   features.DatapathID,
		NBuffers:     features.NBuffers,
		NTables:      features.NTables,
		Capabilities: features.Capabilities,
		Ports:        portDesc.Ports,
	}, nil
}

// requestParams builds the conn_id-scoped envelope every OFP.REQUEST needs
// so the helper can route it to the right connection (spec.md §4.2), in the
// same {"conn_id", "msg"} shape datapath.go's scopedParams uses for
// post-negotiation requests.
func requestParams(connID uint64, version uint8, reqType string) map[string]any {
	return map[string]any{
		"conn_id": connID,
		"msg": map[string]any{
			"version": version,
			"type":    reqType,
		},
	}
}

// NewCorrelationID returns an id for tagging a failed negotiation's debug
// log line, so repeated attempts against the same datapath can be told
// apart in a helper's log stream even though conn_id may be reused after
// the connection is torn down (spec.md Open Question: conn_id reuse).
func NewCorrelationID() string {
	return uuid.NewString()
}

// LogFailure writes the standard debug-level log line for a dropped
// negotiation attempt (spec.md §4.2, §7: negotiation failure drops the
// connection silently from the handler's point of view, but is still
// observable in logs).
func LogFailure(log *slog.Logger, connID uint64, err error) {
	log.Debug("negotiation failed, dropping connection",
		"conn_id", connID,
		"correlation_id", NewCorrelationID(),
		"error", err,
	)
}
