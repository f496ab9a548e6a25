package negotiate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	connIDs []uint64
	reply   map[string]json.RawMessage
	err     map[string]error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		reply: make(map[string]json.RawMessage),
		err:   make(map[string]error),
	}
}

func (f *fakeCaller) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b, _ := json.Marshal(params)
	var p struct {
		ConnID uint64 `json:"conn_id"`
		Msg    struct {
			Type string `json:"type"`
		} `json:"msg"`
	}
	_ = json.Unmarshal(b, &p)

	f.mu.Lock()
	f.calls = append(f.calls, p.Msg.Type)
	f.connIDs = append(f.connIDs, p.ConnID)
	f.mu.Unlock()

	if err, ok := f.err[p.Msg.Type]; ok {
		return nil, err
	}
	return f.reply[p.Msg.Type], nil
}

func TestRunMergesFeaturesAndPortDesc(t *testing.T) {
	fc := newFakeCaller()
	fc.reply["FEATURES_REQUEST"] = json.RawMessage(`{"datapath_id":"00:00:00:00:00:00:00:01","n_buffers":256,"n_tables":254,"capabilities":15}`)
	fc.reply["PORT_DESC_REQUEST"] = json.RawMessage(`{"ports":[{"port_no":1}]}`)

	res, err := Run(context.Background(), fc, 1, 4)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.DatapathID != "00:00:00:00:00:00:00:01" {
		t.Fatalf("DatapathID = %q", res.DatapathID)
	}
	if res.NBuffers != 256 || res.NTables != 254 || res.Capabilities != 15 {
		t.Fatalf("unexpected features fields: %+v", res)
	}
	if string(res.Ports) != `[{"port_no":1}]` {
		t.Fatalf("Ports = %s", res.Ports)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.calls) != 2 {
		t.Fatalf("expected 2 concurrent calls, got %d: %v", len(fc.calls), fc.calls)
	}
	for _, id := range fc.connIDs {
		if id != 1 {
			t.Fatalf("call routed with conn_id = %d, want 1", id)
		}
	}
}

func TestRunFailsOnFeaturesError(t *testing.T) {
	fc := newFakeCaller()
	fc.err["FEATURES_REQUEST"] = errors.New("helper unreachable")
	fc.reply["PORT_DESC_REQUEST"] = json.RawMessage(`{"ports":[]}`)

	_, err := Run(context.Background(), fc, 1, 4)
	if err == nil {
		t.Fatal("Run() error = nil, want non-nil")
	}
}

func TestRunFailsOnPortDescError(t *testing.T) {
	fc := newFakeCaller()
	fc.reply["FEATURES_REQUEST"] = json.RawMessage(`{"datapath_id":"x","n_buffers":1,"n_tables":1,"capabilities":0}`)
	fc.err["PORT_DESC_REQUEST"] = errors.New("timeout")

	_, err := Run(context.Background(), fc, 1, 4)
	if err == nil {
		t.Fatal("Run() error = nil, want non-nil")
	}
}

func TestLogFailureIncludesConnIDAndCorrelationID(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))

	LogFailure(log, 7, errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "conn_id=7") {
		t.Fatalf("missing conn_id in log: %s", out)
	}
	if !strings.Contains(out, "correlation_id=") {
		t.Fatalf("missing correlation_id in log: %s", out)
	}
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == b {
		t.Fatal("NewCorrelationID() returned the same value twice")
	}
}

