package zof

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/byllyfish/zofgo/internal/jsonrpc"
	"github.com/byllyfish/zofgo/internal/oftrtest"
	"github.com/byllyfish/zofgo/internal/taskgroup"
)

const dpTestTimeout = 2 * time.Second

func newTestDatapath(t *testing.T) (*Datapath, *oftrtest.Helper) {
	t.Helper()
	h := oftrtest.New()
	tr := jsonrpc.New(h)
	go tr.Run()
	t.Cleanup(h.Close)

	tg := taskgroup.New(context.Background())
	t.Cleanup(tg.Close)

	dp := newDatapath(1, "00:00:00:00:00:00:00:01", 4,
		json.RawMessage(`{"n_buffers":256}`), json.RawMessage(`[{"port_no":1}]`), tr, tg)
	return dp, h
}

func TestDatapathSendIncludesConnID(t *testing.T) {
	dp, h := newTestDatapath(t)

	if err := dp.Send(map[string]string{"type": "PACKET_OUT"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.Now().Add(dpTestTimeout)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sent := h.LastSent()
	var params struct {
		ConnID uint64 `json:"conn_id"`
	}
	if err := json.Unmarshal(sent.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.ConnID != 1 {
		t.Fatalf("conn_id = %d, want 1", params.ConnID)
	}
}

func TestDatapathSendFailsWhenClosed(t *testing.T) {
	dp, h := newTestDatapath(t)
	if err := dp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := dp.Send(map[string]string{"type": "X"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Close() = %v, want ErrClosed", err)
	}
	if h.Len() != 1 { // only the OFP.CLOSE from Close() itself
		t.Fatalf("Send() after Close() reached the helper: sent count = %d", h.Len())
	}
}

func TestDatapathRequestRoundTrip(t *testing.T) {
	dp, h := newTestDatapath(t)

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dpTestTimeout)
		defer cancel()
		res, err := dp.Request(ctx, map[string]string{"type": "FLOW_STATS_REQUEST"})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	deadline := time.Now().Add(dpTestTimeout)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Reply(h.LastSent().ID, `{"flows":[]}`)

	select {
	case res := <-resultCh:
		if string(res) != `{"flows":[]}` {
			t.Fatalf("Request() result = %s", res)
		}
	case err := <-errCh:
		t.Fatalf("Request() error = %v", err)
	case <-time.After(dpTestTimeout):
		t.Fatal("timed out waiting for Request result")
	}
}

func TestDatapathRequestAllMultipart(t *testing.T) {
	dp, h := newTestDatapath(t)

	streamCh := make(chan *ReplyStream, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dpTestTimeout)
		defer cancel()
		s, err := dp.RequestAll(ctx, map[string]string{"type": "FLOW_STATS_REQUEST"})
		if err != nil {
			t.Errorf("RequestAll() error = %v", err)
			return
		}
		streamCh <- s
	}()

	deadline := time.Now().Add(dpTestTimeout)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	xid := h.LastSent().ID
	h.Push(`{"id":` + itoaTest(xid) + `,"result":{"n":1},"flags":["more"]}`)
	h.Push(`{"id":` + itoaTest(xid) + `,"result":{"n":2}}`)

	s := <-streamCh
	ctx, cancel := context.WithTimeout(context.Background(), dpTestTimeout)
	defer cancel()

	_, ok, err := s.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next() #1 = (_, %v, %v)", ok, err)
	}
	_, ok, err = s.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next() #2 = (_, %v, %v)", ok, err)
	}
	_, ok, err = s.Next(ctx)
	if err != nil || ok {
		t.Fatalf("Next() #3 = (_, %v, %v), want ok=false", ok, err)
	}
}

func TestDatapathCreateTaskRunsInDatapathGroup(t *testing.T) {
	dp, _ := newTestDatapath(t)

	done := make(chan struct{})
	dp.CreateTask(func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(dpTestTimeout):
		t.Fatal("task never ran")
	}
}

func itoaTest(n uint32) string {
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
