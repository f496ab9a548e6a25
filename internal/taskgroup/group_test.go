package taskgroup

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupCancelStopsTasks(t *testing.T) {
	g := New(context.Background())

	started := make(chan struct{})
	stopped := make(chan struct{})
	g.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil
	})

	<-started
	g.Cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestGroupCloseIsIdempotentAndJoins(t *testing.T) {
	g := New(context.Background())

	done := make(chan struct{})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return nil
	})

	g.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close() returned before task finished")
	}

	g.Close() // a second Close must return without blocking or panicking
}

func TestGroupWaitReturnsFirstError(t *testing.T) {
	g := New(context.Background())
	want := errors.New("boom")

	g.Go(func(ctx context.Context) error {
		return want
	})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); !errors.Is(err, want) {
		t.Fatalf("Wait() = %v, want %v", err, want)
	}
}

func TestGroupContextCancelledByTaskError(t *testing.T) {
	g := New(context.Background())
	want := errors.New("fail fast")

	g.Go(func(ctx context.Context) error {
		return want
	})

	select {
	case <-g.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("group context was not cancelled after task error")
	}
	_ = g.Wait()
}
