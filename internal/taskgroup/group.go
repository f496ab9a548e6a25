// Package taskgroup provides scoped, cancellable groups of goroutines.
//
// A Group has exactly one of two lifetimes in zofgo: it either spans a
// Controller's Run call, or a single Datapath's connection. Closing a
// group cancels every task it holds and blocks until all of them return.
package taskgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs tasks under a shared cancellable context and joins them on Close.
//
// Group wraps [errgroup.Group] with an explicit [context.CancelFunc]: plain
// errgroup only cancels its derived context when a task returns a non-nil
// error, but zofgo needs to cancel on an external event (CHANNEL_DOWN,
// controller shutdown) regardless of whether any task has failed.
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Group deriving its context from parent.
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: ctx, cancel: cancel}
}

// Context returns the group's context. It is done once Cancel is called or
// any task started with Go returns a non-nil error.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn in a new goroutine belonging to the group. fn should observe
// g.Context() at its suspension points and return promptly once it is done.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		return fn(g.ctx)
	})
}

// Cancel cancels the group's context. It does not wait for tasks to exit —
// call Wait (or Close) afterwards to join them.
func (g *Group) Cancel() {
	g.cancel()
}

// Wait blocks until every task started with Go has returned, and returns the
// first non-nil error among them (if any). Wait may be called only once.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Close cancels the group and waits for every task to finish, discarding any
// task errors (tasks are expected to report their own failures via
// on_exception; Close is used purely for lifecycle teardown).
func (g *Group) Close() {
	g.cancel()
	_ = g.eg.Wait()
}
