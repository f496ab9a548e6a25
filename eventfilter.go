package zof

import "context"

// Filter returns a channel that only passes events of the given types, read
// from an observer channel set up via WithObserver. Spawns a goroutine that
// exits when ctx is cancelled or ch closes; the returned channel is closed
// when the goroutine exits. Adapted from the teacher's filter package,
// retargeted from agentrun.Message to Event.
func Filter(ctx context.Context, ch <-chan Event, types ...EventType) <-chan Event {
	allowed := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(ev Event) bool {
		_, ok := allowed[ev.Type]
		return ok
	})
}

// Lifecycle returns a channel that passes only the synthetic connection
// lifecycle events (CHANNEL_UP, CHANNEL_DOWN, CHANNEL_ALERT), dropping
// forwarded OpenFlow messages.
func Lifecycle(ctx context.Context, ch <-chan Event) <-chan Event {
	return pipe(ctx, ch, func(ev Event) bool {
		switch ev.Type {
		case EventChannelUp, EventChannelDown, EventChannelAlert:
			return true
		default:
			return false
		}
	})
}

// Messages returns a channel that passes only forwarded OpenFlow messages,
// dropping the synthetic lifecycle events.
func Messages(ctx context.Context, ch <-chan Event) <-chan Event {
	return pipe(ctx, ch, func(ev Event) bool {
		switch ev.Type {
		case EventChannelUp, EventChannelDown, EventChannelAlert:
			return false
		default:
			return true
		}
	})
}

// pipe spawns a goroutine that reads from ch, passes events matching the
// predicate to the returned channel, and closes it when ch closes or ctx
// is cancelled. Callers must either drain the returned channel or cancel
// ctx to avoid goroutine leaks.
func pipe(ctx context.Context, ch <-chan Event, accept func(Event) bool) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if accept(ev) && !trySend(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends ev on out, returning true on success or false if ctx is
// cancelled before the send completes.
func trySend(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
