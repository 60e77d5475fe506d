package fragmux

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Event is an asynchronous request delivered to the client coordinator.
type Event int

const (
	// EventWake starts a session when the coordinator is idle.
	EventWake Event = iota + 1
	// EventTerminate ends the client.
	EventTerminate
)

func (e Event) String() string {
	switch e {
	case EventWake:
		return "wake"
	case EventTerminate:
		return "terminate"
	}
	return "unknown"
}

// NotifyEvents converts the client's signals into events: SIGINT wakes,
// SIGUSR1 and SIGTERM terminate. A terminate also cancels the returned
// context so that a session in progress is interrupted. Wakes arriving while
// one is already queued are dropped. Call stop to restore default signal
// handling.
func NotifyEvents(parent context.Context) (ctx context.Context, events <-chan Event, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 4)
	setSignalsForEvents(sigs)
	out := make(chan Event, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				ev := EventWake
				if sig != os.Interrupt {
					ev = EventTerminate
					cancel()
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return ctx, out, func() {
		signal.Stop(sigs)
		cancel()
		<-done
	}
}

// NotifyShutdown returns a context cancelled by SIGINT or SIGTERM, the
// server's termination signals.
func NotifyShutdown(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	setSignalsForServer(sigs)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// isTermination reports whether err is the way a cancelled or orphaned
// client finds out it has to stop, rather than a failure.
func isTermination(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrRemoved) ||
		errors.Is(err, syscall.EPIPE)
}
