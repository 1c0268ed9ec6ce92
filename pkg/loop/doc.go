// Package loop provides the single-task execution context that the messaging
// state machines run on.
//
// Every state transition of an appmessage.Channel or a postmessage.Session
// executes on one Executor. Link callbacks arriving from other goroutines are
// posted onto it, and timers (ACK timeout, retry delay, session-closed queue
// timeout) fire onto it, so the state machines need no locks of their own.
//
// Two executors are provided:
//
//   - EventLoop runs callbacks on a dedicated goroutine using wall-clock timers.
//   - Manual runs callbacks only when driven by Drain or Advance, against a
//     virtual clock. Tests use it to step the protocol deterministically.
package loop

import "time"

// Executor serializes callbacks onto a single logical task.
type Executor interface {
	// Post schedules fn to run on the executor after the callbacks already
	// queued. It never runs fn synchronously.
	Post(fn func())

	// AfterFunc schedules fn to run on the executor once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable single-shot timer.
type Timer interface {
	// Stop prevents the callback from running. It returns true if the call
	// stopped the timer, false if the callback already ran or the timer was
	// already stopped.
	//
	// A timer that has expired but whose callback is still queued on the
	// executor counts as not yet run: Stop returns true and the callback is
	// skipped when dequeued.
	Stop() bool
}
