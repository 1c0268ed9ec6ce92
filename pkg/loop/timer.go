package loop

import "sync"

// timerState is shared by both executors. The callback wrapper consults it
// when it is dequeued, so a timer stopped after expiry but before execution
// never runs.
type timerState struct {
	mu      sync.Mutex
	stopped bool
	fired   bool
	stopFn  func()
}

// Stop implements Timer.
func (t *timerState) Stop() bool {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.stopped = true
	stopFn := t.stopFn
	t.mu.Unlock()

	if stopFn != nil {
		stopFn()
	}
	return true
}

// claim marks the timer as fired. It returns false if the timer was stopped
// first, in which case the callback must not run.
func (t *timerState) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.fired = true
	return true
}

// wrap returns the callback to enqueue on expiry.
func (t *timerState) wrap(fn func()) func() {
	return func() {
		if t.claim() {
			fn()
		}
	}
}
