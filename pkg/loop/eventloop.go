package loop

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
)

// EventLoopConfig configures an EventLoop.
type EventLoopConfig struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// EventLoop runs posted callbacks one at a time on a single goroutine.
// The queue is unbounded so Post never blocks the poster, which matters for
// link read loops posting inbound frames.
type EventLoop struct {
	log logging.LeveledLogger

	mu      sync.Mutex
	queue   []func()
	wakeCh  chan struct{}
	doneCh  chan struct{}
	running bool
	closed  bool
}

// NewEventLoop creates a stopped event loop. Call Run to start it.
func NewEventLoop(config EventLoopConfig) *EventLoop {
	l := &EventLoop{
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("loop")
	}
	return l
}

// Post implements Executor. Callbacks posted after Stop are dropped.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// AfterFunc implements Executor.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &timerState{}
	cb := t.wrap(fn)
	wall := time.AfterFunc(d, func() { l.Post(cb) })
	t.stopFn = func() { wall.Stop() }
	return t
}

// Run processes callbacks until ctx is cancelled or Stop is called.
// It returns ErrAlreadyRunning if the loop is already running and ErrStopped
// if the loop has been stopped.
func (l *EventLoop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStopped
	}
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Debug("event loop running")
	}

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.doneCh:
			return nil
		case <-l.wakeCh:
		}
	}
}

// Stop terminates Run and discards queued callbacks. It is idempotent.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.doneCh)
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

var _ Executor = (*EventLoop)(nil)
