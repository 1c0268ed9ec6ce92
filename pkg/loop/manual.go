package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is an Executor driven explicitly by the caller against a virtual
// clock. Nothing runs until Drain or Advance is called.
//
// It is safe to Post from other goroutines, but callbacks only execute on the
// goroutine calling Drain/Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64
}

type manualTimer struct {
	state    *timerState
	deadline time.Time
	seq      uint64
	cb       func()
}

// NewManual creates a manual executor whose clock starts at the Unix epoch.
func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0)}
}

// Now returns the current virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post implements Executor.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// AfterFunc implements Executor.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	t := &timerState{}

	m.mu.Lock()
	m.seq++
	mt := &manualTimer{
		state:    t,
		deadline: m.now.Add(d),
		seq:      m.seq,
		cb:       t.wrap(fn),
	}
	m.timers = append(m.timers, mt)
	m.mu.Unlock()

	t.stopFn = func() { m.removeTimer(mt) }
	return t
}

// Drain runs posted callbacks until the queue is empty, including callbacks
// posted while draining. It returns the number of callbacks run.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the virtual clock forward by d. Timers due within the window
// fire in deadline order, each followed by a full Drain, with the clock set to
// the timer's deadline while it runs.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()

	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		mt := m.nextDueLocked(target)
		if mt == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = mt.deadline
		m.mu.Unlock()

		m.Post(mt.cb)
		m.Drain()
	}
}

// PendingTimers returns the number of armed timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// nextDueLocked pops the earliest timer due at or before target.
func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].deadline.Equal(m.timers[j].deadline) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})
	mt := m.timers[0]
	if mt.deadline.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	return mt
}

func (m *Manual) removeTimer(mt *manualTimer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.timers {
		if t == mt {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

var _ Executor = (*Manual)(nil)
