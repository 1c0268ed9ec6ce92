package transport

import "sync"

// MemoryPair is a pair of in-memory links whose every event is delivered
// through a caller-supplied post function, typically a loop.Manual's Post.
// Nothing happens concurrently, which makes protocol tests deterministic.
//
// Frames sent while connected are delivered to the peer, then the sender's
// completion runs. Failure injection (FailNext, DropNext) applies to the
// next sends from a given side.
type MemoryPair struct {
	post func(func())

	mu        sync.Mutex
	links     [2]*MemoryLink
	connected bool
}

// MemoryLink is one side of a MemoryPair.
type MemoryLink struct {
	pair *MemoryPair
	id   int

	// guarded by pair.mu
	handler  Handler
	failNext []error
	dropNext int
	sent     [][]byte
	closed   bool
}

// NewMemoryPair creates a disconnected pair.
func NewMemoryPair(post func(func())) *MemoryPair {
	p := &MemoryPair{post: post}
	p.links[0] = &MemoryLink{pair: p, id: 0}
	p.links[1] = &MemoryLink{pair: p, id: 1}
	return p
}

// Link returns side 0 or 1.
func (p *MemoryPair) Link(id int) *MemoryLink {
	return p.links[id&1]
}

// Connect brings the bearer up and posts HandleConnected to both sides.
func (p *MemoryPair) Connect() {
	p.setConnected(true)
}

// Disconnect brings the bearer down and posts HandleDisconnected to both
// sides.
func (p *MemoryPair) Disconnect() {
	p.setConnected(false)
}

func (p *MemoryPair) setConnected(up bool) {
	p.mu.Lock()
	if p.connected == up {
		p.mu.Unlock()
		return
	}
	p.connected = up
	handlers := [2]Handler{p.links[0].handler, p.links[1].handler}
	p.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		h := h
		if up {
			p.post(h.HandleConnected)
		} else {
			p.post(h.HandleDisconnected)
		}
	}
}

// Bind implements Link.
func (l *MemoryLink) Bind(h Handler) {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	l.handler = h
}

// Send implements Link.
func (l *MemoryLink) Send(frame []byte, done func(err error)) {
	if done == nil {
		done = func(error) {}
	}
	data := make([]byte, len(frame))
	copy(data, frame)

	p := l.pair
	p.mu.Lock()
	if !p.connected || l.closed {
		p.mu.Unlock()
		p.post(func() { done(ErrNotConnected) })
		return
	}
	if len(l.failNext) > 0 {
		err := l.failNext[0]
		l.failNext = l.failNext[1:]
		p.mu.Unlock()
		p.post(func() { done(err) })
		return
	}
	l.sent = append(l.sent, data)
	drop := l.dropNext > 0
	if drop {
		l.dropNext--
	}
	peer := p.links[1-l.id].handler
	p.mu.Unlock()

	if !drop && peer != nil {
		p.post(func() { peer.HandleFrame(data) })
	}
	p.post(func() { done(nil) })
}

// Connected implements Link.
func (l *MemoryLink) Connected() bool {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	return l.pair.connected && !l.closed
}

// Close implements Link.
func (l *MemoryLink) Close() error {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	return nil
}

// FailNext makes the next len(errs) sends from this side complete with the
// given errors without delivering anything.
func (l *MemoryLink) FailNext(errs ...error) {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	l.failNext = append(l.failNext, errs...)
}

// DropNext makes the next n sends from this side vanish after being reported
// as consumed, as a frame lost over the air would.
func (l *MemoryLink) DropNext(n int) {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	l.dropNext += n
}

// Sent returns a copy of every frame this side handed to the bearer.
func (l *MemoryLink) Sent() [][]byte {
	l.pair.mu.Lock()
	defer l.pair.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

var _ Link = (*MemoryLink)(nil)
