package transport

import (
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeTick is how often queued frames cross the pipe.
const pipeTick = time.Millisecond

// NetworkCondition degrades a Pipe so tests can reach the retry and
// timeout paths of a lossy bearer.
type NetworkCondition struct {
	// DropRate is the probability of silently dropping a frame (0.0 - 1.0).
	// The sender still sees the frame as consumed.
	DropRate float64

	// DelayMin and DelayMax bound a uniform per-frame write delay.
	DelayMin time.Duration
	DelayMax time.Duration
}

// delay returns a write delay drawn from the condition's range.
func (c NetworkCondition) delay() time.Duration {
	if c.DelayMax <= c.DelayMin {
		return c.DelayMin
	}
	return c.DelayMin + rand.N(c.DelayMax-c.DelayMin)
}

// Pipe is an in-memory packet bearer standing in for the Bluetooth link.
// It is a pion test.Bridge pumped by a background goroutine.
type Pipe struct {
	bridge    *test.Bridge
	condition atomic.Pointer[NetworkCondition]

	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPipe creates a pipe with a perfect link.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stop:   make(chan struct{}),
	}
	p.condition.Store(&NetworkCondition{})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pipeTick)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				for p.bridge.Tick() > 0 {
				}
			}
		}
	}()
	return p
}

// SetCondition applies cond to frames written from now on, in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.condition.Store(&cond)
}

// Conn returns the packet conn of end 0 or 1.
func (p *Pipe) Conn(end int) net.Conn {
	conn := p.bridge.GetConn1()
	if end == 0 {
		conn = p.bridge.GetConn0()
	}
	return &lossyConn{Conn: conn, pipe: p}
}

// Close stops delivery and closes both ends. It is idempotent.
func (p *Pipe) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()
		err0 := p.bridge.GetConn0().Close()
		err1 := p.bridge.GetConn1().Close()
		if err0 != nil {
			err = err0
		} else {
			err = err1
		}
	})
	return err
}

// lossyConn applies the pipe's NetworkCondition on write.
type lossyConn struct {
	net.Conn
	pipe *Pipe
}

func (c *lossyConn) Write(b []byte) (int, error) {
	cond := *c.pipe.condition.Load()
	if cond.DropRate > 0 && rand.Float64() < cond.DropRate {
		return len(b), nil
	}
	if d := cond.delay(); d > 0 {
		time.Sleep(d)
	}
	return c.Conn.Write(b)
}

// PipeLinks wires a ConnLink onto each end of a new auto-processing pipe.
// The links come up immediately; closing the pipe brings both down.
func PipeLinks(config ConnLinkConfig, h0, h1 Handler) (*Pipe, *ConnLink, *ConnLink, error) {
	config.Framing = FramingPacket

	l0, err := NewConnLink(config)
	if err != nil {
		return nil, nil, nil, err
	}
	l1, err := NewConnLink(config)
	if err != nil {
		return nil, nil, nil, err
	}
	l0.Bind(h0)
	l1.Bind(h1)

	p := NewPipe()
	if err := l0.Attach(p.Conn(0)); err != nil {
		p.Close()
		return nil, nil, nil, err
	}
	if err := l1.Attach(p.Conn(1)); err != nil {
		l0.Close()
		p.Close()
		return nil, nil, nil, err
	}
	return p, l0, l1, nil
}
