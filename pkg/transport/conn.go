package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultWriteTimeout bounds how long a single frame may take to be consumed
// by the conn before the send completes with ErrSendTimeout.
const DefaultWriteTimeout = 5 * time.Second

// sendQueueDepth is the number of frames that may wait for the writer.
const sendQueueDepth = 64

// ConnLinkConfig configures a ConnLink.
type ConnLinkConfig struct {
	// Framing selects packet or stream framing. Required.
	Framing Framing

	// WriteTimeout is the per-frame write deadline.
	// Defaults to DefaultWriteTimeout if 0.
	WriteTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// ConnLink implements Link over a net.Conn. A link outlives individual conns:
// Attach brings it up, the conn failing or Detach brings it down, and a new
// conn may be attached afterwards (a developer connection reconnecting).
type ConnLink struct {
	config ConnLinkConfig
	log    logging.LeveledLogger

	mu      sync.Mutex
	handler Handler
	att     *attachment
	closed  bool
}

// attachment is one conn's lifetime on the link.
type attachment struct {
	conn   net.Conn
	sendCh chan outbound
	done   chan struct{}
}

type outbound struct {
	data []byte
	done func(error)
}

// NewConnLink creates a link with no conn attached.
func NewConnLink(config ConnLinkConfig) (*ConnLink, error) {
	if !config.Framing.IsValid() {
		return nil, ErrInvalidFraming
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	l := &ConnLink{config: config}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport")
	}
	return l, nil
}

// Bind implements Link.
func (l *ConnLink) Bind(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Attach brings the link up over conn and starts its read and write loops.
// The handler sees HandleConnected before any frame from conn.
func (l *ConnLink) Attach(conn net.Conn) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.att != nil {
		l.mu.Unlock()
		return ErrAlreadyAttached
	}
	att := &attachment{
		conn:   conn,
		sendCh: make(chan outbound, sendQueueDepth),
		done:   make(chan struct{}),
	}
	l.att = att
	handler := l.handler
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("link up: %s -> %s (%s)", conn.LocalAddr(), conn.RemoteAddr(), l.config.Framing)
	}
	if handler != nil {
		handler.HandleConnected()
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return l.readLoop(att) })
	g.Go(func() error { return l.writeLoop(ctx, att) })
	g.Go(func() error {
		<-ctx.Done()
		return att.conn.Close()
	})

	go func() {
		err := g.Wait()
		l.detached(att, err)
	}()
	return nil
}

// Detach closes the current conn, if any, and waits for the link to report
// the disconnect.
func (l *ConnLink) Detach() {
	l.mu.Lock()
	att := l.att
	l.mu.Unlock()
	if att == nil {
		return
	}
	att.conn.Close()
	<-att.done
}

// Send implements Link.
func (l *ConnLink) Send(frame []byte, done func(err error)) {
	if done == nil {
		done = func(error) {}
	}
	if len(frame) == 0 || len(frame) > message.MaxFrameSize {
		done(ErrSendRejected)
		return
	}

	l.mu.Lock()
	att := l.att
	if att == nil || l.closed {
		l.mu.Unlock()
		done(ErrNotConnected)
		return
	}
	select {
	case att.sendCh <- outbound{data: frame, done: done}:
		l.mu.Unlock()
	default:
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warnf("send queue full, rejecting %d byte frame", len(frame))
		}
		done(ErrSendRejected)
	}
}

// Connected implements Link.
func (l *ConnLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.att != nil
}

// Close implements Link.
func (l *ConnLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	l.Detach()
	return nil
}

func (l *ConnLink) readLoop(att *attachment) error {
	if l.config.Framing == FramingStream {
		reader := message.NewStreamReader(att.conn)
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				return err
			}
			l.deliver(frame)
		}
	}

	buf := make([]byte, message.MaxFrameSize)
	for {
		n, err := att.conn.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		l.deliver(frame)
	}
}

func (l *ConnLink) deliver(frame []byte) {
	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()

	if handler == nil {
		if l.log != nil {
			l.log.Debugf("dropping %d byte frame: no handler bound", len(frame))
		}
		return
	}
	handler.HandleFrame(frame)
}

func (l *ConnLink) writeLoop(ctx context.Context, att *attachment) error {
	var writer *message.StreamWriter
	if l.config.Framing == FramingStream {
		writer = message.NewStreamWriter(att.conn)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ob := <-att.sendCh:
			att.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			var err error
			if writer != nil {
				err = writer.WriteFrame(ob.data)
			} else {
				_, err = att.conn.Write(ob.data)
			}
			ob.done(classifyWriteError(err))
			if err != nil {
				return err
			}
		}
	}
}

// detached runs once both loops have exited. The disconnect is reported
// while l.att still points at att, so a reattach cannot report its connect
// ahead of it.
func (l *ConnLink) detached(att *attachment, cause error) {
	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("link down: %v", cause)
	}
	if handler != nil {
		handler.HandleDisconnected()
	}

	l.mu.Lock()
	if l.att == att {
		l.att = nil
	}
	l.mu.Unlock()

	// No new sends can reach att.sendCh once l.att no longer points at it.
	for drained := false; !drained; {
		select {
		case ob := <-att.sendCh:
			ob.done(ErrNotConnected)
		default:
			drained = true
		}
	}
	close(att.done)
}

func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrSendTimeout
	}
	if errors.Is(err, message.ErrFrameTooLarge) {
		return ErrSendRejected
	}
	return ErrNotConnected
}

var _ Link = (*ConnLink)(nil)
