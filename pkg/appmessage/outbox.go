package appmessage

import (
	"time"

	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/pion/logging"
)

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	// Link carries PUSH frames. Required.
	Link transport.Link

	// Executor runs timer callbacks and link completions. Required.
	Executor loop.Executor

	// SizeLimit is the transmission size limit, header included.
	// Defaults to DefaultSizeLimit if 0.
	SizeLimit int

	// AckTimeout bounds the wait for an ACK or NACK.
	// Defaults to DefaultAckTimeout if 0.
	AckTimeout time.Duration

	// Backoff configures the sleep applied to a BUSY Begin.
	Backoff BackoffConfig

	// Sleep blocks the caller of a BUSY Begin. Defaults to time.Sleep.
	Sleep func(time.Duration)

	// OnSent is called once a message was consumed by the link and ACKed.
	OnSent func()

	// OnFailed is called once a message failed: ErrSendRejected (NACK),
	// ErrSendTimeout or ErrNotConnected.
	OnFailed func(err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *OutboxConfig) validate() error {
	if c.Link == nil {
		return ErrMissingLink
	}
	if c.Executor == nil {
		return ErrMissingExecutor
	}
	if c.SizeLimit == 0 {
		c.SizeLimit = DefaultSizeLimit
	}
	if c.SizeLimit <= message.HeaderSize {
		return ErrSizeLimitTooSmall
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	c.Backoff.applyDefaults()
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return nil
}

// Outbox is the single-slot sender of the AppMessage channel. At most one
// PUSH is in flight; its outcome is reported exactly once through OnSent or
// OnFailed, after the outbox has returned to Accepting.
//
// An Outbox is not safe for concurrent use. All methods run on the executor.
type Outbox struct {
	config OutboxConfig
	log    logging.LeveledLogger

	phase Phase

	// buf holds the header and the payload being written.
	buf []byte

	// txID is the id of the outstanding PUSH; nextTxID wraps modulo 256.
	txID     uint8
	nextTxID uint8

	// result is the outcome recorded while the link completion is pending.
	result error

	ackTimer loop.Timer
	backoff  *busyBackoff

	// gen changes on every Send, Begin and Close. Writers, timers and link
	// completions carry the generation they were created under and become
	// no-ops once it moves on.
	gen uint64
}

// NewOutbox creates a closed outbox.
func NewOutbox(config OutboxConfig) (*Outbox, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	o := &Outbox{
		config:  config,
		phase:   PhaseClosed,
		backoff: newBusyBackoff(config.Backoff),
	}
	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("appmessage-outbox")
	}
	return o, nil
}

// Phase returns the current phase.
func (o *Outbox) Phase() Phase {
	return o.phase
}

// IsBusy returns true while a message is in flight.
func (o *Outbox) IsBusy() bool {
	return o.phase.IsPending()
}

// SizeLimit returns the transmission size limit, header included.
func (o *Outbox) SizeLimit() int {
	return o.config.SizeLimit
}

// PayloadLimit returns the largest payload a single PUSH can carry.
func (o *Outbox) PayloadLimit() int {
	return o.config.SizeLimit - message.HeaderSize
}

// Open moves a closed outbox to Accepting.
func (o *Outbox) Open() error {
	if o.phase != PhaseClosed {
		return ErrInvalidState
	}
	o.buf = make([]byte, message.HeaderSize, o.config.SizeLimit)
	o.result = nil
	o.backoff.Reset()
	o.phase = PhaseAccepting
	return nil
}

// Begin hands out a write handle for the next message.
//
// While a message is in flight it sleeps the current backoff, doubles it for
// the next call and returns ErrBusy. It returns ErrInvalidState when closed or
// already writing.
func (o *Outbox) Begin() (*Writer, error) {
	switch {
	case o.phase == PhaseAccepting:
	case o.phase.IsPending():
		d := o.backoff.Next()
		if o.log != nil {
			o.log.Tracef("busy (tx %d, %s), backing off %v", o.txID, o.phase, d)
		}
		o.config.Sleep(d)
		return nil, ErrBusy
	default:
		return nil, ErrInvalidState
	}

	o.gen++
	o.buf = o.buf[:message.HeaderSize]
	o.phase = PhaseWriting
	return &Writer{o: o, gen: o.gen}, nil
}

// Send transmits the written message.
//
// It returns ErrBusy while a message is in flight, ErrInvalidState without a
// preceding Begin, and ErrBufferOverflow when the write exceeded the size
// limit, in which case the write is discarded and the outbox accepts again.
func (o *Outbox) Send() error {
	if o.phase.IsPending() {
		return ErrBusy
	}
	if o.phase != PhaseWriting {
		return ErrInvalidState
	}
	o.gen++

	if len(o.buf) > o.config.SizeLimit {
		if o.log != nil {
			o.log.Warnf("discarding %d byte message, limit %d", len(o.buf), o.config.SizeLimit)
		}
		o.buf = o.buf[:message.HeaderSize]
		o.phase = PhaseAccepting
		return ErrBufferOverflow
	}

	o.txID = o.nextTxID
	o.nextTxID++
	o.buf[0] = byte(message.CommandPush)
	o.buf[1] = o.txID

	frame := make([]byte, len(o.buf))
	copy(frame, o.buf)

	o.result = nil
	o.phase = PhaseAwaitingReplyAndOutboxCallback

	gen := o.gen
	o.ackTimer = o.config.Executor.AfterFunc(o.config.AckTimeout, func() {
		o.handleAckTimeout(gen)
	})

	if o.log != nil {
		o.log.Tracef("push tx %d, %d bytes", o.txID, len(frame)-message.HeaderSize)
	}

	exec := o.config.Executor
	o.config.Link.Send(frame, func(err error) {
		exec.Post(func() { o.handleConsumed(gen, err) })
	})
	return nil
}

// HandleReply processes an ACK or NACK. Replies that do not match the
// outstanding transaction are logged and dropped.
func (o *Outbox) HandleReply(h message.Header) {
	if !h.Command.IsReply() {
		return
	}
	if !o.phase.awaitsReply() {
		if o.log != nil {
			o.log.Warnf("unexpected %s tx %d in phase %s", h.Command, h.TransactionID, o.phase)
		}
		return
	}
	if h.TransactionID != o.txID {
		if o.log != nil {
			o.log.Warnf("%s for tx %d, awaiting tx %d", h.Command, h.TransactionID, o.txID)
		}
		return
	}

	var result error
	if h.Command == message.CommandNack {
		result = ErrSendRejected
	}
	o.stopAckTimer()
	o.replied(result)
}

// Close stops the ACK timer, releases the buffer and moves to Closed. No
// outcome is reported for a message in flight; its completions become no-ops.
func (o *Outbox) Close() {
	o.stopAckTimer()
	o.gen++
	o.buf = nil
	o.result = nil
	o.phase = PhaseClosed
}

// Abort fails the message in flight with err at once, without waiting for
// the link completion or a reply. Those arrive under an older generation and
// are ignored. It does nothing unless a message is in flight.
func (o *Outbox) Abort(err error) {
	if !o.phase.IsPending() {
		return
	}
	o.stopAckTimer()
	o.gen++
	if o.log != nil {
		o.log.Debugf("tx %d aborted in %s: %v", o.txID, o.phase, err)
	}
	o.finish(err)
}

// replied records the (N)ACK or timeout outcome.
func (o *Outbox) replied(result error) {
	if o.phase == PhaseAwaitingReply {
		o.finish(result)
		return
	}
	o.result = result
	o.phase = PhaseAwaitingOutboxCallback
}

func (o *Outbox) handleConsumed(gen uint64, err error) {
	if gen != o.gen || !o.phase.awaitsConsumed() {
		return
	}
	if err != nil {
		if o.log != nil {
			o.log.Debugf("tx %d lost: %v", o.txID, err)
		}
		o.stopAckTimer()
		o.finish(ErrNotConnected)
		return
	}
	if o.phase == PhaseAwaitingOutboxCallback {
		o.finish(o.result)
		return
	}
	o.phase = PhaseAwaitingReply
}

func (o *Outbox) handleAckTimeout(gen uint64) {
	if gen != o.gen || !o.phase.awaitsReply() {
		return
	}
	o.ackTimer = nil
	if o.log != nil {
		o.log.Debugf("tx %d timed out after %v", o.txID, o.config.AckTimeout)
	}
	o.replied(ErrSendTimeout)
}

// finish returns to Accepting and reports the outcome.
func (o *Outbox) finish(result error) {
	o.phase = PhaseAccepting
	o.result = nil
	o.buf = o.buf[:message.HeaderSize]
	if result == nil {
		o.backoff.Reset()
	} else {
		o.backoff.Next()
	}

	if result == nil {
		if o.config.OnSent != nil {
			o.config.OnSent()
		}
		return
	}
	if o.config.OnFailed != nil {
		o.config.OnFailed(result)
	}
}

func (o *Outbox) stopAckTimer() {
	if o.ackTimer != nil {
		o.ackTimer.Stop()
		o.ackTimer = nil
	}
}

// Writer appends payload bytes to the message being written. It is only
// valid between Begin and the following Send or Close.
type Writer struct {
	o   *Outbox
	gen uint64
}

// Write implements io.Writer. Writing past the size limit is allowed; Send
// then fails with ErrBufferOverflow.
func (w *Writer) Write(p []byte) (int, error) {
	if w.o.gen != w.gen || w.o.phase != PhaseWriting {
		return 0, ErrInvalidState
	}
	w.o.buf = append(w.o.buf, p...)
	return len(p), nil
}

// Len returns the number of payload bytes written so far.
func (w *Writer) Len() int {
	if w.o.gen != w.gen || w.o.phase != PhaseWriting {
		return 0
	}
	return len(w.o.buf) - message.HeaderSize
}

// Available returns the payload bytes left before the size limit.
func (w *Writer) Available() int {
	n := w.o.PayloadLimit() - w.Len()
	if n < 0 {
		return 0
	}
	return n
}
