package appmessage

import (
	"time"

	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/pion/logging"
)

// Delegate receives channel events on the executor.
type Delegate interface {
	// OnConnectionChanged reports the link coming up or going down.
	OnConnectionChanged(connected bool)

	// OnReceived consumes an inbound payload. Returning an error NACKs it.
	OnReceived(payload []byte) error

	// OnSent reports that the outstanding message was ACKed.
	OnSent()

	// OnSendFailed reports that the outstanding message failed.
	OnSendFailed(err error)
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Link is the bearer. Required.
	Link transport.Link

	// Executor serializes every channel event. Required.
	Executor loop.Executor

	// Delegate receives events. Required.
	Delegate Delegate

	// OutboxSizeLimit defaults to DefaultSizeLimit if 0.
	OutboxSizeLimit int

	// InboxSizeLimit defaults to DefaultSizeLimit if 0.
	InboxSizeLimit int

	// AckTimeout defaults to DefaultAckTimeout if 0.
	AckTimeout time.Duration

	// Backoff configures the outbox busy backoff.
	Backoff BackoffConfig

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Channel binds an Outbox and an Inbox to a link and forwards link events to
// a Delegate, always via the executor.
type Channel struct {
	config ChannelConfig
	log    logging.LeveledLogger

	outbox *Outbox
	inbox  *Inbox

	open      bool
	connected bool
}

// NewChannel creates a closed channel.
func NewChannel(config ChannelConfig) (*Channel, error) {
	if config.Link == nil {
		return nil, ErrMissingLink
	}
	if config.Executor == nil {
		return nil, ErrMissingExecutor
	}
	if config.Delegate == nil {
		return nil, ErrMissingDelegate
	}

	c := &Channel{config: config}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("appmessage")
	}

	var err error
	c.outbox, err = NewOutbox(OutboxConfig{
		Link:          config.Link,
		Executor:      config.Executor,
		SizeLimit:     config.OutboxSizeLimit,
		AckTimeout:    config.AckTimeout,
		Backoff:       config.Backoff,
		Sleep:         config.Sleep,
		OnSent:        config.Delegate.OnSent,
		OnFailed:      config.Delegate.OnSendFailed,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	c.inbox, err = NewInbox(InboxConfig{
		Link:          config.Link,
		SizeLimit:     config.InboxSizeLimit,
		OnReceived:    config.Delegate.OnReceived,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Outbox returns the channel's outbox.
func (c *Channel) Outbox() *Outbox {
	return c.outbox
}

// Connected returns the last connection state reported to the delegate.
func (c *Channel) Connected() bool {
	return c.connected
}

// Open binds the link and opens the outbox. If the link is already up, the
// delegate sees OnConnectionChanged(true) on the executor.
func (c *Channel) Open() error {
	if c.open {
		return ErrInvalidState
	}
	if err := c.outbox.Open(); err != nil {
		return err
	}
	c.open = true
	c.config.Link.Bind(linkHandler{c})

	if c.config.Link.Connected() {
		c.config.Executor.Post(func() { c.setConnected(true) })
	}
	return nil
}

// Close unbinds the link and closes the outbox.
func (c *Channel) Close() {
	if !c.open {
		return
	}
	c.open = false
	c.connected = false
	c.config.Link.Bind(nil)
	c.outbox.Close()
}

func (c *Channel) setConnected(up bool) {
	if !c.open || c.connected == up {
		return
	}
	c.connected = up
	if c.log != nil {
		c.log.Debugf("link connected=%v", up)
	}
	c.config.Delegate.OnConnectionChanged(up)

	// A PUSH the link consumed before going down will never be answered.
	// The delegate learns of the disconnect first, then of the failure.
	if !up {
		c.outbox.Abort(ErrNotConnected)
	}
}

func (c *Channel) handleFrame(data []byte) {
	if !c.open {
		return
	}
	h, payload, err := message.Decode(data)
	if err != nil {
		if c.log != nil {
			c.log.Warnf("dropping %d byte frame: %v", len(data), err)
		}
		return
	}
	if h.Command == message.CommandPush {
		c.inbox.HandlePush(h, payload)
		return
	}
	c.outbox.HandleReply(h)
}

// linkHandler posts link callbacks onto the executor.
type linkHandler struct {
	c *Channel
}

func (h linkHandler) HandleConnected() {
	h.c.config.Executor.Post(func() { h.c.setConnected(true) })
}

func (h linkHandler) HandleDisconnected() {
	h.c.config.Executor.Post(func() { h.c.setConnected(false) })
}

func (h linkHandler) HandleFrame(data []byte) {
	h.c.config.Executor.Post(func() { h.c.handleFrame(data) })
}
