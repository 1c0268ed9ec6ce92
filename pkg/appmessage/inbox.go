package appmessage

import (
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/pion/logging"
)

// InboxConfig configures an Inbox.
type InboxConfig struct {
	// Link carries the ACK/NACK replies. Required.
	Link transport.Link

	// SizeLimit is the largest PUSH accepted, header included.
	// Defaults to DefaultSizeLimit if 0.
	SizeLimit int

	// OnReceived consumes a PUSH payload. Returning an error NACKs the
	// PUSH. The payload is only valid for the duration of the call.
	OnReceived func(payload []byte) error

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Inbox answers inbound PUSH frames.
type Inbox struct {
	config InboxConfig
	log    logging.LeveledLogger
}

// NewInbox creates an inbox.
func NewInbox(config InboxConfig) (*Inbox, error) {
	if config.Link == nil {
		return nil, ErrMissingLink
	}
	if config.SizeLimit == 0 {
		config.SizeLimit = DefaultSizeLimit
	}
	if config.SizeLimit <= message.HeaderSize {
		return nil, ErrSizeLimitTooSmall
	}

	in := &Inbox{config: config}
	if config.LoggerFactory != nil {
		in.log = config.LoggerFactory.NewLogger("appmessage-inbox")
	}
	return in, nil
}

// HandlePush delivers payload and replies with ACK, or with NACK if the PUSH
// is oversized or the consumer rejects it.
func (in *Inbox) HandlePush(h message.Header, payload []byte) {
	accept := true
	switch {
	case message.HeaderSize+len(payload) > in.config.SizeLimit:
		if in.log != nil {
			in.log.Warnf("tx %d: %d byte push exceeds limit %d", h.TransactionID, len(payload), in.config.SizeLimit)
		}
		accept = false
	case in.config.OnReceived != nil:
		if err := in.config.OnReceived(payload); err != nil {
			if in.log != nil {
				in.log.Debugf("tx %d rejected: %v", h.TransactionID, err)
			}
			accept = false
		}
	}

	in.config.Link.Send(message.EncodeReply(h.TransactionID, accept), func(err error) {
		if err != nil && in.log != nil {
			in.log.Debugf("reply for tx %d lost: %v", h.TransactionID, err)
		}
	})
}
