package postmessage

import (
	"time"

	"github.com/backkem/pebblemsg/pkg/appmessage"
	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/pion/logging"
)

// Session defaults.
const (
	// DefaultMaxObjectSize bounds inbound and outbound objects, terminator
	// included.
	DefaultMaxObjectSize = 64 * 1024

	// DefaultRetryDelay is the pause before retransmitting a failed message.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultSessionClosedTimeout is how long a queued object waits for a
	// session before it is dropped.
	DefaultSessionClosedTimeout = 3 * time.Second

	// DefaultFailureThreshold is the number of consecutive transmit
	// failures after which a message is dropped.
	DefaultFailureThreshold = 3
)

// Config configures a Session.
type Config struct {
	// Link is the bearer. Required.
	Link transport.Link

	// Executor runs every session callback. Required.
	Executor loop.Executor

	// Capabilities are advertised in our ResetComplete.
	// Defaults to DefaultCapabilities() if zero.
	Capabilities Capabilities

	// Codec serializes objects. Defaults to JSONCodec.
	Codec Codec

	// Listener receives session events. May be nil.
	Listener Listener

	// InitiateOnConnect sends a ResetRequest as soon as the link comes up
	// instead of waiting for the peer to start the handshake.
	InitiateOnConnect bool

	// MaxObjectSize defaults to DefaultMaxObjectSize if 0.
	MaxObjectSize int

	// RetryDelay defaults to DefaultRetryDelay if 0.
	RetryDelay time.Duration

	// SessionClosedTimeout defaults to DefaultSessionClosedTimeout if 0.
	SessionClosedTimeout time.Duration

	// FailureThreshold defaults to DefaultFailureThreshold if 0.
	FailureThreshold int

	// AckTimeout is passed to the AppMessage outbox.
	AckTimeout time.Duration

	// Backoff is passed to the AppMessage outbox.
	Backoff appmessage.BackoffConfig

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Capabilities == (Capabilities{}) {
		c.Capabilities = DefaultCapabilities()
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Listener == nil {
		c.Listener = ListenerFuncs{}
	}
	if c.MaxObjectSize == 0 {
		c.MaxObjectSize = DefaultMaxObjectSize
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.SessionClosedTimeout == 0 {
		c.SessionClosedTimeout = DefaultSessionClosedTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
}

// Validate checks required fields and the capabilities.
func (c *Config) Validate() error {
	if c.Link == nil {
		return ErrMissingLink
	}
	if c.Executor == nil {
		return ErrMissingExecutor
	}
	return c.Capabilities.Validate()
}

// frameLimit returns the AppMessage size limit needed for chunks of
// chunkSize bytes and for every control frame.
func frameLimit(chunkSize uint16) int {
	return appmessageHeaderSize + max(ChunkHeaderSize+int(chunkSize), MaxControlSize)
}
