package appmessage

import "time"

// Channel defaults.
const (
	// DefaultSizeLimit is the default transmission size limit for both the
	// outbox and the inbox, header included.
	DefaultSizeLimit = 8 * 1024

	// DefaultAckTimeout is how long the outbox waits for an ACK or NACK.
	DefaultAckTimeout = 10 * time.Second

	// DefaultBackoffInitial is the first sleep applied to a BUSY Begin.
	DefaultBackoffInitial = 4 * time.Millisecond

	// DefaultBackoffMax caps the BUSY sleep.
	DefaultBackoffMax = 512 * time.Millisecond
)

// BackoffConfig configures the outbox busy backoff.
type BackoffConfig struct {
	// Initial is the floor: the first sleep, and the value restored after
	// a successful transmit-and-consume cycle.
	Initial time.Duration

	// Max caps the sleep.
	Max time.Duration
}

func (c *BackoffConfig) applyDefaults() {
	if c.Initial <= 0 {
		c.Initial = DefaultBackoffInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultBackoffMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
}
