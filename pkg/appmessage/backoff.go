package appmessage

import (
	"time"

	"github.com/cenkalti/backoff"
)

// busyBackoff tracks the sleep applied when a producer polls a busy outbox.
// The sequence doubles on every BUSY return and every failed transmission,
// saturates at Max, and only a fully successful cycle resets it to Initial.
type busyBackoff struct {
	b *backoff.ExponentialBackOff
}

func newBusyBackoff(config BackoffConfig) *busyBackoff {
	config.applyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.Initial
	b.MaxInterval = config.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &busyBackoff{b: b}
}

// Next returns the current delay and doubles it for the following call.
func (s *busyBackoff) Next() time.Duration {
	return s.b.NextBackOff()
}

// Reset restores the floor.
func (s *busyBackoff) Reset() {
	s.b.Reset()
}
