package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed link.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyAttached is returned when attaching a conn to a link that
	// already has one.
	ErrAlreadyAttached = errors.New("transport: already attached")

	// ErrInvalidFraming is returned for an unknown Framing value.
	ErrInvalidFraming = errors.New("transport: invalid framing")

	// ErrNotConnected completes a send attempted or aborted while the link
	// is down.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendTimeout completes a send the bearer did not consume in time.
	ErrSendTimeout = errors.New("transport: send timeout")

	// ErrSendRejected completes a send the bearer refused (oversized frame,
	// full queue).
	ErrSendRejected = errors.New("transport: send rejected")
)
