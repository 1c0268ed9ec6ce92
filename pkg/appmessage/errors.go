package appmessage

import (
	"errors"

	"github.com/backkem/pebblemsg/pkg/transport"
)

// Errors returned synchronously by the outbox. Callers must handle them; the
// outbox never drops a producer's message silently.
var (
	// ErrBusy is returned while a message is in flight. Begin sleeps the
	// current backoff before returning it.
	ErrBusy = errors.New("appmessage: busy")

	// ErrInvalidState is returned for out-of-order calls (Begin while
	// Writing, Send without Begin, any call on a closed outbox).
	ErrInvalidState = errors.New("appmessage: invalid state")

	// ErrBufferOverflow is returned by Send when header plus payload exceed
	// the transmission size limit. The write is discarded.
	ErrBufferOverflow = errors.New("appmessage: buffer overflow")

	// ErrMissingLink is returned when a config lacks its link.
	ErrMissingLink = errors.New("appmessage: link is required")

	// ErrMissingExecutor is returned when a config lacks its executor.
	ErrMissingExecutor = errors.New("appmessage: executor is required")

	// ErrMissingDelegate is returned when a channel config lacks its delegate.
	ErrMissingDelegate = errors.New("appmessage: delegate is required")

	// ErrSizeLimitTooSmall is returned when a size limit cannot hold a header.
	ErrSizeLimitTooSmall = errors.New("appmessage: size limit too small")
)

// Asynchronous outcomes reported through the failure callback. They alias the
// transport errors so callers can match either.
var (
	// ErrNotConnected reports a message lost to a link failure.
	ErrNotConnected = transport.ErrNotConnected

	// ErrSendTimeout reports a message whose reply did not arrive in time.
	ErrSendTimeout = transport.ErrSendTimeout

	// ErrSendRejected reports a message the peer NACKed.
	ErrSendRejected = transport.ErrSendRejected
)
