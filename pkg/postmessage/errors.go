package postmessage

import "errors"

// Wire errors.
var (
	// ErrMalformed is returned for a frame whose body does not match its kind.
	ErrMalformed = errors.New("postmessage: malformed frame")

	// ErrUnknownKind is returned for an undefined kind byte.
	ErrUnknownKind = errors.New("postmessage: unknown kind")
)

// Configuration errors.
var (
	ErrInvalidVersionRange = errors.New("postmessage: min version above max version")
	ErrInvalidChunkSize    = errors.New("postmessage: chunk size must be non-zero")
	ErrMissingLink         = errors.New("postmessage: link is required")
	ErrMissingExecutor     = errors.New("postmessage: executor is required")
)

// Session errors.
var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("postmessage: session closed")

	// ErrAlreadyOpened is returned by a second call to Open.
	ErrAlreadyOpened = errors.New("postmessage: already opened")

	// ErrDisconnected is returned by Reset while the link is down.
	ErrDisconnected = errors.New("postmessage: disconnected")

	// ErrObjectTooLarge is returned by PostMessage for an object over
	// MaxObjectSize, and reported for an inbound object declaring one.
	ErrObjectTooLarge = errors.New("postmessage: object too large")

	// ErrEmbeddedNUL is returned when a codec produces a NUL byte, which
	// would truncate the object on the wire.
	ErrEmbeddedNUL = errors.New("postmessage: serialized object contains NUL")

	// ErrSessionTimeout is the reason given for an object dropped because
	// no session opened in time.
	ErrSessionTimeout = errors.New("postmessage: session did not open in time")
)

// Reassembly errors. Each drops the object being reassembled.
var (
	ErrUnexpectedChunk   = errors.New("postmessage: continuation chunk without first chunk")
	ErrChunkOffset       = errors.New("postmessage: chunk offset not contiguous")
	ErrChunkOverrun      = errors.New("postmessage: chunk exceeds declared total")
	ErrMissingTerminator = errors.New("postmessage: object not NUL terminated")
)
