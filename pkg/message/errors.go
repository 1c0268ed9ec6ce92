package message

import "errors"

// Message layer errors.
var (
	// Header decoding errors
	ErrMessageTooShort   = errors.New("message: data too short")
	ErrUnknownCommand    = errors.New("message: unknown command")
	ErrUnexpectedPayload = errors.New("message: reply must not carry a payload")

	// Stream framing errors
	ErrFrameTooLarge       = errors.New("message: frame exceeds maximum size")
	ErrInvalidLengthPrefix = errors.New("message: invalid length prefix")
	ErrStreamReadFailed    = errors.New("message: failed to read from stream")
)

// Wire format constants.
const (
	// HeaderSize is the AppMessage header size in bytes.
	// Command (1) + Transaction ID (1) = 2
	HeaderSize = 2

	// LengthPrefixSize is the stream framing length prefix size in bytes.
	LengthPrefixSize = 2

	// MaxFrameSize bounds a single frame on any transport. It is the largest
	// value the stream length prefix can express.
	MaxFrameSize = 0xFFFF
)
