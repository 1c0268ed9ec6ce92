package postmessage

import (
	"encoding/binary"
)

// Kind identifies a PostMessage frame. It is the first byte of every
// AppMessage payload carried by a session.
type Kind uint8

const (
	// KindResetRequest asks the peer to renegotiate. Empty body.
	KindResetRequest Kind = 0x01

	// KindResetComplete advertises the sender's Capabilities.
	KindResetComplete Kind = 0x02

	// KindChunk carries one fragment of a serialized object.
	KindChunk Kind = 0x03

	// KindUnsupportedError reports a failed negotiation.
	KindUnsupportedError Kind = 0x04
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindResetRequest:
		return "ResetRequest"
	case KindResetComplete:
		return "ResetComplete"
	case KindChunk:
		return "Chunk"
	case KindUnsupportedError:
		return "UnsupportedError"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the kind is a defined value.
func (k Kind) IsValid() bool {
	return k >= KindResetRequest && k <= KindUnsupportedError
}

// IsControl returns true for the handshake kinds, which travel on the
// control queue.
func (k Kind) IsControl() bool {
	return k == KindResetRequest || k == KindResetComplete || k == KindUnsupportedError
}

// ErrorCode is the body of an UnsupportedError.
type ErrorCode uint8

const (
	// ErrorCodeIncompatibleVersion means the version ranges do not overlap.
	ErrorCodeIncompatibleVersion ErrorCode = 0x01

	// ErrorCodeMalformedResetComplete means the ResetComplete body could not
	// be parsed.
	ErrorCodeMalformedResetComplete ErrorCode = 0x02
)

// String returns a human-readable name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeIncompatibleVersion:
		return "IncompatibleVersion"
	case ErrorCodeMalformedResetComplete:
		return "MalformedResetComplete"
	default:
		return "Unknown"
	}
}

// Wire sizes.
const (
	// KindSize is the size of the kind byte.
	KindSize = 1

	// resetCompleteBodySize is min u8, max u8, max tx u16, max rx u16.
	resetCompleteBodySize = 6

	// chunkFieldSize is the u32 is-first/total/offset field.
	chunkFieldSize = 4

	// ChunkHeaderSize is the overhead of a Chunk frame.
	ChunkHeaderSize = KindSize + chunkFieldSize

	// MaxControlSize is the largest control frame.
	MaxControlSize = KindSize + resetCompleteBodySize

	// chunkFirstFlag marks the first chunk of an object.
	chunkFirstFlag = uint32(1) << 31

	// MaxChunkValue is the largest total size or offset a chunk can carry.
	MaxChunkValue = chunkFirstFlag - 1
)

// Chunk is one fragment of an outbound or inbound object.
//
// The first chunk of an object carries the object's total size; later chunks
// carry the offset of their first byte.
type Chunk struct {
	IsFirst bool

	// Total is the declared object size, NUL terminator included. Only set
	// when IsFirst.
	Total uint32

	// Offset is the position of Data within the object. Zero when IsFirst.
	Offset uint32

	Data []byte
}

// Frame is a decoded PostMessage frame. Only the field matching Kind is set.
type Frame struct {
	Kind Kind

	// Capabilities is the body of a ResetComplete.
	Capabilities Capabilities

	// Chunk is the body of a Chunk.
	Chunk Chunk

	// Code is the body of an UnsupportedError.
	Code ErrorCode
}

// EncodeResetRequest returns a ResetRequest frame.
func EncodeResetRequest() []byte {
	return []byte{byte(KindResetRequest)}
}

// EncodeResetComplete returns a ResetComplete frame advertising caps.
func EncodeResetComplete(caps Capabilities) []byte {
	buf := make([]byte, MaxControlSize)
	buf[0] = byte(KindResetComplete)
	buf[1] = caps.MinVersion
	buf[2] = caps.MaxVersion
	binary.LittleEndian.PutUint16(buf[3:5], caps.MaxTxChunkSize)
	binary.LittleEndian.PutUint16(buf[5:7], caps.MaxRxChunkSize)
	return buf
}

// EncodeUnsupportedError returns an UnsupportedError frame.
func EncodeUnsupportedError(code ErrorCode) []byte {
	return []byte{byte(KindUnsupportedError), byte(code)}
}

// EncodeChunk returns a Chunk frame. Values over MaxChunkValue are rejected
// with ErrMalformed.
func EncodeChunk(c Chunk) ([]byte, error) {
	field := c.Offset
	if c.IsFirst {
		field = c.Total
	}
	if field > MaxChunkValue {
		return nil, ErrMalformed
	}
	if c.IsFirst {
		field |= chunkFirstFlag
	}

	buf := make([]byte, ChunkHeaderSize+len(c.Data))
	buf[0] = byte(KindChunk)
	binary.LittleEndian.PutUint32(buf[1:5], field)
	copy(buf[ChunkHeaderSize:], c.Data)
	return buf, nil
}

// Decode parses a PostMessage frame. Chunk data aliases data.
//
// When the kind byte is present but the body is invalid, the returned Frame
// still carries the Kind alongside ErrMalformed, so callers can react to a
// malformed ResetComplete. Unknown kinds yield ErrUnknownKind.
func Decode(data []byte) (Frame, error) {
	if len(data) < KindSize {
		return Frame{}, ErrMalformed
	}
	f := Frame{Kind: Kind(data[0])}
	body := data[KindSize:]

	switch f.Kind {
	case KindResetRequest:
		if len(body) != 0 {
			return f, ErrMalformed
		}
	case KindResetComplete:
		if len(body) != resetCompleteBodySize {
			return f, ErrMalformed
		}
		f.Capabilities = Capabilities{
			MinVersion:     body[0],
			MaxVersion:     body[1],
			MaxTxChunkSize: binary.LittleEndian.Uint16(body[2:4]),
			MaxRxChunkSize: binary.LittleEndian.Uint16(body[4:6]),
		}
		if err := f.Capabilities.Validate(); err != nil {
			return f, ErrMalformed
		}
	case KindChunk:
		if len(body) <= chunkFieldSize {
			return f, ErrMalformed
		}
		field := binary.LittleEndian.Uint32(body[:chunkFieldSize])
		f.Chunk.IsFirst = field&chunkFirstFlag != 0
		if f.Chunk.IsFirst {
			f.Chunk.Total = field &^ chunkFirstFlag
		} else {
			f.Chunk.Offset = field
		}
		f.Chunk.Data = body[chunkFieldSize:]
	case KindUnsupportedError:
		if len(body) != 1 {
			return f, ErrMalformed
		}
		f.Code = ErrorCode(body[0])
	default:
		return f, ErrUnknownKind
	}
	return f, nil
}
