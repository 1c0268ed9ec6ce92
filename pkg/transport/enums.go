// Package transport provides the link collaborator underneath AppMessage.
//
// A Link is an unreliable, asynchronous bearer between two peers (the
// Bluetooth link on a watch, a TCP developer connection, or an in-memory pipe
// in tests). It reports connect/disconnect events and inbound frames to a
// bound Handler, and resolves every Send with exactly one completion
// callback.
package transport

// Framing selects how frame boundaries are carried over a net.Conn.
type Framing int

const (
	// FramingUnknown is the zero value.
	FramingUnknown Framing = iota

	// FramingPacket maps one frame to one Read/Write (datagram-like conns,
	// such as the in-memory pipe).
	FramingPacket

	// FramingStream prefixes each frame with its length (TCP).
	FramingStream
)

// String returns the string representation of the framing.
func (f Framing) String() string {
	switch f {
	case FramingPacket:
		return "Packet"
	case FramingStream:
		return "Stream"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the framing is a known value.
func (f Framing) IsValid() bool {
	return f == FramingPacket || f == FramingStream
}
