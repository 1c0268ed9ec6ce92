// Package message implements the AppMessage wire format.
//
// Every AppMessage frame starts with a two byte header:
//
//	+---------+----------------+-----------------
//	| Command | Transaction ID | Payload (PUSH only)
//	+---------+----------------+-----------------
//
// A PUSH carries an application payload. The receiver answers with an ACK or
// NACK echoing the transaction id, which the sender uses to correlate the
// reply with its single outstanding PUSH.
//
// The package also provides length-prefixed framing for stream transports
// (TCP developer connections), where frame boundaries are not preserved.
package message

// Command identifies the kind of AppMessage frame.
type Command uint8

const (
	// CommandPush carries an application payload that expects a reply.
	CommandPush Command = 0x01

	// CommandNack rejects the PUSH with the same transaction id.
	CommandNack Command = 0x7F

	// CommandAck accepts the PUSH with the same transaction id.
	CommandAck Command = 0xFF
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CommandPush:
		return "PUSH"
	case CommandAck:
		return "ACK"
	case CommandNack:
		return "NACK"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the command is a defined value.
func (c Command) IsValid() bool {
	return c == CommandPush || c == CommandAck || c == CommandNack
}

// IsReply returns true for ACK and NACK.
func (c Command) IsReply() bool {
	return c == CommandAck || c == CommandNack
}
