package message

// Header is the AppMessage frame header.
type Header struct {
	Command       Command
	TransactionID uint8
}

// Encode returns the header followed by payload. A nil payload yields a bare
// header, which is the form of every ACK and NACK.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(h.Command)
	buf[1] = h.TransactionID
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeReply returns an ACK (accept) or NACK frame for txID.
func EncodeReply(txID uint8, accept bool) []byte {
	cmd := CommandNack
	if accept {
		cmd = CommandAck
	}
	return Encode(Header{Command: cmd, TransactionID: txID}, nil)
}

// Decode parses a frame into its header and payload. The payload aliases
// data.
func Decode(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrMessageTooShort
	}
	h := Header{
		Command:       Command(data[0]),
		TransactionID: data[1],
	}
	if !h.Command.IsValid() {
		return Header{}, nil, ErrUnknownCommand
	}
	payload := data[HeaderSize:]
	if h.Command.IsReply() && len(payload) != 0 {
		return Header{}, nil, ErrUnexpectedPayload
	}
	return h, payload, nil
}
