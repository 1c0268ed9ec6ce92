package postmessage

// Listener receives session events on the executor.
type Listener interface {
	// OnMessage delivers a decoded inbound object.
	OnMessage(v any)

	// OnConnected reports the session opening.
	OnConnected()

	// OnDisconnected reports the session closing.
	OnDisconnected()

	// OnError reports an outbound object that was dropped.
	OnError(m *FailedMessage)
}

// ListenerFuncs adapts functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Message      func(v any)
	Connected    func()
	Disconnected func()
	Error        func(m *FailedMessage)
}

// OnMessage implements Listener.
func (l ListenerFuncs) OnMessage(v any) {
	if l.Message != nil {
		l.Message(v)
	}
}

// OnConnected implements Listener.
func (l ListenerFuncs) OnConnected() {
	if l.Connected != nil {
		l.Connected()
	}
}

// OnDisconnected implements Listener.
func (l ListenerFuncs) OnDisconnected() {
	if l.Disconnected != nil {
		l.Disconnected()
	}
}

// OnError implements Listener.
func (l ListenerFuncs) OnError(m *FailedMessage) {
	if l.Error != nil {
		l.Error(m)
	}
}

// FailedMessage is an outbound object the session gave up on. It owns the
// serialized payload; decoding happens only on request.
type FailedMessage struct {
	// Err is the reason: the last transmit error, or ErrSessionTimeout.
	Err error

	data  []byte
	codec Codec
}

// Data returns the serialized object as it was queued.
func (m *FailedMessage) Data() []byte {
	return m.data
}

// Decode parses the serialized object into v.
func (m *FailedMessage) Decode(v any) error {
	return m.codec.Unmarshal(m.data, v)
}
