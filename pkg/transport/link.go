package transport

// Handler receives link events. Calls may arrive on any goroutine; consumers
// that need serialization post them onto their executor.
type Handler interface {
	// HandleConnected is called when the bearer comes up.
	HandleConnected()

	// HandleDisconnected is called when the bearer goes down. Sends that
	// were still queued have already been completed with ErrNotConnected.
	HandleDisconnected()

	// HandleFrame is called for each inbound frame. The slice is owned by
	// the handler.
	HandleFrame(data []byte)
}

// Link is the transport send primitive plus its event stream.
type Link interface {
	// Bind sets the event handler. It must be called before the link
	// connects; frames arriving with no handler are dropped.
	Bind(h Handler)

	// Send queues frame for transmission. done, if non-nil, is called
	// exactly once with nil once the bearer consumed the frame, or with
	// ErrNotConnected, ErrSendTimeout or ErrSendRejected. done may be called
	// before Send returns.
	Send(frame []byte, done func(err error))

	// Connected reports whether the bearer is currently up.
	Connected() bool

	// Close tears the link down permanently.
	Close() error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnConnected    func()
	OnDisconnected func()
	OnFrame        func(data []byte)
}

// HandleConnected implements Handler.
func (h HandlerFuncs) HandleConnected() {
	if h.OnConnected != nil {
		h.OnConnected()
	}
}

// HandleDisconnected implements Handler.
func (h HandlerFuncs) HandleDisconnected() {
	if h.OnDisconnected != nil {
		h.OnDisconnected()
	}
}

// HandleFrame implements Handler.
func (h HandlerFuncs) HandleFrame(data []byte) {
	if h.OnFrame != nil {
		h.OnFrame(data)
	}
}

var _ Handler = HandlerFuncs{}
