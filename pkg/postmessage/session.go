package postmessage

import (
	"bytes"
	"fmt"

	"github.com/backkem/pebblemsg/pkg/appmessage"
	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/pion/logging"
)

const appmessageHeaderSize = message.HeaderSize

// inFlight records which queue supplied the message on the outbox.
type inFlight int

const (
	inFlightNone inFlight = iota
	inFlightControl
	inFlightChunk
)

// Session runs the PostMessage protocol over an AppMessage channel.
//
// A Session is not safe for concurrent use: every method, and every Listener
// callback, runs on the configured executor. Goroutines outside it hand work
// over with Executor.Post.
type Session struct {
	config Config
	log    logging.LeveledLogger

	channel *appmessage.Channel
	state   State
	params  Params

	control [][]byte
	objects []*outboundObject

	// reassembly is nil between inbound objects.
	reassembly *reassembler

	inFlight      inFlight
	inFlightBytes int

	// linkEpoch changes on disconnect, sessionEpoch on every session close
	// and disconnect. A completion from an older epoch is stale.
	linkEpoch     uint64
	sessionEpoch  uint64
	inFlightEpoch uint64

	failures    int
	retryTimer  loop.Timer
	closedTimer loop.Timer

	opened bool
	closed bool
}

// NewSession creates a session. Call Open to start it.
func NewSession(config Config) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{config: config, state: StateDisconnected}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("postmessage")
	}

	channel, err := appmessage.NewChannel(appmessage.ChannelConfig{
		Link:            config.Link,
		Executor:        config.Executor,
		Delegate:        channelDelegate{s},
		OutboxSizeLimit: frameLimit(config.Capabilities.MaxTxChunkSize),
		InboxSizeLimit:  frameLimit(config.Capabilities.MaxRxChunkSize),
		AckTimeout:      config.AckTimeout,
		Backoff:         config.Backoff,
		LoggerFactory:   config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	s.channel = channel
	return s, nil
}

// Open binds the session to its link. If the link is already up the
// handshake starts on the executor.
func (s *Session) Open() error {
	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return ErrAlreadyOpened
	}
	if err := s.channel.Open(); err != nil {
		return err
	}
	s.opened = true
	return nil
}

// Close cancels timers, drops both queues and any partial inbound object,
// and closes the channel. Completions still pending on the link become
// no-ops. No Listener events are emitted.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.stopRetryTimer()
	s.stopClosedTimer()
	s.channel.Close()

	s.state = StateDisconnected
	s.control = nil
	s.objects = nil
	s.reassembly = nil
	s.inFlight = inFlightNone
	return nil
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Params returns the negotiated parameters. ok is false unless the session
// is open.
func (s *Session) Params() (params Params, ok bool) {
	if s.state != StateSessionOpen {
		return Params{}, false
	}
	return s.params, true
}

// QueuedObjects returns the number of outbound objects not yet delivered.
func (s *Session) QueuedObjects() int {
	return len(s.objects)
}

// PostMessage serializes v and queues it. Codec failures are returned
// synchronously. The object is sent once a session is open; if none opens
// within SessionClosedTimeout it is reported through OnError.
func (s *Session) PostMessage(v any) error {
	if s.closed {
		return ErrClosed
	}
	data, err := s.config.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("postmessage: marshal: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	if len(data)+1 > s.config.MaxObjectSize {
		return ErrObjectTooLarge
	}

	s.objects = append(s.objects, newOutboundObject(data))
	if s.log != nil {
		s.log.Debugf("queued %d byte object (%d queued)", len(data)+1, len(s.objects))
	}
	if s.state != StateSessionOpen {
		s.armClosedTimer()
	}
	s.service()
	return nil
}

// Reset drops the current session, if any, and starts a handshake by
// sending a ResetRequest.
func (s *Session) Reset() error {
	if s.closed {
		return ErrClosed
	}
	if s.state == StateDisconnected {
		return ErrDisconnected
	}
	s.apply(Transition(s.state, Event{Kind: EventLocalReset}, s.config.Capabilities), Event{Kind: EventLocalReset})
	return nil
}

// handle runs ev through the state machine and applies the outcome. The
// returned error NACKs the inbound frame.
func (s *Session) handle(ev Event) error {
	out := Transition(s.state, ev, s.config.Capabilities)
	return s.apply(out, ev)
}

func (s *Session) apply(out Outcome, ev Event) error {
	prev := s.state
	s.state = out.State
	if prev != out.State && s.log != nil {
		s.log.Debugf("%s -> %s on %s", prev, out.State, describe(ev))
	}

	var nack error
	for _, a := range out.Actions {
		switch a.Kind {
		case ActionSendResetRequest:
			s.control = append(s.control, EncodeResetRequest())
		case ActionSendResetComplete:
			s.control = append(s.control, EncodeResetComplete(s.config.Capabilities))
		case ActionSendUnsupportedError:
			if s.log != nil {
				s.log.Warnf("negotiation failed: %s (remote %+v)", a.Code, ev.Frame.Capabilities)
			}
			s.control = append(s.control, EncodeUnsupportedError(a.Code))
		case ActionOpenSession:
			s.openSession(out.Params)
		case ActionCloseSession:
			s.closeSession()
		case ActionFeedChunk:
			nack = s.feed(ev.Frame.Chunk)
		}
	}

	s.service()
	return nack
}

func (s *Session) openSession(params Params) {
	s.params = params
	s.stopClosedTimer()
	if s.log != nil {
		s.log.Infof("session open: version %d, tx %d, rx %d", params.Version, params.TxChunkSize, params.RxChunkSize)
	}
	s.config.Listener.OnConnected()
}

// closeSession invalidates the negotiated parameters and restarts the head
// object from its first chunk.
func (s *Session) closeSession() {
	s.sessionEpoch++
	s.reassembly = nil
	s.failures = 0
	if len(s.objects) > 0 {
		s.objects[0].rewind()
		s.armClosedTimer()
	}
	if s.log != nil {
		s.log.Infof("session closed (%d objects queued)", len(s.objects))
	}
	s.config.Listener.OnDisconnected()
}

func (s *Session) handleConnectionChanged(connected bool) {
	if s.closed {
		return
	}
	if connected {
		s.handle(Event{Kind: EventConnected})
		if s.config.InitiateOnConnect && s.state == StateAwaitingResetRequest {
			s.handle(Event{Kind: EventLocalReset})
		}
		return
	}

	s.linkEpoch++
	s.sessionEpoch++
	s.control = nil
	s.reassembly = nil
	s.failures = 0
	s.stopRetryTimer()
	s.handle(Event{Kind: EventDisconnected})
}

func (s *Session) handleReceived(payload []byte) error {
	if s.closed {
		return nil
	}
	f, err := Decode(payload)
	ev := Event{Kind: EventReceived, Frame: f}
	switch err {
	case nil:
	case ErrMalformed:
		if s.log != nil {
			s.log.Warnf("malformed %s (%d bytes)", f.Kind, len(payload))
		}
		ev.Malformed = true
	default:
		if s.log != nil {
			s.log.Warnf("dropping frame: %v", err)
		}
	}
	return s.handle(ev)
}

// feed hands a chunk to the reassembler. Only resource exhaustion returns an
// error, so that the sender retries; protocol violations drop the object.
func (s *Session) feed(c Chunk) error {
	if c.IsFirst {
		if s.reassembly != nil && s.log != nil {
			s.log.Warnf("new object after %d of %d bytes, dropping partial", s.reassembly.received(), s.reassembly.total)
		}
		r, err := startReassembly(c, s.config.MaxObjectSize)
		s.reassembly = r
		if err == ErrObjectTooLarge {
			if s.log != nil {
				s.log.Errorf("inbound object of %d bytes exceeds %d", c.Total, s.config.MaxObjectSize)
			}
			return err
		}
		if err != nil {
			s.dropInbound(err)
			return nil
		}
	} else {
		if s.reassembly == nil {
			s.dropInbound(ErrUnexpectedChunk)
			return nil
		}
		if err := s.reassembly.feed(c); err != nil {
			s.dropInbound(err)
			return nil
		}
	}

	if !s.reassembly.done() {
		return nil
	}
	r := s.reassembly
	s.reassembly = nil

	data, err := r.payload()
	if err != nil {
		s.dropInbound(err)
		return nil
	}
	var v any
	if err := s.config.Codec.Unmarshal(data, &v); err != nil {
		if s.log != nil {
			s.log.Warnf("dropping undecodable %d byte object: %v", len(data), err)
		}
		return nil
	}
	s.config.Listener.OnMessage(v)
	return nil
}

func (s *Session) dropInbound(err error) {
	s.reassembly = nil
	if s.log != nil {
		s.log.Warnf("dropping inbound object: %v", err)
	}
}

// service puts the next message on the outbox: control frames first, then
// the head object's next chunk while the session is open.
func (s *Session) service() {
	if s.closed || !s.opened || s.inFlight != inFlightNone || s.retryTimer != nil {
		return
	}
	outbox := s.channel.Outbox()
	if outbox.IsBusy() {
		return
	}

	var (
		frame []byte
		kind  inFlight
		n     int
	)
	switch {
	case len(s.control) > 0:
		frame, kind = s.control[0], inFlightControl
	case s.state == StateSessionOpen && len(s.objects) > 0:
		c := s.objects[0].next(int(s.params.TxChunkSize))
		var err error
		frame, err = EncodeChunk(c)
		if err != nil {
			s.dropObject(err)
			s.service()
			return
		}
		kind, n = inFlightChunk, len(c.Data)
	default:
		return
	}

	w, err := outbox.Begin()
	if err == nil {
		_, err = w.Write(frame)
	}
	if err == nil {
		err = outbox.Send()
	}
	if err != nil {
		// The outbox limit covers every frame we build, so this only
		// happens if the outbox was closed underneath us.
		if s.log != nil {
			s.log.Errorf("outbox refused %d byte frame: %v", len(frame), err)
		}
		return
	}

	s.inFlight = kind
	s.inFlightBytes = n
	if kind == inFlightControl {
		s.inFlightEpoch = s.linkEpoch
	} else {
		s.inFlightEpoch = s.sessionEpoch
	}
}

// settle clears the in-flight record and reports whether the completion
// still applies to the queue heads.
func (s *Session) settle() (inFlight, bool) {
	kind := s.inFlight
	s.inFlight = inFlightNone
	switch kind {
	case inFlightControl:
		return kind, s.inFlightEpoch == s.linkEpoch && len(s.control) > 0
	case inFlightChunk:
		return kind, s.inFlightEpoch == s.sessionEpoch && len(s.objects) > 0
	}
	return kind, false
}

func (s *Session) handleSent() {
	if s.closed {
		return
	}
	kind, current := s.settle()
	if current {
		s.failures = 0
		switch kind {
		case inFlightControl:
			s.control = s.control[1:]
		case inFlightChunk:
			obj := s.objects[0]
			if obj.advance(s.inFlightBytes) {
				s.objects = s.objects[1:]
				if s.log != nil {
					s.log.Debugf("object of %d bytes delivered", len(obj.data))
				}
			}
		}
	}
	s.service()
}

func (s *Session) handleSendFailed(err error) {
	if s.closed {
		return
	}
	kind, current := s.settle()
	if !current {
		s.service()
		return
	}

	s.failures++
	if s.failures < s.config.FailureThreshold {
		if s.log != nil {
			s.log.Debugf("%s send failed (%d/%d): %v", kind, s.failures, s.config.FailureThreshold, err)
		}
		s.retryTimer = s.config.Executor.AfterFunc(s.config.RetryDelay, func() {
			s.retryTimer = nil
			s.service()
		})
		return
	}

	s.failures = 0
	switch kind {
	case inFlightControl:
		if s.log != nil {
			s.log.Warnf("dropping control frame after %d failures: %v", s.config.FailureThreshold, err)
		}
		s.control = s.control[1:]
	case inFlightChunk:
		s.dropObject(err)
	}
	s.service()
}

// dropObject removes the head object and reports it to the listener.
func (s *Session) dropObject(reason error) {
	obj := s.objects[0]
	s.objects = s.objects[1:]
	if s.log != nil {
		s.log.Warnf("dropping %d byte object: %v", len(obj.data), reason)
	}
	s.config.Listener.OnError(&FailedMessage{
		Err:   reason,
		data:  obj.serialized(),
		codec: s.config.Codec,
	})
}

func (s *Session) armClosedTimer() {
	if s.closedTimer != nil || len(s.objects) == 0 {
		return
	}
	s.closedTimer = s.config.Executor.AfterFunc(s.config.SessionClosedTimeout, s.handleClosedTimeout)
}

func (s *Session) handleClosedTimeout() {
	s.closedTimer = nil
	if s.closed || s.state == StateSessionOpen || len(s.objects) == 0 {
		return
	}
	s.dropObject(ErrSessionTimeout)
	s.armClosedTimer()
}

func (s *Session) stopClosedTimer() {
	if s.closedTimer != nil {
		s.closedTimer.Stop()
		s.closedTimer = nil
	}
}

func (s *Session) stopRetryTimer() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (k inFlight) String() string {
	switch k {
	case inFlightControl:
		return "control"
	case inFlightChunk:
		return "chunk"
	default:
		return "none"
	}
}

func describe(ev Event) string {
	if ev.Kind == EventReceived {
		return ev.Frame.Kind.String()
	}
	return ev.Kind.String()
}

// channelDelegate receives AppMessage channel events on the executor.
type channelDelegate struct {
	s *Session
}

func (d channelDelegate) OnConnectionChanged(connected bool) {
	d.s.handleConnectionChanged(connected)
}

func (d channelDelegate) OnReceived(payload []byte) error {
	return d.s.handleReceived(payload)
}

func (d channelDelegate) OnSent() {
	d.s.handleSent()
}

func (d channelDelegate) OnSendFailed(err error) {
	d.s.handleSendFailed(err)
}
