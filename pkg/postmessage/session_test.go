package postmessage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/backkem/pebblemsg/pkg/appmessage"
	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/google/go-cmp/cmp"
)

// rawCodec passes strings through unchanged so tests control the exact
// serialized length.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.New("rawCodec: not a string")
	}
	return []byte(s), nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*any)
	if !ok {
		return errors.New("rawCodec: unsupported target")
	}
	*p = string(data)
	return nil
}

func newPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()
	pair, err := NewTestPair(config)
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}
	t.Cleanup(pair.Close)
	return pair
}

func withRawCodec(side int, c *Config) {
	c.Codec = rawCodec{}
}

// sentFrames decodes the PostMessage frames side pushed, skipping ACK/NACK.
func sentFrames(t *testing.T, pair *TestPair, side int) []Frame {
	t.Helper()
	var frames []Frame
	for _, raw := range pair.Link().Link(side).Sent() {
		h, payload, err := message.Decode(raw)
		if err != nil {
			t.Fatalf("side %d sent undecodable frame %x: %v", side, raw, err)
		}
		if h.Command != message.CommandPush {
			continue
		}
		f, err := Decode(payload)
		if err != nil {
			t.Fatalf("side %d sent malformed frame %x: %v", side, payload, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func kinds(frames []Frame) []Kind {
	out := make([]Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind
	}
	return out
}

func wantEvents(t *testing.T, pair *TestPair, side int, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, pair.Recorder(side).Events); diff != "" {
		t.Errorf("side %d events (-want +got):\n%s", side, diff)
	}
}

func TestSessionConfig(t *testing.T) {
	exec := loop.NewManual()
	link := transport.NewMemoryPair(exec.Post).Link(0)

	if _, err := NewSession(Config{Executor: exec}); err != ErrMissingLink {
		t.Errorf("err = %v, want ErrMissingLink", err)
	}
	if _, err := NewSession(Config{Link: link}); err != ErrMissingExecutor {
		t.Errorf("err = %v, want ErrMissingExecutor", err)
	}
	bad := Capabilities{MinVersion: 3, MaxVersion: 1, MaxTxChunkSize: 1, MaxRxChunkSize: 1}
	if _, err := NewSession(Config{Link: link, Executor: exec, Capabilities: bad}); err != ErrInvalidVersionRange {
		t.Errorf("err = %v, want ErrInvalidVersionRange", err)
	}

	s, err := NewSession(Config{Link: link, Executor: exec})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Open(); err != ErrAlreadyOpened {
		t.Errorf("second Open = %v, want ErrAlreadyOpened", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want Disconnected", s.State())
	}
	if _, ok := s.Params(); ok {
		t.Error("Params valid before the session opened")
	}
}

func TestSessionHandshake(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Capabilities: [2]Capabilities{
			{MinVersion: 1, MaxVersion: 2, MaxTxChunkSize: 2000, MaxRxChunkSize: 1000},
			{MinVersion: 1, MaxVersion: 1, MaxTxChunkSize: 500, MaxRxChunkSize: 1500},
		},
	})
	pair.Connect()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateSessionOpen {
			t.Fatalf("side %d state = %s, want SessionOpen", side, got)
		}
		wantEvents(t, pair, side, "connected")
	}

	p0, _ := pair.Session(0).Params()
	p1, _ := pair.Session(1).Params()
	if diff := cmp.Diff(Params{Version: 1, TxChunkSize: 1500, RxChunkSize: 500}, p0); diff != "" {
		t.Errorf("side 0 params (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Params{Version: 1, TxChunkSize: 500, RxChunkSize: 1500}, p1); diff != "" {
		t.Errorf("side 1 params (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]Kind{KindResetRequest, KindResetComplete}, kinds(sentFrames(t, pair, 0))); diff != "" {
		t.Errorf("side 0 frames (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Kind{KindResetComplete}, kinds(sentFrames(t, pair, 1))); diff != "" {
		t.Errorf("side 1 frames (-want +got):\n%s", diff)
	}

	// A duplicate connect is ignored.
	pair.Link().Connect()
	pair.Exec().Drain()
	wantEvents(t, pair, 0, "connected")
}

func TestSessionBothSidesInitiate(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Configure: func(side int, c *Config) { c.InitiateOnConnect = true },
	})
	pair.Connect()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateSessionOpen {
			t.Errorf("side %d state = %s, want SessionOpen", side, got)
		}
		wantEvents(t, pair, side, "connected")
	}
}

func TestSessionIncompatibleInitiator(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Capabilities: [2]Capabilities{
			{MinVersion: 2, MaxVersion: 3, MaxTxChunkSize: 100, MaxRxChunkSize: 100},
			{MinVersion: 0, MaxVersion: 1, MaxTxChunkSize: 100, MaxRxChunkSize: 100},
		},
	})
	pair.Connect()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateAwaitingResetRequest {
			t.Errorf("side %d state = %s, want AwaitingResetRequest", side, got)
		}
		wantEvents(t, pair, side)
	}

	frames := sentFrames(t, pair, 0)
	if diff := cmp.Diff([]Kind{KindResetRequest, KindUnsupportedError}, kinds(frames)); diff != "" {
		t.Fatalf("initiator frames (-want +got):\n%s", diff)
	}
	if frames[1].Code != ErrorCodeIncompatibleVersion {
		t.Errorf("code = %s, want IncompatibleVersion", frames[1].Code)
	}
}

func TestSessionIncompatibleResponder(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Capabilities: [2]Capabilities{
			{MinVersion: 0, MaxVersion: 1, MaxTxChunkSize: 100, MaxRxChunkSize: 100},
			{MinVersion: 2, MaxVersion: 3, MaxTxChunkSize: 100, MaxRxChunkSize: 100},
		},
	})
	pair.Connect()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateAwaitingResetRequest {
			t.Errorf("side %d state = %s, want AwaitingResetRequest", side, got)
		}
	}
	// The responder only ever answers with its ResetComplete.
	if diff := cmp.Diff([]Kind{KindResetComplete}, kinds(sentFrames(t, pair, 1))); diff != "" {
		t.Errorf("responder frames (-want +got):\n%s", diff)
	}
}

func TestSessionObjectRoundTrip(t *testing.T) {
	pair := newPair(t, TestPairConfig{})
	pair.Connect()

	obj := map[string]any{
		"type":  "notification",
		"title": strings.Repeat("long ", 900),
		"count": float64(3),
	}
	if err := pair.Session(0).PostMessage(obj); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := pair.Session(1).PostMessage([]any{"ack", true}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	pair.Exec().Drain()

	if diff := cmp.Diff([]any{obj}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("side 1 messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{[]any{"ack", true}}, pair.Recorder(0).Messages); diff != "" {
		t.Errorf("side 0 messages (-want +got):\n%s", diff)
	}
	for side := 0; side < 2; side++ {
		if n := pair.Session(side).QueuedObjects(); n != 0 {
			t.Errorf("side %d queued = %d, want 0", side, n)
		}
	}
}

func TestSessionChunkScenario(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})
	pair.Connect()

	payload := strings.Repeat("a", 5000)
	if err := pair.Session(0).PostMessage(payload); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if n := pair.Session(0).QueuedObjects(); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}
	pair.Exec().Drain()

	var sizes []int
	for _, f := range sentFrames(t, pair, 0) {
		if f.Kind == KindChunk {
			sizes = append(sizes, len(f.Chunk.Data))
		}
	}
	if diff := cmp.Diff([]int{2000, 2000, 1001}, sizes); diff != "" {
		t.Errorf("chunk sizes (-want +got):\n%s", diff)
	}
	if n := pair.Session(0).QueuedObjects(); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}
	if diff := cmp.Diff([]any{payload}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionChunkFailuresDropObject(t *testing.T) {
	pair := newPair(t, TestPairConfig{})
	pair.Connect()

	link := pair.Link().Link(0)
	link.FailNext(transport.ErrSendTimeout, transport.ErrSendTimeout, transport.ErrSendTimeout)
	if err := pair.Session(0).PostMessage(map[string]any{"n": float64(1)}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	pair.Exec().Drain()
	wantEvents(t, pair, 0, "connected")

	pair.Exec().Advance(DefaultRetryDelay)
	wantEvents(t, pair, 0, "connected")

	pair.Exec().Advance(DefaultRetryDelay)
	wantEvents(t, pair, 0, "connected", "error")

	failed := pair.Recorder(0).Failures[0]
	if !errors.Is(failed.Err, appmessage.ErrNotConnected) {
		t.Errorf("reason = %v, want ErrNotConnected", failed.Err)
	}
	if string(failed.Data()) != `{"n":1}` {
		t.Errorf("data = %q", failed.Data())
	}
	var v map[string]any
	if err := failed.Decode(&v); err != nil || v["n"] != float64(1) {
		t.Errorf("Decode = %v, %v", v, err)
	}
	if n := pair.Session(0).QueuedObjects(); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}
	if len(pair.Recorder(1).Messages) != 0 {
		t.Errorf("peer received %v", pair.Recorder(1).Messages)
	}

	// The next object goes through normally.
	pair.Session(0).PostMessage("next")
	pair.Exec().Drain()
	if diff := cmp.Diff([]any{"next"}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestSessionRetrySucceeds(t *testing.T) {
	pair := newPair(t, TestPairConfig{})
	pair.Connect()

	pair.Link().Link(0).FailNext(transport.ErrNotConnected, transport.ErrNotConnected)
	pair.Session(0).PostMessage("x")
	pair.Exec().Advance(2 * DefaultRetryDelay)

	if diff := cmp.Diff([]any{"x"}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	wantEvents(t, pair, 0, "connected")
}

func TestSessionReconnectRewinds(t *testing.T) {
	caps := Capabilities{MinVersion: 1, MaxVersion: 1, MaxTxChunkSize: 10, MaxRxChunkSize: 10}
	pair := newPair(t, TestPairConfig{
		Capabilities: [2]Capabilities{caps, caps},
		Configure: func(side int, c *Config) {
			c.Codec = rawCodec{}
			c.AckTimeout = time.Second
		},
	})
	pair.Connect()

	payload := strings.Repeat("0123456789", 3) + "abcd"
	pair.Session(0).PostMessage(payload)

	// The first chunk is on the link; lose the second one.
	pair.Link().Link(0).DropNext(1)
	pair.Exec().Drain()

	pair.Disconnect()
	wantEvents(t, pair, 0, "connected", "disconnected")
	wantEvents(t, pair, 1, "connected", "disconnected")
	if n := pair.Session(0).QueuedObjects(); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}

	// The lost chunk was failed on the disconnect; its late timeout is stale.
	pair.Exec().Advance(time.Second)
	pair.Connect()

	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
	if diff := cmp.Diff([]any{payload}, pair.Recorder(1).Messages); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}

	var firsts []uint32
	for _, f := range sentFrames(t, pair, 0) {
		if f.Kind == KindChunk && f.Chunk.IsFirst {
			firsts = append(firsts, f.Chunk.Total)
		}
	}
	if diff := cmp.Diff([]uint32{35, 35}, firsts); diff != "" {
		t.Errorf("first chunks (-want +got):\n%s", diff)
	}
}

func TestSessionImmediateReconnectWithChunkAwaitingAck(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})
	pair.Connect()

	// The link consumes the first chunk but no ACK ever comes back.
	pair.Link().Link(0).DropNext(1)
	payload := strings.Repeat("b", 5000)
	if err := pair.Session(0).PostMessage(payload); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	pair.Exec().Drain()
	if got := pair.Session(0).channel.Outbox().Phase(); got != appmessage.PhaseAwaitingReply {
		t.Fatalf("outbox phase = %s, want AwaitingReply", got)
	}

	// Reconnect well inside the ACK timeout.
	pair.Disconnect()
	pair.Connect()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateSessionOpen {
			t.Fatalf("side %d state = %s, want SessionOpen", side, got)
		}
	}
	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
	if diff := cmp.Diff([]any{payload}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if n := pair.Session(0).QueuedObjects(); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}

	// Nothing left to fire later.
	pair.Exec().Advance(appmessage.DefaultAckTimeout + DefaultSessionClosedTimeout)
	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
	if len(pair.Recorder(1).Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(pair.Recorder(1).Messages))
	}
}

func TestSessionQueueSurvivesShortDisconnect(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})
	pair.Connect()

	pair.Link().Link(0).DropNext(1)
	pair.Session(0).PostMessage("in flight")
	pair.Exec().Drain()

	pair.Disconnect()
	pair.Session(0).PostMessage("queued while down")
	if n := pair.Session(0).QueuedObjects(); n != 2 {
		t.Fatalf("queued = %d, want 2", n)
	}

	pair.Exec().Advance(DefaultSessionClosedTimeout - time.Millisecond)
	wantEvents(t, pair, 0, "connected", "disconnected")
	pair.Connect()

	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
	if diff := cmp.Diff([]any{"in flight", "queued while down"}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if len(pair.Recorder(0).Failures) != 0 {
		t.Errorf("failures = %v, want none", pair.Recorder(0).Failures)
	}

	// The closed timer was cancelled by the reopen.
	pair.Exec().Advance(DefaultSessionClosedTimeout)
	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
}

func TestSessionControlBeforeChunks(t *testing.T) {
	caps := Capabilities{MinVersion: 1, MaxVersion: 1, MaxTxChunkSize: 4, MaxRxChunkSize: 4}
	pair := newPair(t, TestPairConfig{
		Capabilities: [2]Capabilities{caps, caps},
		Configure:    withRawCodec,
	})
	pair.Connect()

	s := pair.Session(0)
	s.PostMessage("first object")
	s.PostMessage("second")
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	pair.Exec().Drain()

	frames := sentFrames(t, pair, 0)[2:] // skip the initial handshake
	if frames[0].Kind != KindChunk || frames[1].Kind != KindResetRequest {
		t.Fatalf("frames = %v, want chunk then ResetRequest", kinds(frames))
	}
	if diff := cmp.Diff([]any{"first object", "second"}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	wantEvents(t, pair, 0, "connected", "disconnected", "connected")
}

func TestSessionUnexpectedResetComplete(t *testing.T) {
	pair := newPair(t, TestPairConfig{})
	pair.Connect()

	// Inject a stray ResetComplete straight onto side 1's link.
	stray := message.Encode(message.Header{Command: message.CommandPush, TransactionID: 200}, EncodeResetComplete(DefaultCapabilities()))
	pair.Link().Link(1).Send(stray, nil)
	pair.Exec().Drain()

	for side := 0; side < 2; side++ {
		if got := pair.Session(side).State(); got != StateSessionOpen {
			t.Errorf("side %d state = %s, want SessionOpen", side, got)
		}
		wantEvents(t, pair, side, "connected", "disconnected", "connected")
	}
}

func TestSessionClosedQueueTimeout(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})

	pair.Session(0).PostMessage("one")
	pair.Session(0).PostMessage("two")

	pair.Exec().Advance(DefaultSessionClosedTimeout - time.Millisecond)
	wantEvents(t, pair, 0)

	pair.Exec().Advance(time.Millisecond)
	wantEvents(t, pair, 0, "error")
	if f := pair.Recorder(0).Failures[0]; f.Err != ErrSessionTimeout || string(f.Data()) != "one" {
		t.Errorf("failure = %v %q, want ErrSessionTimeout \"one\"", f.Err, f.Data())
	}

	pair.Exec().Advance(DefaultSessionClosedTimeout)
	wantEvents(t, pair, 0, "error", "error")
	if n := pair.Session(0).QueuedObjects(); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}
	if n := pair.Exec().PendingTimers(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestSessionQueuedUntilOpen(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})

	pair.Session(0).PostMessage("early")
	pair.Exec().Advance(time.Second)
	pair.Connect()
	pair.Exec().Advance(DefaultSessionClosedTimeout)

	wantEvents(t, pair, 0, "connected")
	if diff := cmp.Diff([]any{"early"}, pair.Recorder(1).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestSessionInboundTooLarge(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Configure: func(side int, c *Config) {
			c.Codec = rawCodec{}
			if side == 1 {
				c.MaxObjectSize = 100
			}
		},
	})
	pair.Connect()

	pair.Session(0).PostMessage(strings.Repeat("z", 200))
	pair.Exec().Advance(2 * DefaultRetryDelay)

	wantEvents(t, pair, 0, "connected", "error")
	if f := pair.Recorder(0).Failures[0]; f.Err != appmessage.ErrSendRejected {
		t.Errorf("reason = %v, want ErrSendRejected", f.Err)
	}
	wantEvents(t, pair, 1, "connected")
}

func TestSessionDropsMalformedInbound(t *testing.T) {
	pair := newPair(t, TestPairConfig{Configure: withRawCodec})
	pair.Connect()

	raw := pair.Link().Link(1)
	push := func(txID uint8, c Chunk) {
		f, err := EncodeChunk(c)
		if err != nil {
			t.Fatalf("EncodeChunk: %v", err)
		}
		raw.Send(message.Encode(message.Header{Command: message.CommandPush, TransactionID: txID}, f), nil)
	}

	push(100, Chunk{IsFirst: true, Total: 6, Data: []byte("ab")})
	push(101, Chunk{Offset: 3, Data: []byte("de\x00")})
	push(102, Chunk{IsFirst: true, Total: 3, Data: []byte("xyz")})
	push(103, Chunk{IsFirst: true, Total: 3, Data: []byte("ok\x00")})
	pair.Exec().Drain()

	if diff := cmp.Diff([]any{"ok"}, pair.Recorder(0).Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if pair.Session(0).State() != StateSessionOpen {
		t.Errorf("state = %s, want SessionOpen", pair.Session(0).State())
	}
}

func TestSessionPostMessageErrors(t *testing.T) {
	pair := newPair(t, TestPairConfig{
		Configure: func(side int, c *Config) { c.MaxObjectSize = 16 },
	})

	s := pair.Session(0)
	if err := s.PostMessage(make(chan int)); err == nil {
		t.Error("unmarshalable value accepted")
	}
	if err := s.PostMessage(strings.Repeat("x", 14)); err != ErrObjectTooLarge {
		t.Errorf("err = %v, want ErrObjectTooLarge", err)
	}
	if err := s.PostMessage(strings.Repeat("x", 13)); err != nil {
		t.Errorf("err = %v at the limit", err)
	}
	if err := s.Reset(); err != ErrDisconnected {
		t.Errorf("Reset = %v, want ErrDisconnected", err)
	}

	nul := newPair(t, TestPairConfig{Configure: withRawCodec})
	if err := nul.Session(0).PostMessage("a\x00b"); err != ErrEmbeddedNUL {
		t.Errorf("err = %v, want ErrEmbeddedNUL", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.PostMessage("x"); err != ErrClosed {
		t.Errorf("after close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestSessionCloseWithMessageInFlight(t *testing.T) {
	pair := newPair(t, TestPairConfig{})
	pair.Connect()

	s := pair.Session(0)
	s.PostMessage("bye")
	s.Close()
	pair.Exec().Advance(time.Minute)

	wantEvents(t, pair, 0, "connected")
	if s.State() != StateDisconnected || s.QueuedObjects() != 0 {
		t.Errorf("state = %s queued = %d after close", s.State(), s.QueuedObjects())
	}
	if n := pair.Exec().PendingTimers(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestSessionOverPipe(t *testing.T) {
	exec := loop.NewEventLoop(loop.EventLoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go exec.Run(ctx)

	pipe, l0, l1, err := transport.PipeLinks(transport.ConnLinkConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("PipeLinks: %v", err)
	}
	defer pipe.Close()
	defer l0.Close()
	defer l1.Close()

	opened := make(chan int, 2)
	received := make(chan any, 1)
	sessions := make([]*Session, 2)
	for i, link := range []transport.Link{l0, l1} {
		i := i
		s, err := NewSession(Config{
			Link:              link,
			Executor:          exec,
			InitiateOnConnect: i == 0,
			Capabilities:      Capabilities{MinVersion: 1, MaxVersion: 1, MaxTxChunkSize: 64, MaxRxChunkSize: 64},
			Listener: ListenerFuncs{
				Connected: func() { opened <- i },
				Message:   func(v any) { received <- v },
			},
		})
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		sessions[i] = s
	}

	exec.Post(func() {
		for _, s := range sessions {
			if err := s.Open(); err != nil {
				t.Errorf("Open: %v", err)
			}
		}
	})
	for i := 0; i < 2; i++ {
		select {
		case <-opened:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for the session to open")
		}
	}

	want := map[string]any{"text": strings.Repeat("over the pipe ", 40)}
	exec.Post(func() {
		if err := sessions[0].PostMessage(want); err != nil {
			t.Errorf("PostMessage: %v", err)
		}
	})

	select {
	case got := <-received:
		if diff := cmp.Diff(any(want), got); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the message")
	}

	done := make(chan struct{})
	exec.Post(func() {
		for _, s := range sessions {
			s.Close()
		}
		close(done)
	})
	<-done
}
