package appmessage

import (
	"errors"
	"testing"
	"time"

	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/message"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/google/go-cmp/cmp"
)

type recordingDelegate struct {
	events   []string
	received []string
	reject   error
}

func (d *recordingDelegate) OnConnectionChanged(connected bool) {
	if connected {
		d.events = append(d.events, "up")
	} else {
		d.events = append(d.events, "down")
	}
}

func (d *recordingDelegate) OnReceived(payload []byte) error {
	d.received = append(d.received, string(payload))
	return d.reject
}

func (d *recordingDelegate) OnSent() { d.events = append(d.events, "sent") }

func (d *recordingDelegate) OnSendFailed(err error) {
	d.events = append(d.events, "failed: "+err.Error())
}

func newChannelPair(t *testing.T) (*loop.Manual, *transport.MemoryPair, [2]*Channel, [2]*recordingDelegate) {
	t.Helper()
	exec := loop.NewManual()
	pair := transport.NewMemoryPair(exec.Post)

	var chans [2]*Channel
	var dels [2]*recordingDelegate
	for i := range chans {
		dels[i] = &recordingDelegate{}
		c, err := NewChannel(ChannelConfig{
			Link:           pair.Link(i),
			Executor:       exec,
			Delegate:       dels[i],
			InboxSizeLimit: 16,
			Sleep:          func(time.Duration) {},
		})
		if err != nil {
			t.Fatalf("NewChannel: %v", err)
		}
		if err := c.Open(); err != nil {
			t.Fatalf("Open: %v", err)
		}
		chans[i] = c
	}
	return exec, pair, chans, dels
}

func send(t *testing.T, c *Channel, payload string) {
	t.Helper()
	w, err := c.Outbox().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	w.Write([]byte(payload))
	if err := c.Outbox().Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestChannelConfigValidation(t *testing.T) {
	exec := loop.NewManual()
	link := &fakeLink{}
	d := &recordingDelegate{}

	if _, err := NewChannel(ChannelConfig{Executor: exec, Delegate: d}); err != ErrMissingLink {
		t.Errorf("err = %v, want ErrMissingLink", err)
	}
	if _, err := NewChannel(ChannelConfig{Link: link, Delegate: d}); err != ErrMissingExecutor {
		t.Errorf("err = %v, want ErrMissingExecutor", err)
	}
	if _, err := NewChannel(ChannelConfig{Link: link, Executor: exec}); err != ErrMissingDelegate {
		t.Errorf("err = %v, want ErrMissingDelegate", err)
	}
	if _, err := NewChannel(ChannelConfig{Link: link, Executor: exec, Delegate: d, InboxSizeLimit: 1}); err != ErrSizeLimitTooSmall {
		t.Errorf("err = %v, want ErrSizeLimitTooSmall", err)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	exec, pair, chans, dels := newChannelPair(t)

	pair.Connect()
	exec.Drain()
	if !chans[0].Connected() || !chans[1].Connected() {
		t.Fatal("channels should be connected")
	}

	send(t, chans[0], "ping")
	exec.Drain()
	send(t, chans[1], "pong")
	exec.Drain()

	if diff := cmp.Diff([]string{"up", "sent"}, dels[0].events); diff != "" {
		t.Errorf("side 0 events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ping"}, dels[1].received); diff != "" {
		t.Errorf("side 1 received (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pong"}, dels[0].received); diff != "" {
		t.Errorf("side 0 received (-want +got):\n%s", diff)
	}

	// Each side sent its PUSH and an ACK for the peer's.
	want := [][]byte{
		{byte(message.CommandPush), 0, 'p', 'i', 'n', 'g'},
		{byte(message.CommandAck), 0},
	}
	if diff := cmp.Diff(want, pair.Link(0).Sent()); diff != "" {
		t.Errorf("side 0 frames (-want +got):\n%s", diff)
	}
}

func TestChannelNack(t *testing.T) {
	exec, pair, chans, dels := newChannelPair(t)
	pair.Connect()
	exec.Drain()

	dels[1].reject = errors.New("no room")
	send(t, chans[0], "x")
	exec.Drain()

	// Oversized for the peer's 16 byte inbox.
	dels[1].reject = nil
	send(t, chans[0], "0123456789abcdef")
	exec.Drain()

	want := []string{"up", "failed: " + ErrSendRejected.Error(), "failed: " + ErrSendRejected.Error()}
	if diff := cmp.Diff(want, dels[0].events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, dels[1].received); diff != "" {
		t.Errorf("received (-want +got):\n%s", diff)
	}
}

func TestChannelDisconnectWithMessageInFlight(t *testing.T) {
	exec, pair, chans, dels := newChannelPair(t)
	pair.Connect()
	exec.Drain()

	pair.Link(0).DropNext(1)
	send(t, chans[0], "lost")
	exec.Drain()
	if chans[0].Outbox().Phase() != PhaseAwaitingReply {
		t.Fatalf("phase = %s, want AwaitingReply", chans[0].Outbox().Phase())
	}

	pair.Disconnect()
	exec.Drain()

	// Fails on the disconnect itself, not after the ACK timeout.
	want := []string{"up", "down", "failed: " + ErrNotConnected.Error()}
	if diff := cmp.Diff(want, dels[0].events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if got := chans[0].Outbox().Phase(); got != PhaseAccepting {
		t.Errorf("phase = %s, want Accepting", got)
	}
	if n := exec.PendingTimers(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}

	send(t, chans[0], "again")
	exec.Drain()
	if got := dels[0].events[len(dels[0].events)-1]; got != "failed: "+ErrNotConnected.Error() {
		t.Errorf("last event = %q, want not connected failure", got)
	}
}

func TestChannelIgnoresMalformedFrames(t *testing.T) {
	exec, pair, chans, dels := newChannelPair(t)
	pair.Connect()
	exec.Drain()

	raw := pair.Link(1)
	chans[1].Close()
	for _, f := range [][]byte{{0x01}, {0x42, 0x00}, {byte(message.CommandAck), 0, 1}} {
		raw.Send(f, nil)
	}
	exec.Drain()

	if diff := cmp.Diff([]string{"up"}, dels[0].events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(dels[0].received) != 0 {
		t.Errorf("received %v from malformed frames", dels[0].received)
	}
}

func TestChannelCloseStopsEvents(t *testing.T) {
	exec, pair, chans, dels := newChannelPair(t)

	chans[0].Close()
	pair.Connect()
	exec.Drain()

	if len(dels[0].events) != 0 {
		t.Errorf("closed channel saw %v", dels[0].events)
	}
	if chans[0].Outbox().Phase() != PhaseClosed {
		t.Errorf("phase = %s, want Closed", chans[0].Outbox().Phase())
	}
	if err := chans[0].Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	exec.Drain()
	if diff := cmp.Diff([]string{"up"}, dels[0].events); diff != "" {
		t.Errorf("events after reopen (-want +got):\n%s", diff)
	}
}
