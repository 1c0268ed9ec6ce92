package postmessage

import (
	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/transport"
)

// =============================================================================
// Exported Test Infrastructure
// =============================================================================

// TestPair provides two sessions connected through a transport.MemoryPair and
// driven by one loop.Manual, so protocol exchanges run deterministically:
//
//	pair, _ := postmessage.NewTestPair(postmessage.TestPairConfig{})
//	defer pair.Close()
//
//	pair.Connect()
//	pair.Session(0).PostMessage(map[string]any{"hello": "watch"})
//	pair.Exec().Drain()
//	msgs := pair.Recorder(1).Messages
//
// Side 0 initiates the handshake on connect, side 1 waits for it.
type TestPair struct {
	exec      *loop.Manual
	link      *transport.MemoryPair
	sessions  [2]*Session
	recorders [2]*Recorder
}

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// Capabilities per side. Zero values use DefaultCapabilities().
	Capabilities [2]Capabilities

	// Configure, if set, adjusts each side's Config before the session is
	// created. Link, Executor and Listener are already filled in.
	Configure func(side int, c *Config)
}

// NewTestPair creates and opens both sessions. The link starts disconnected.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	p := &TestPair{exec: loop.NewManual()}
	p.link = transport.NewMemoryPair(p.exec.Post)

	for i := 0; i < 2; i++ {
		p.recorders[i] = &Recorder{}
		c := Config{
			Link:              p.link.Link(i),
			Executor:          p.exec,
			Capabilities:      config.Capabilities[i],
			Listener:          p.recorders[i],
			InitiateOnConnect: i == 0,
		}
		if config.Configure != nil {
			config.Configure(i, &c)
		}

		s, err := NewSession(c)
		if err != nil {
			return nil, err
		}
		if err := s.Open(); err != nil {
			return nil, err
		}
		p.sessions[i] = s
	}
	return p, nil
}

// Exec returns the executor driving both sessions.
func (p *TestPair) Exec() *loop.Manual {
	return p.exec
}

// Link returns the memory link pair.
func (p *TestPair) Link() *transport.MemoryPair {
	return p.link
}

// Session returns side 0 or 1.
func (p *TestPair) Session(side int) *Session {
	return p.sessions[side]
}

// Recorder returns the listener of side 0 or 1.
func (p *TestPair) Recorder(side int) *Recorder {
	return p.recorders[side]
}

// Connect brings the link up and runs the handshake to completion.
func (p *TestPair) Connect() {
	p.link.Connect()
	p.exec.Drain()
}

// Disconnect brings the link down and drains the resulting events.
func (p *TestPair) Disconnect() {
	p.link.Disconnect()
	p.exec.Drain()
}

// Close closes both sessions.
func (p *TestPair) Close() {
	for _, s := range p.sessions {
		if s != nil {
			s.Close()
		}
	}
}

// Recorder is a Listener that keeps every event.
type Recorder struct {
	// Events lists "connected", "disconnected", "message" and "error" in
	// arrival order.
	Events   []string
	Messages []any
	Failures []*FailedMessage
}

// OnMessage implements Listener.
func (r *Recorder) OnMessage(v any) {
	r.Events = append(r.Events, "message")
	r.Messages = append(r.Messages, v)
}

// OnConnected implements Listener.
func (r *Recorder) OnConnected() {
	r.Events = append(r.Events, "connected")
}

// OnDisconnected implements Listener.
func (r *Recorder) OnDisconnected() {
	r.Events = append(r.Events, "disconnected")
}

// OnError implements Listener.
func (r *Recorder) OnError(m *FailedMessage) {
	r.Events = append(r.Events, "error")
	r.Failures = append(r.Failures, m)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.Events = nil
	r.Messages = nil
	r.Failures = nil
}
