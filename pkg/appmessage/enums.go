// Package appmessage implements the AppMessage channel: a single-slot Outbox
// state machine for outgoing PUSH frames, an Inbox answering inbound PUSH
// frames with ACK or NACK, and a Channel binding both to a transport.Link.
//
// All Outbox and Inbox methods must run on the Channel's executor. Link
// callbacks are posted onto the executor by the Channel, so a producer never
// sees a completion callback re-entering its own call stack.
//
// Outbox phases:
//
//	Closed --Open--> Accepting --Begin--> Writing --Send--> AwaitingReplyAndOutboxCallback
//
//	AwaitingReplyAndOutboxCallback --consumed--> AwaitingReply --(N)ACK/timeout--> Accepting
//	AwaitingReplyAndOutboxCallback --(N)ACK/timeout--> AwaitingOutboxCallback --consumed--> Accepting
//	Awaiting* --link error--> Accepting
//	any --Close--> Closed
package appmessage

// Phase is the Outbox state.
type Phase int

const (
	// PhaseClosed is the state before Open and after Close.
	PhaseClosed Phase = iota

	// PhaseAccepting means the outbox is idle and Begin may be called.
	PhaseAccepting

	// PhaseWriting means a producer holds the write handle.
	PhaseWriting

	// PhaseAwaitingReply means the link consumed the frame and the
	// peer's ACK/NACK is outstanding.
	PhaseAwaitingReply

	// PhaseAwaitingOutboxCallback means the (N)ACK (or timeout) arrived
	// before the link reported the frame as consumed.
	PhaseAwaitingOutboxCallback

	// PhaseAwaitingReplyAndOutboxCallback means both the link completion
	// and the peer's reply are outstanding.
	PhaseAwaitingReplyAndOutboxCallback
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "Closed"
	case PhaseAccepting:
		return "Accepting"
	case PhaseWriting:
		return "Writing"
	case PhaseAwaitingReply:
		return "AwaitingReply"
	case PhaseAwaitingOutboxCallback:
		return "AwaitingOutboxCallback"
	case PhaseAwaitingReplyAndOutboxCallback:
		return "AwaitingReplyAndOutboxCallback"
	default:
		return "Unknown"
	}
}

// IsPending returns true for the Awaiting* phases, in which a message is in
// flight and the outbox is busy.
func (p Phase) IsPending() bool {
	return p == PhaseAwaitingReply ||
		p == PhaseAwaitingOutboxCallback ||
		p == PhaseAwaitingReplyAndOutboxCallback
}

// awaitsReply returns true if an ACK/NACK may still be accepted.
func (p Phase) awaitsReply() bool {
	return p == PhaseAwaitingReply || p == PhaseAwaitingReplyAndOutboxCallback
}

// awaitsConsumed returns true if the link completion is still outstanding.
func (p Phase) awaitsConsumed() bool {
	return p == PhaseAwaitingOutboxCallback || p == PhaseAwaitingReplyAndOutboxCallback
}
