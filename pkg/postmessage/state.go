package postmessage

// State is the session state.
type State int

const (
	// StateDisconnected means the link is down.
	StateDisconnected State = iota

	// StateAwaitingResetRequest means the link is up and no handshake is
	// in progress.
	StateAwaitingResetRequest

	// StateAwaitingResetCompleteRemoteInitiated means the peer asked for a
	// reset and we answered with our ResetComplete.
	StateAwaitingResetCompleteRemoteInitiated

	// StateAwaitingResetCompleteLocalInitiated means we sent a ResetRequest.
	StateAwaitingResetCompleteLocalInitiated

	// StateSessionOpen means parameters are negotiated and objects flow.
	StateSessionOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitingResetRequest:
		return "AwaitingResetRequest"
	case StateAwaitingResetCompleteRemoteInitiated:
		return "AwaitingResetCompleteRemoteInitiated"
	case StateAwaitingResetCompleteLocalInitiated:
		return "AwaitingResetCompleteLocalInitiated"
	case StateSessionOpen:
		return "SessionOpen"
	default:
		return "Unknown"
	}
}

// EventKind identifies an input to Transition.
type EventKind int

const (
	// EventConnected is the link coming up.
	EventConnected EventKind = iota

	// EventDisconnected is the link going down.
	EventDisconnected

	// EventReceived is an inbound frame.
	EventReceived

	// EventLocalReset is a locally requested renegotiation.
	EventLocalReset
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventReceived:
		return "Received"
	case EventLocalReset:
		return "LocalReset"
	default:
		return "Unknown"
	}
}

// Event is an input to Transition.
type Event struct {
	Kind EventKind

	// Frame is the decoded frame of an EventReceived.
	Frame Frame

	// Malformed marks a frame whose body failed to decode. Frame.Kind is
	// still set.
	Malformed bool
}

// ActionKind identifies a side effect requested by Transition.
type ActionKind int

const (
	// ActionSendResetRequest queues a ResetRequest.
	ActionSendResetRequest ActionKind = iota

	// ActionSendResetComplete queues our ResetComplete.
	ActionSendResetComplete

	// ActionSendUnsupportedError queues an UnsupportedError with Action.Code.
	ActionSendUnsupportedError

	// ActionOpenSession installs Outcome.Params and reports the session open.
	ActionOpenSession

	// ActionCloseSession runs the session-close side effects.
	ActionCloseSession

	// ActionFeedChunk hands Event.Frame.Chunk to the reassembler.
	ActionFeedChunk
)

// String returns a human-readable name for the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionSendResetRequest:
		return "SendResetRequest"
	case ActionSendResetComplete:
		return "SendResetComplete"
	case ActionSendUnsupportedError:
		return "SendUnsupportedError"
	case ActionOpenSession:
		return "OpenSession"
	case ActionCloseSession:
		return "CloseSession"
	case ActionFeedChunk:
		return "FeedChunk"
	default:
		return "Unknown"
	}
}

// Action is a side effect requested by Transition.
type Action struct {
	Kind ActionKind

	// Code is set for ActionSendUnsupportedError.
	Code ErrorCode
}

// Outcome is the result of Transition.
type Outcome struct {
	// State is the next state.
	State State

	// Actions are applied in order, after the state change.
	Actions []Action

	// Params are set when Actions contains ActionOpenSession.
	Params Params
}
