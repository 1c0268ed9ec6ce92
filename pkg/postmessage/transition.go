package postmessage

// Transition is the session state machine. It is a pure function of the
// current state, the event and the local capabilities; the Session applies
// the returned actions.
//
// Duplicate connect and disconnect events are ignored. Leaving SessionOpen
// always includes ActionCloseSession.
func Transition(state State, ev Event, local Capabilities) Outcome {
	out := Outcome{State: state}

	switch ev.Kind {
	case EventConnected:
		if state == StateDisconnected {
			out.State = StateAwaitingResetRequest
		}

	case EventDisconnected:
		if state == StateDisconnected {
			break
		}
		if state == StateSessionOpen {
			out.add(ActionCloseSession)
		}
		out.State = StateDisconnected

	case EventLocalReset:
		if state == StateDisconnected {
			break
		}
		if state == StateSessionOpen {
			out.add(ActionCloseSession)
		}
		out.State = StateAwaitingResetCompleteLocalInitiated
		out.add(ActionSendResetRequest)

	case EventReceived:
		switch state {
		case StateAwaitingResetRequest:
			awaitingResetRequest(&out, ev)
		case StateAwaitingResetCompleteRemoteInitiated:
			awaitingRemoteInitiated(&out, ev, local)
		case StateAwaitingResetCompleteLocalInitiated:
			awaitingLocalInitiated(&out, ev, local)
		case StateSessionOpen:
			sessionOpen(&out, ev)
		}
	}
	return out
}

func awaitingResetRequest(out *Outcome, ev Event) {
	switch ev.Frame.Kind {
	case KindResetRequest:
		out.State = StateAwaitingResetCompleteRemoteInitiated
		out.add(ActionSendResetComplete)
	case KindUnsupportedError:
		// The peer already gave up on a negotiation; answering with a
		// ResetRequest would loop between incompatible peers.
	default:
		out.State = StateAwaitingResetCompleteLocalInitiated
		out.add(ActionSendResetRequest)
	}
}

func awaitingRemoteInitiated(out *Outcome, ev Event, local Capabilities) {
	switch ev.Frame.Kind {
	case KindResetComplete:
		params, ok := negotiateFrame(ev, local)
		if !ok {
			// The initiator reports incompatibility, not us.
			out.State = StateAwaitingResetRequest
			return
		}
		out.State = StateSessionOpen
		out.Params = params
		out.add(ActionOpenSession)
	case KindResetRequest:
		out.add(ActionSendResetComplete)
	case KindUnsupportedError:
		// Wait quietly. Answering with a ResetRequest would draw the same
		// error back, and the two sides would trade resets forever.
		out.State = StateAwaitingResetRequest
	default:
		out.State = StateAwaitingResetCompleteLocalInitiated
		out.add(ActionSendResetRequest)
	}
}

func awaitingLocalInitiated(out *Outcome, ev Event, local Capabilities) {
	switch ev.Frame.Kind {
	case KindResetComplete:
		params, ok := negotiateFrame(ev, local)
		if !ok {
			code := ErrorCodeIncompatibleVersion
			if ev.Malformed {
				code = ErrorCodeMalformedResetComplete
			}
			out.State = StateAwaitingResetRequest
			out.Actions = append(out.Actions, Action{Kind: ActionSendUnsupportedError, Code: code})
			return
		}
		out.State = StateSessionOpen
		out.Params = params
		out.add(ActionSendResetComplete)
		out.add(ActionOpenSession)
	case KindResetRequest:
		out.State = StateAwaitingResetCompleteRemoteInitiated
		out.add(ActionSendResetComplete)
	case KindUnsupportedError:
		out.State = StateAwaitingResetRequest
	}
}

func sessionOpen(out *Outcome, ev Event) {
	switch ev.Frame.Kind {
	case KindChunk:
		if !ev.Malformed {
			out.add(ActionFeedChunk)
		}
	case KindResetRequest:
		out.State = StateAwaitingResetCompleteRemoteInitiated
		out.add(ActionCloseSession)
		out.add(ActionSendResetComplete)
	case KindResetComplete:
		out.State = StateAwaitingResetCompleteLocalInitiated
		out.add(ActionCloseSession)
		out.add(ActionSendResetRequest)
	}
}

func negotiateFrame(ev Event, local Capabilities) (Params, bool) {
	if ev.Malformed {
		return Params{}, false
	}
	return Negotiate(local, ev.Frame.Capabilities)
}

func (o *Outcome) add(kind ActionKind) {
	o.Actions = append(o.Actions, Action{Kind: kind})
}
