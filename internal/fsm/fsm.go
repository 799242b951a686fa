// Package fsm models the connection lifecycle as an explicit state machine.
package fsm

import "fmt"

type State string

type Event string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const (
	EventDial     Event = "dial"
	EventOpened   Event = "opened"
	EventDropped  Event = "dropped"
	EventGiveUp   Event = "give_up"
	EventShutdown Event = "shutdown"
)

func Transition(current State, event Event) (State, error) {
	if event == EventShutdown && current != StateClosed {
		return StateClosed, nil
	}

	switch current {
	case StateDisconnected:
		switch event {
		case EventDial:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventOpened:
			return StateConnected, nil
		case EventDropped:
			return StateReconnecting, nil
		case EventGiveUp:
			return StateDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnected:
		switch event {
		case EventDropped:
			return StateReconnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReconnecting:
		switch event {
		case EventDial:
			return StateConnecting, nil
		case EventGiveUp:
			return StateDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
