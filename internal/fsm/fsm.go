package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StatePreprocessing State = "preprocessing"
	StateRecognizing   State = "recognizing"
	StateSubmitting    State = "submitting"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

const (
	EventStart      Event = "start"
	EventCompose    Event = "compose"
	EventStop       Event = "stop"
	EventCancel     Event = "cancel"
	EventPrepared   Event = "prepared"
	EventRecognized Event = "recognized"
	EventSubmitted  Event = "submitted"
	EventFail       Event = "fail"
	EventReset      Event = "reset"
)

// Terminal reports whether s ends a pipeline run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateFailed, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventCompose:
			return StateSubmitting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCapturing:
		switch event {
		case EventStop:
			return StatePreprocessing, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePreprocessing:
		switch event {
		case EventPrepared:
			return StateRecognizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecognizing:
		switch event {
		case EventRecognized:
			return StateSubmitting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSubmitting:
		switch event {
		case EventSubmitted:
			return StateSucceeded, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSucceeded, StateFailed:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
