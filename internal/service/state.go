package service

import "fmt"

// State is the interaction state the UI renders its buttons from
type State int32

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Operation identifies which stream a Completion belongs to
type Operation string

const (
	OperationRecord Operation = "record"
	OperationPlay   Operation = "play"
)

// Completion is emitted when a capture has been finalized or a playback
// reached the end of the file. An operator stop during playback emits none.
type Completion struct {
	Operation Operation
	Success   bool
	Err       error
}

// Observer receives notifications on the controller goroutine, in the order
// the transitions happen. Implementations must not call back into the
// controller from these methods.
type Observer interface {
	StateChanged(state State)
	Completed(completion Completion)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	OnStateChanged func(State)
	OnCompleted    func(Completion)
}

func (o ObserverFuncs) StateChanged(state State) {
	if o.OnStateChanged != nil {
		o.OnStateChanged(state)
	}
}

func (o ObserverFuncs) Completed(completion Completion) {
	if o.OnCompleted != nil {
		o.OnCompleted(completion)
	}
}
