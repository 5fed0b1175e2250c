package serviceworker

// State is the lifecycle state of the update agent as seen by the application.
type State int

const (
	// Unregistered is the state before Start.
	Unregistered State = iota
	Registered
	InstallingNew
	WaitingForActivation
	Activated
	Failed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case InstallingNew:
		return "installing"
	case WaitingForActivation:
		return "waiting"
	case Activated:
		return "activated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Status is what subscribers receive on every state change. Waiting is only
// set in WaitingForActivation and is not owned by the receiver.
type Status struct {
	State   State
	Waiting Worker
}
