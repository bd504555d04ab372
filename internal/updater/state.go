package updater

// State is the lifecycle stage of a PrivUpdater.
type State int32

const (
	// StateUnbound means Serve has not been called or binding failed.
	StateUnbound State = iota
	// StateServing means the listener accepts requests.
	StateServing
	// StateShuttingDown means the listener is closed and in-flight requests are finishing.
	StateShuttingDown
	// StateStopped means the accept loop has exited. It is final.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
