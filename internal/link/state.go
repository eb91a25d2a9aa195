package link

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	CreatingDescriptor
	AwaitingRemoteDescriptor
	Connecting
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CreatingDescriptor:
		return "creating-descriptor"
	case AwaitingRemoteDescriptor:
		return "awaiting-remote-descriptor"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}
