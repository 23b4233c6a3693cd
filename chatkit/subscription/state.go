package subscription

// State is the lifecycle state of a Subscription.
type State int

const (
	// StateConnecting: streams are opening and the current user has not
	// arrived yet.
	StateConnecting State = iota
	// StateActive: the core stream delivered the current user and every
	// stream is healthy.
	StateActive
	// StateDegraded: at least one stream is failing or reconnecting while
	// the subscription stays up.
	StateDegraded
	// StateTerminated: closed for good.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
