package session

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingRemote
	StateNegotiating
	StateConnected
	StateDegraded
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateInitializing:   "initializing",
	StateAwaitingRemote: "awaiting-remote",
	StateNegotiating:    "negotiating",
	StateConnected:      "connected",
	StateDegraded:       "degraded",
	StateClosed:         "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the allowed moves. Anything else is ignored, since
// notifications may arrive in any order.
var transitions = map[State][]State{
	StateIdle:           {StateInitializing, StateClosed},
	StateInitializing:   {StateAwaitingRemote, StateClosed},
	StateAwaitingRemote: {StateNegotiating, StateConnected, StateClosed},
	StateNegotiating:    {StateConnected, StateDegraded, StateClosed},
	StateConnected:      {StateDegraded, StateClosed},
	StateDegraded:       {StateConnected, StateClosed},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role tells the two ends of a room apart.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleWatcher     Role = "watcher"
)
