package connection

// State is the connection lifecycle position. Exactly one State exists per
// manager and only transport lifecycle events mutate it.
type State int

const (
	// StateDisconnected means no transport is open and no retry is pending.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means the transport is open and the heartbeat is running.
	StateConnected

	// StateReconnecting means a backoff timer is pending after a failure.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is delivered to state observers on every transition. Err is set
// when the transition was caused by a failure, including the fatal
// max-attempts-exceeded case.
type StateChange struct {
	Old      State
	New      State
	Err      error
	Attempts int
}

// Info is a point-in-time snapshot of the connection for status indicators.
type Info struct {
	State          State
	Attempts       int
	LastError      error
	ConnectedAt    int64 // unix millis, zero if never connected
	DisconnectedAt int64 // unix millis, zero if never disconnected
}
