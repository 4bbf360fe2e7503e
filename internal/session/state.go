package session

// ConnState is the connection lifecycle state of a RealtimeSession.
type ConnState int

const (
	// StateDisconnected means no transport exists and none is being opened.
	StateDisconnected ConnState = iota

	// StateConnecting means a transport dial is in flight.
	StateConnecting

	// StateConnected means the transport is open and frames are flowing.
	StateConnected

	// StateReconnecting means an abnormal closure occurred and a backoff
	// timer is running before the next attempt.
	StateReconnecting

	// StateFailed means the session gave up: either the retry limit was
	// exhausted or the server rejected the connection as unauthorized.
	// Only an explicit Reconnect leaves this state.
	StateFailed

	// StateError means the transport reported an error; the close that
	// follows decides where the session goes next.
	StateError
)

// String returns the state name used in logs and the CLI.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
