package transport

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateHandshaking
	StateReady
	StateClosedReconnecting
	StateClosedExhausted
	// StateClosed is terminal: reached only through Disconnect.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosedReconnecting:
		return "closed-reconnecting"
	case StateClosedExhausted:
		return "closed-exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
