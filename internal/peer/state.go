package peer

// State is the lifecycle of one remote peer connection.
type State string

const (
	StateIdle         State = "idle"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Terminal states accept no further signals.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Phase refines StateNegotiating.
type Phase string

const (
	PhaseNone          Phase = ""
	PhaseOfferSent     Phase = "offer-sent"
	PhaseAnswerPending Phase = "answer-pending"
)

// ConnState is what a Transport reports about the underlying connection.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (c ConnState) String() string {
	switch c {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
