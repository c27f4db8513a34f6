package session

// State is a position in the session lifecycle.
//
//	Idle -> AwaitingToken -> Connecting -> HandshakePending -> Streaming
//	Streaming -> Stopping -> Closed
//	Streaming -> Closed           (peer closed the connection)
//	AwaitingToken | Connecting | HandshakePending -> Closed   (error or Stop)
//	Closed -> Idle                (Reset or the next Start)
type State int32

const (
	Idle State = iota
	AwaitingToken
	Connecting
	HandshakePending
	Streaming
	Stopping
	Closed
)

var stateNames = [...]string{
	Idle:             "idle",
	AwaitingToken:    "awaiting_token",
	Connecting:       "connecting",
	HandshakePending: "handshake_pending",
	Streaming:        "streaming",
	Stopping:         "stopping",
	Closed:           "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Live reports whether s lies between Start and Closed.
func (s State) Live() bool {
	return s != Idle && s != Closed
}
