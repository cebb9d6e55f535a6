package mtls

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateHandshaking
	StateEstablished
	StateClosed
	StateFailed
)

var stateToStr = map[State]string{
	StateIdle:        "Idle",
	StateConnecting:  "Connecting",
	StateListening:   "Listening",
	StateHandshaking: "Handshaking",
	StateEstablished: "Established",
	StateClosed:      "Closed",
	StateFailed:      "Failed",
}

func (s State) String() string {
	if str, ok := stateToStr[s]; ok {
		return str
	}
	return "Unknown"
}

// Terminal closed or failed; endpoint can not be used anymore
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }
