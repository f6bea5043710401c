package engine

// State is one node of the decode engine's state machine (spec §3):
//
//	Idle --init--> Initialized --open--> Opened --start--> Decoding
//	                                       ^                  |
//	                                       +-----stop---------+
//	Any Opened/Decoding --close--> Initialized --uninit--> Idle
type State int

const (
	StateIdle State = iota
	StateInitialized
	StateOpened
	StateDecoding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitialized:
		return "Initialized"
	case StateOpened:
		return "Opened"
	case StateDecoding:
		return "Decoding"
	default:
		return "Unknown"
	}
}
