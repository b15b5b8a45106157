package logger

// State is the orchestrator's operating mode. The split between ArmedReady
// and RecentlyStopped exists for status indication only — both accept new
// frames identically.
type State int

const (
	// StateIdle: storage not ready; frames still reach the live buffer.
	StateIdle State = iota
	// StateArmedReady: storage ready, waiting for traffic.
	StateArmedReady
	// StateActivelyLogging: a record was written within the activity window.
	StateActivelyLogging
	// StateRecentlyStopped: was actively logging, traffic ceased.
	StateRecentlyStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedReady:
		return "armed"
	case StateActivelyLogging:
		return "logging"
	case StateRecentlyStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
