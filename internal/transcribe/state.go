package transcribe

// State is the lifecycle state of the [Controller].
//
//	Idle --Start--> Starting --ok--> Running --Stop--> Stopping --> Idle
//	Starting --failure--> Idle
//	Running --stream error--> Idle
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
