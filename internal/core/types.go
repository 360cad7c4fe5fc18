package core

// State is the host-managed lifecycle state of an agent instance.
type State string

const (
	StateRegistered State = "registered"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)
