package chat

import "sync/atomic"

// State is the lifecycle stage of a single turn.
type State int32

const (
	StateIdle State = iota
	StateAwaitingBackendHealth
	StateAwaitingModel
	StateStreaming
	StateCommitted
	StateFailed
	StateAborted
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateAwaitingBackendHealth: "awaiting_backend_health",
	StateAwaitingModel:         "awaiting_model",
	StateStreaming:             "streaming",
	StateCommitted:             "committed",
	StateFailed:                "failed",
	StateAborted:               "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateAborted
}

type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State   { return State(c.v.Load()) }
func (c *stateCell) store(s State) { c.v.Store(int32(s)) }
