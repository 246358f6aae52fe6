package device

import (
	"relay-client/core/engine"
)

// State is the externally observable lifecycle state of the coordinator.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Status is State plus whether a device handle is installed. Ready without a device is
// the guest (logged out) sub-state.
type Status struct {
	State     State
	HasDevice bool
}

// Ready reports whether a device handle is installed and usable.
func (s Status) Ready() bool {
	return s.State == StateReady && s.HasDevice
}

// Signals are the inputs of the tunnel decision, read at one instant.
type Signals struct {
	engine.State
	PathExpensive bool `json:"path_expensive"`
}

// AllowProvideHere is false on an expensive path unless providing on all networks was chosen.
func (s Signals) AllowProvideHere() bool {
	return !s.PathExpensive || s.ProvideNetworkMode == engine.ProvideNetworkModeAll
}

// ShouldRun is the tunnel decision. Providing needs an allowed path, connecting always
// needs the tunnel, and routing local traffic through the tunnel forces it on.
func (s Signals) ShouldRun() bool {
	return (s.ProvideEnabled && s.AllowProvideHere()) || s.ConnectEnabled || !s.RouteLocal
}
