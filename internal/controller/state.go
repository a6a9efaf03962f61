package controller

import "fmt"

// State is the lifecycle state of one window's controller.
type State int

const (
	// StateUninitialized: no frame seen yet.
	StateUninitialized State = iota
	// StateActive: a pipeline is committed and frames are encoded.
	StateActive
	// StateReselecting: the selector is being consulted.
	StateReselecting
	// StateDegraded: no feasible pipeline. Frames go to the fallback encoder
	// if the catalog has one, otherwise they are dropped.
	StateDegraded
	// StateClosed: the window is gone. Terminal.
	StateClosed
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateActive:        "active",
	StateReselecting:   "reselecting",
	StateDegraded:      "degraded",
	StateClosed:        "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown controller state %q", text)
}

// Reason names what triggered a reselection.
type Reason string

// Reselection triggers.
const (
	ReasonInitial          Reason = "initial"
	ReasonTelemetryOver    Reason = "telemetry_over_budget"
	ReasonTelemetryUnder   Reason = "telemetry_under_budget"
	ReasonCapabilityChange Reason = "capability_change"
	ReasonDimensionChange  Reason = "dimension_change"
	ReasonFormatChange     Reason = "format_change"
	ReasonVideoMode        Reason = "video_mode"
)

// Result is the outcome of one reselection.
type Result string

// Reselection outcomes.
const (
	ResultCommitted Result = "committed"
	ResultUnchanged Result = "unchanged"
	ResultFallback  Result = "fallback"
	ResultStalled   Result = "stalled"
	ResultFailed    Result = "failed"
)
