package circuitbreaker

type State int

const (
	// StateClosed - node calls pass through
	StateClosed State = iota

	// StateOpen - node calls fail immediately with ErrCircuitOpen
	StateOpen

	// StateHalfOpen - a probe call is let through to test the node
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Gauge maps the state to a number suitable for a metrics gauge.
func (s State) Gauge() float64 {
	return float64(s)
}
