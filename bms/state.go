package bms

// State is the aggregate lifecycle.
type State uint8

const (
	Uninitialized State = iota
	Configuring
	Verifying
	Clearing
	SelfTesting
	Ready
	Ticking
	Faulted
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Configuring:   "configuring",
	Verifying:     "verifying",
	Clearing:      "clearing",
	SelfTesting:   "self_testing",
	Ready:         "ready",
	Ticking:       "ticking",
	Faulted:       "faulted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
