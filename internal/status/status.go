// Package status drives the gateway's tri-state status light: exactly one
// of idle (yellow), success (green), or failure (red) is asserted at any
// time. The Indicator is deliberately tolerant of running headless.
package status

import "sync"

// State is one of the three mutually exclusive visible states.
type State int

const (
	// Idle is asserted at startup and when an orchestration step begins.
	Idle State = iota
	// Success is asserted after a successful orchestration step, until the next step begins.
	Success
	// Failure is asserted after any orchestration error.
	Failure
)

func (s State) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "idle"
	}
}

// Driver asserts exactly one of three output lines. A GPIO-backed Driver and
// a no-op Driver (for headless hosts) both satisfy it.
type Driver interface {
	Set(green, red, yellow bool)
}

// NoopDriver discards every Set call, used when no status hardware is present.
type NoopDriver struct{}

// Set implements Driver.
func (NoopDriver) Set(green, red, yellow bool) {}

// Indicator is the Orchestrator-facing handle: it tracks the current State
// and pushes the corresponding line pattern to the underlying Driver.
type Indicator struct {
	mu     sync.Mutex
	driver Driver
	state  State
}

// New builds an Indicator over the given Driver, starting Idle. A nil driver
// is replaced with NoopDriver so callers never need a nil check.
func New(driver Driver) *Indicator {
	if driver == nil {
		driver = NoopDriver{}
	}
	ind := &Indicator{driver: driver, state: Idle}
	ind.apply()
	return ind
}

// Set transitions to the given state and drives the underlying lines.
func (i *Indicator) Set(state State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	i.apply()
}

// State returns the currently asserted state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Indicator) apply() {
	switch i.state {
	case Success:
		i.driver.Set(true, false, false)
	case Failure:
		i.driver.Set(false, true, false)
	default:
		i.driver.Set(false, false, true)
	}
}
