package analyzer

import (
	"fmt"
	"strings"
)

// Backend selects how tests are measured.
type Backend int

const (
	// BackendPerf runs tests on this machine and reads hardware counters.
	BackendPerf Backend = iota
	// BackendGem5 runs tests inside the gem5 simulator.
	BackendGem5
	// BackendSSH runs tests on a remote machine over SSH.
	BackendSSH
)

var backendNames = [...]string{
	BackendPerf: "perf",
	BackendGem5: "gem5",
	BackendSSH:  "ssh",
}

func (b Backend) String() string {
	if b < 0 || int(b) >= len(backendNames) {
		return fmt.Sprintf("Backend(%d)", int(b))
	}
	return backendNames[b]
}

// ParseBackend converts a profiler name to a Backend.
func ParseBackend(name string) (Backend, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for b, s := range backendNames {
		if s == n {
			return Backend(b), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// State is the lifecycle stage of an Analyzer.
type State int

const (
	Created State = iota
	Configured
	Analyzing
	Finalized
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Configured:
		return "configured"
	case Analyzing:
		return "analyzing"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
