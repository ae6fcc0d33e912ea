package runner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/logging"
)

// PerfCapabilities are the file capabilities a test binary needs to open
// hardware performance counters and raise its scheduling priority.
const PerfCapabilities = "cap_sys_admin,cap_sys_nice=ep"

// Escalator grants capabilities to binaries, first without privileges and
// then through an elevation prefix such as sudo. Failures are reported, never
// returned: the binary still runs, possibly with degraded counters.
type Escalator struct {
	commander    Commander
	setcap       []string
	capabilities string
	elevate      []string

	reporter *diag.Reporter
	logger   *slog.Logger

	preferElevated bool
}

// NewEscalator creates an Escalator. setcap is the command prefix used to set
// capabilities (for example ["setcap"] or ["setcap", "-q"]); elevate is
// prepended on the second attempt.
func NewEscalator(
	commander Commander,
	setcap []string,
	elevate []string,
	reporter *diag.Reporter,
	logger *slog.Logger,
) *Escalator {
	if reporter == nil {
		reporter = diag.Discard()
	}
	return &Escalator{
		commander:    commander,
		setcap:       setcap,
		capabilities: PerfCapabilities,
		elevate:      elevate,
		reporter:     reporter,
		logger:       logging.OrDiscard(logger),
	}
}

// Grant sets the capabilities on path and reports whether it succeeded. Once
// an unprivileged attempt failed, later binaries go straight to the elevated
// attempt.
func (e *Escalator) Grant(ctx context.Context, path string) bool {
	argv := append(append([]string{}, e.setcap...), e.capabilities, path)

	if !e.preferElevated {
		res, err := e.commander.Run(ctx, argv)
		if err == nil && res.ExitCode == 0 {
			return true
		}
		e.logger.Debug("unprivileged setcap failed", "binary", path, "exit", res.ExitCode, "error", err)
		e.preferElevated = true
	}

	if len(e.elevate) == 0 {
		e.reporter.Failuref("Can't set capabilities of %s and no elevation command is configured", path)
		e.hint()
		return false
	}

	e.reporter.InfoOncef("elevate", "Try using %s to set capabilities for tests executables",
		strings.Join(e.elevate, " "))

	elevated := append(append([]string{}, e.elevate...), argv...)
	res, err := e.commander.Run(ctx, elevated)
	if err == nil && res.ExitCode == 0 {
		return true
	}

	stderr := res.Stderr
	if err != nil {
		stderr = append(stderr, []byte(err.Error())...)
	}
	e.reporter.CommandFailuref(stderr, "Error during setting capabilities with '%s':", strings.Join(elevated, " "))
	e.hint()
	return false
}

func (e *Escalator) hint() {
	e.reporter.Hintf("Grant %s to the test binaries or lower kernel.perf_event_paranoid; "+
		"counters may read as -1 or 0", e.capabilities)
}
