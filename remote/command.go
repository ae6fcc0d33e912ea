package remote

import (
	"strconv"
	"time"
)

// MinLaunchWindow is the shortest window worth a remote launch. Below it
// coreutils timeout may fire before the harness installs its handler.
const MinLaunchWindow = 100 * time.Millisecond

// Exit statuses of a remote run that was interrupted at its deadline: the
// harness exits 2 from its SIGINT handler, a shell reports 130.
const (
	ExitInterrupted      = 2
	ExitInterruptedShell = 130
)

// InterruptAfter wraps argv so the remote host itself sends SIGINT once limit
// has elapsed, preserving the command's own exit status.
func InterruptAfter(limit time.Duration, argv []string) []string {
	secs := strconv.FormatFloat(limit.Seconds(), 'f', 3, 64) + "s"
	out := []string{"timeout", "--preserve-status", "-s", "SIGINT", secs}
	return append(out, argv...)
}

// Interrupted reports whether an exit status means the run hit its deadline.
func Interrupted(exitCode int) bool {
	return exitCode == ExitInterrupted || exitCode == ExitInterruptedShell
}
