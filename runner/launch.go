package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/bpscope/counters"
)

// Launch runs argv on the local machine for at most limit. When the limit
// expires, or ctx is cancelled, the process receives SIGINT so it can flush
// its partial counters, and Launch waits for it to exit. Such a run is
// returned with IsFull false and ExitCode 0.
//
// The returned error is non-nil only when the process could not be started.
func Launch(ctx context.Context, argv []string, limit time.Duration) (counters.RawSample, error) {
	if len(argv) == 0 {
		return counters.RawSample{}, errors.New("empty command line")
	}
	if limit <= 0 {
		return counters.RawSample{}, ErrBudgetExhausted
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return counters.RawSample{}, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	var waitErr error
	interrupted := false

	select {
	case waitErr = <-done:
	case <-timer.C:
		interrupted = true
	case <-ctx.Done():
		interrupted = true
	}

	if interrupted {
		select {
		case waitErr = <-done:
			// Finished on its own right at the deadline.
			interrupted = false
		default:
			_ = cmd.Process.Signal(unix.SIGINT)
			waitErr = <-done
		}
	}

	sample := counters.RawSample{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
		IsFull: !interrupted,
	}
	if !interrupted {
		sample.ExitCode = exitCode(waitErr)
	}

	return sample, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
