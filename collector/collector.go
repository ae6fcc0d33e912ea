// Package collector executes built test binaries on a measurement backend
// and turns their output into per-test counter samples.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sarchlab/bpscope/builder"
	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/runner"
)

// Collector measures every binary of a directory.
type Collector interface {
	Collect(ctx context.Context, binDir string) (counters.Samples, error)
}

// StreamCollector measures binaries as a background build announces them.
type StreamCollector interface {
	CollectStream(ctx context.Context, stream *builder.Stream) (counters.Samples, error)
	Close() error
}

// Policy bounds how long and how often each test runs.
type Policy struct {
	// Timeout is the wall-clock window shared by all launches of one test.
	Timeout time.Duration
	// MaxLaunches caps the launches per test. Negative means no cap.
	MaxLaunches int
}

// DefaultPolicy runs each test repeatedly for ten seconds.
func DefaultPolicy() Policy {
	return Policy{Timeout: 10 * time.Second, MaxLaunches: -1}
}

type launchFunc func(limit time.Duration) (counters.RawSample, error)

// sampler runs the budgeted launch loop shared by the perf and ssh backends.
type sampler struct {
	policy    Policy
	minWindow time.Duration
	reporter  *diag.Reporter
	logger    *slog.Logger
}

func newSampler(policy Policy, minWindow time.Duration, reporter *diag.Reporter, logger *slog.Logger) sampler {
	if reporter == nil {
		reporter = diag.Discard()
	}
	return sampler{
		policy:    policy,
		minWindow: minWindow,
		reporter:  reporter,
		logger:    logging.OrDiscard(logger),
	}
}

// sample launches one test until its budget or launch cap is spent and adds
// every usable sample to out. Only cancellation of ctx is returned as an
// error; a test that cannot be launched is reported and left without samples.
func (s sampler) sample(
	ctx context.Context,
	test string,
	argv []string,
	launch launchFunc,
	out counters.Samples,
) error {
	out.Ensure(test)

	line := strings.Join(argv, " ")
	s.logger.Info("executing", "test", test, "command", line)

	budget := runner.NewBudget(s.policy.Timeout)
	n, err := runner.Repeat(budget, s.policy.MaxLaunches, s.minWindow, func(limit time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := launch(limit)
		if err != nil {
			return err
		}

		s.check(line, raw)

		set, err := counters.FromHarnessOutput(raw)
		if err != nil {
			s.reporter.Failuref("Unusable output of '%s': %v", line, err)
			return nil
		}
		out.Add(test, set)
		return nil
	})

	s.logger.Debug("test sampled", "test", test, "launches", n, "usable", len(out[test]))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		s.reporter.Failuref("Can't launch '%s': %v", line, err)
	}
	return nil
}

// check reports stderr noise and failed exits. The sample is kept either
// way.
func (s sampler) check(line string, raw counters.RawSample) {
	if strings.TrimSpace(string(raw.Stderr)) != "" {
		s.reporter.CommandFailuref(raw.Stderr, "Some error occurred during launching '%s':", line)
	}
	if raw.ExitCode != 0 {
		s.reporter.Hintf("'%s' exited with status %d. Maybe the binary lacks capabilities "+
			"or the CPU has no such debug counters", line, raw.ExitCode)
	}
}

// listBinaries returns the regular files of dir in directory order.
func listBinaries(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary dir: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list binary dir: %w", err)
	}

	var bins []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			bins = append(bins, filepath.Join(dir, e.Name()))
		}
	}
	return bins, nil
}
