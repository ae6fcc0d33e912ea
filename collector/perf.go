package collector

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/runner"
)

// Perf runs binaries on this machine. Each binary embeds the perf harness,
// reads its hardware counters and prints them on exit.
type Perf struct {
	sampler

	cpu       int
	escalator *runner.Escalator
}

// NewPerf creates a Perf collector pinning tests to cpu. A nil escalator
// skips capability grants.
func NewPerf(
	policy Policy,
	cpu int,
	escalator *runner.Escalator,
	reporter *diag.Reporter,
	logger *slog.Logger,
) *Perf {
	return &Perf{
		sampler:   newSampler(policy, 0, reporter, logger),
		cpu:       cpu,
		escalator: escalator,
	}
}

// Collect grants capabilities to every binary of binDir, then samples each
// of them in turn.
func (p *Perf) Collect(ctx context.Context, binDir string) (counters.Samples, error) {
	bins, err := listBinaries(binDir)
	if err != nil {
		return nil, err
	}

	if p.escalator != nil {
		for _, bin := range bins {
			p.escalator.Grant(ctx, bin)
		}
	}

	samples := counters.Samples{}
	for _, bin := range bins {
		argv := []string{bin, strconv.Itoa(p.cpu)}
		launch := func(limit time.Duration) (counters.RawSample, error) {
			return runner.Launch(ctx, argv, limit)
		}

		if err := p.sample(ctx, counters.TestName(bin), argv, launch, samples); err != nil {
			return nil, err
		}
	}

	return samples, nil
}
