package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/loader"
	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/runner"
)

// BinaryPlaceholder is replaced by the test binary in the script arguments.
const BinaryPlaceholder = "{{GEM5_TARGET_BINARY}}"

// ErrMissingISA is returned when no target ISA is configured.
var ErrMissingISA = errors.New("no target isa provided")

// Gem5Config describes one gem5 installation.
type Gem5Config struct {
	// Home is the gem5 source tree.
	Home string
	// ISA is the target ISA, e.g. "arm" or "x86".
	ISA string
	// Bin is the simulator. Defaults to <Home>/build/<ISA>/gem5.opt.
	Bin string
	// Script is the simulation config. Defaults to the deprecated se.py.
	Script string
	// Args are passed to the script. Defaults to an O3 CPU with caches.
	Args []string
	// StatsDir receives one stats file per test and the m5out directory.
	StatsDir string
	// Timeout bounds each simulation.
	Timeout time.Duration
}

// WithDefaults fills the paths derived from Home and ISA.
func (c Gem5Config) WithDefaults() Gem5Config {
	if c.Bin == "" {
		c.Bin = filepath.Join(c.Home, "build", strings.ToUpper(c.ISA), "gem5.opt")
	}
	if c.Script == "" {
		c.Script = filepath.Join(c.Home, "configs", "deprecated", "example", "se.py")
	}
	if c.Args == nil {
		c.Args = []string{"--cpu-type=O3CPU", "--caches", "-c", BinaryPlaceholder}
	}
	return c
}

// Gem5 runs every binary once inside the gem5 simulator.
type Gem5 struct {
	cfg      Gem5Config
	reporter *diag.Reporter
	logger   *slog.Logger
}

// NewGem5 creates a Gem5 collector.
func NewGem5(cfg Gem5Config, reporter *diag.Reporter, logger *slog.Logger) (*Gem5, error) {
	if strings.TrimSpace(cfg.ISA) == "" {
		return nil, ErrMissingISA
	}
	if reporter == nil {
		reporter = diag.Discard()
	}
	return &Gem5{
		cfg:      cfg.WithDefaults(),
		reporter: reporter,
		logger:   logging.OrDiscard(logger),
	}, nil
}

// StatsPath returns the stats file written for a test.
func (g *Gem5) StatsPath(test string) string {
	return filepath.Join(g.cfg.StatsDir, test+".txt")
}

// Command returns the simulator command line for one binary.
func (g *Gem5) Command(bin string) []string {
	argv := []string{
		g.cfg.Bin,
		"--outdir=" + filepath.Join(g.cfg.StatsDir, "m5out"),
		"--stats-file=" + g.StatsPath(counters.TestName(bin)),
		g.cfg.Script,
	}
	for _, a := range g.cfg.Args {
		argv = append(argv, strings.ReplaceAll(a, BinaryPlaceholder, bin))
	}
	return argv
}

// Collect simulates every binary of binDir and reads back its stats file.
func (g *Gem5) Collect(ctx context.Context, binDir string) (counters.Samples, error) {
	bins, err := listBinaries(binDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(g.cfg.StatsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stats dir: %w", err)
	}

	samples := counters.Samples{}
	for _, bin := range bins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.simulate(ctx, bin, samples)
	}

	return samples, nil
}

func (g *Gem5) simulate(ctx context.Context, bin string, samples counters.Samples) {
	test := counters.TestName(bin)
	samples.Ensure(test)

	g.preflight(bin)

	argv := g.Command(bin)
	line := strings.Join(argv, " ")
	g.logger.Info("simulating", "test", test, "command", line)

	statsPath := g.StatsPath(test)
	_ = os.Remove(statsPath)

	raw, err := runner.Launch(ctx, argv, g.cfg.Timeout)
	if err != nil {
		g.reporter.Failuref("Can't launch '%s': %v", line, err)
		return
	}
	if raw.ExitCode != 0 {
		g.reporter.CommandFailuref(raw.Stderr, "gem5 exited with status %d on '%s':", raw.ExitCode, test)
	}

	set, err := ParseStatsFile(statsPath, raw.IsFull)
	if err != nil {
		g.reporter.Failuref("Unusable stats of '%s': %v", test, err)
		return
	}
	samples.Add(test, set)
}

// preflight hints at binaries gem5 will refuse to run.
func (g *Gem5) preflight(bin string) {
	info, err := loader.Inspect(bin)
	if err != nil {
		g.logger.Debug("skipping binary check", "binary", bin, "error", err)
		return
	}
	if err := info.CheckISA(g.cfg.ISA); err != nil {
		g.reporter.Hintf("%v", err)
	}
}
