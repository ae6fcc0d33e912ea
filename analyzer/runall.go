package analyzer

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/bpscope/config"
	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/packer"
)

// Job is one complete analysis: configure, analyze, finalize and pack.
type Job struct {
	Config *config.Config
	// OutDir receives the packed results. It is recreated empty.
	OutDir string
}

// NewJob places the output of cfg under destDir in a fresh
// <profiler>-<id> sub-directory. An absolute out_dir is used as is.
func NewJob(destDir string, cfg *config.Config) Job {
	out := cfg.OutDir
	if !filepath.IsAbs(out) {
		sub := cfg.Profiler + "-" + uuid.NewString()[:8]
		out = filepath.Join(destDir, sub, out)
	}
	return Job{Config: cfg, OutDir: out}
}

// Run executes the job and returns its output directory.
func (j Job) Run(ctx context.Context, opts ...Option) (string, error) {
	if err := packer.Recreate(j.OutDir); err != nil {
		return "", err
	}

	a, err := New(ctx, j.Config, opts...)
	if err != nil {
		return "", err
	}

	results, err := a.Analyze(ctx, j.Config.TestDir)
	if err = errors.Join(err, a.Close()); err != nil {
		return "", err
	}

	if err := packer.Pack(j.OutDir, results); err != nil {
		return "", err
	}
	return j.OutDir, nil
}

// RunAll runs every job and returns the output directories that were
// produced. Sequential runs stop at the first failure. Async runs start one
// worker per job; each analysis owns its workspace, so they share nothing
// but the hardware they measure.
func RunAll(ctx context.Context, jobs []Job, async bool, opts ...Option) ([]string, error) {
	if !async {
		var dirs []string
		for _, j := range jobs {
			dir, err := j.Run(ctx, opts...)
			if err != nil {
				return dirs, err
			}
			dirs = append(dirs, dir)
		}
		return dirs, nil
	}

	warnConcurrentPerf(jobs, opts)

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan string, len(jobs))

	for _, j := range jobs {
		g.Go(func() error {
			dir, err := j.Run(gctx, opts...)
			if err != nil {
				return err
			}
			results <- dir
			return nil
		})
	}

	err := g.Wait()
	close(results)

	var dirs []string
	for dir := range results {
		dirs = append(dirs, dir)
	}
	return dirs, err
}

func warnConcurrentPerf(jobs []Job, opts []Option) {
	perf := 0
	for _, j := range jobs {
		if b, err := ParseBackend(j.Config.Profiler); err == nil && b == BackendPerf {
			perf++
		}
	}
	if perf < 2 {
		return
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logging.OrDiscard(o.logger).Warn(
		"several perf analyses share this machine's counters; results may interfere",
		"perf_jobs", perf)
}
