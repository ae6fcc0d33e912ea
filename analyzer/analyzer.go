// Package analyzer wires a patcher, a builder and a collector for one
// backend and runs them over a directory of tests.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sarchlab/bpscope/attachments"
	"github.com/sarchlab/bpscope/builder"
	"github.com/sarchlab/bpscope/collector"
	"github.com/sarchlab/bpscope/config"
	"github.com/sarchlab/bpscope/correction"
	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/patcher"
	"github.com/sarchlab/bpscope/remote"
	"github.com/sarchlab/bpscope/runner"
	"github.com/sarchlab/bpscope/workspace"
)

var (
	// ErrUnknownBackend is returned for a profiler name that is not a
	// backend.
	ErrUnknownBackend = errors.New("unknown profiler")
	// ErrMissingISA is returned when gem5 is selected without a target ISA.
	ErrMissingISA = collector.ErrMissingISA
	// ErrFinalized is returned when an Analyzer is used after Close.
	ErrFinalized = errors.New("analyzer is finalized")
	// ErrBusy is returned when Analyze is called while another analysis runs.
	ErrBusy = errors.New("analyzer is busy")
)

// Dialer opens the remote host used by the ssh backend.
type Dialer func(ctx context.Context, cfg remote.Config, logger *slog.Logger) (collector.Host, error)

// DialSSH is the default Dialer.
func DialSSH(ctx context.Context, cfg remote.Config, logger *slog.Logger) (collector.Host, error) {
	return remote.Dial(ctx, cfg, logger)
}

type options struct {
	logger    *slog.Logger
	reporter  *diag.Reporter
	commander runner.Commander
	dial      Dialer
}

// Option customizes an Analyzer.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReporter sets where diagnostics go.
func WithReporter(r *diag.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithCommander sets the commander used for local capability grants.
func WithCommander(c runner.Commander) Option {
	return func(o *options) { o.commander = c }
}

// WithDialer replaces the SSH dialer of the ssh backend.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dial = d }
}

// Analyzer runs analyses for one configuration. It owns a private
// workspace until Close.
type Analyzer struct {
	cfg     *config.Config
	backend Backend

	mu       sync.Mutex
	state    State
	analyses int

	ws        *workspace.Workspace
	patcher   patcher.Patcher
	builder   *builder.Builder
	extra     []string
	batch     collector.Collector
	stream    collector.StreamCollector
	corrector *correction.Corrector

	logger   *slog.Logger
	reporter *diag.Reporter
}

// New validates cfg and wires the components of its backend. Configuration
// errors are returned before anything is created on disk or launched.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Analyzer, error) {
	o := options{commander: runner.Local{}, dial: DialSSH}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reporter == nil {
		o.reporter = diag.NewReporter(nil)
	}

	a := &Analyzer{
		cfg:      cfg.Clone(),
		state:    Created,
		logger:   logging.OrDiscard(o.logger),
		reporter: o.reporter,
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	ws, err := workspace.New(a.cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	a.ws = ws

	if err := a.wire(ctx, o); err != nil {
		return nil, errors.Join(err, ws.Remove())
	}

	a.state = Configured
	a.logger.Debug("analyzer configured", "backend", a.backend, "workspace", ws.Root())
	return a, nil
}

func (a *Analyzer) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	backend, err := ParseBackend(a.cfg.Profiler)
	if err != nil {
		return err
	}
	a.backend = backend

	switch backend {
	case BackendGem5:
		if strings.TrimSpace(a.cfg.TargetISA) == "" {
			return ErrMissingISA
		}
	case BackendPerf, BackendSSH:
		if !attachments.HasEvents(a.cfg.PerfEvents) {
			return fmt.Errorf("unknown perf_events %q (available: %s)",
				a.cfg.PerfEvents, strings.Join(attachments.Events(), ", "))
		}
		if backend == BackendSSH && strings.TrimSpace(a.cfg.Host) == "" {
			return errors.New("ssh profiler needs a host")
		}
	}

	return nil
}

func (a *Analyzer) wire(ctx context.Context, o options) error {
	include, err := attachments.Materialize(a.ws.Include())
	if err != nil {
		return err
	}

	compiler := builder.NewCompiler(a.cfg.Compiler, a.cfg.CompilerArgs, a.logger)
	a.builder = builder.New(compiler, a.logger)
	a.corrector = correction.NewCorrector(a.reporter)

	policy := collector.Policy{
		Timeout:     a.cfg.TimeoutDuration(),
		MaxLaunches: a.cfg.MaxTestLaunches,
	}

	switch a.backend {
	case BackendPerf:
		headers, err := attachments.PerfHeaders(include, a.cfg.PerfEvents)
		if err != nil {
			return err
		}
		a.patcher = patcher.NewTemplate(attachments.EmptyTestPath(include), headers...).WithReporter(a.reporter)

		esc := runner.NewEscalator(o.commander, []string{"setcap"}, []string{"sudo"}, a.reporter, a.logger)
		a.batch = collector.NewPerf(policy, a.cfg.CPU, esc, a.reporter, a.logger)

	case BackendGem5:
		a.patcher = patcher.NewTemplate(attachments.EmptyTestPath(include), attachments.Gem5Headers(include)...).
			WithReporter(a.reporter)
		a.extra = Gem5BuildFlags(a.cfg.Gem5Home, a.cfg.TargetISA)

		g, err := collector.NewGem5(collector.Gem5Config{
			Home:     a.cfg.Gem5Home,
			ISA:      a.cfg.TargetISA,
			Bin:      a.cfg.Gem5Bin,
			Script:   a.cfg.SimScript,
			Args:     a.cfg.SimScriptArgs,
			StatsDir: a.ws.Stats(),
			Timeout:  a.cfg.TimeoutDuration(),
		}, a.reporter, a.logger)
		if err != nil {
			return err
		}
		a.batch = g

	case BackendSSH:
		headers, err := attachments.PerfHeaders(include, a.cfg.PerfEvents)
		if err != nil {
			return err
		}
		a.patcher = patcher.NewTemplate(attachments.EmptyTestPath(include), headers...).WithReporter(a.reporter)

		host, err := o.dial(ctx, a.remoteConfig(), a.logger)
		if err != nil {
			return err
		}
		r, err := collector.NewRemote(host, policy, a.cfg.CPU, a.reporter, a.logger)
		if err != nil {
			return err
		}
		a.stream = r

	default:
		return fmt.Errorf("%w: %v", ErrUnknownBackend, a.backend)
	}

	return nil
}

func (a *Analyzer) remoteConfig() remote.Config {
	return remote.Config{
		Host:        a.cfg.Host,
		Port:        a.cfg.Port,
		Username:    a.cfg.Username,
		KeyPath:     config.ExpandHome(a.cfg.PathToKey),
		Password:    a.cfg.Password,
		KnownHosts:  config.ExpandHome(a.cfg.KnownHosts),
		DialTimeout: a.cfg.TimeoutDuration(),
	}
}

// Backend returns the selected backend.
func (a *Analyzer) Backend() Backend {
	return a.backend
}

// State returns the lifecycle stage.
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Workspace returns the scratch tree.
func (a *Analyzer) Workspace() *workspace.Workspace {
	return a.ws
}

// Analyze patches, builds and measures every test of testDir and returns
// the corrected counters per test, without the baseline.
func (a *Analyzer) Analyze(ctx context.Context, testDir string) (map[string]counters.Set, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	defer a.end()

	if a.analyses > 1 {
		if err := a.ws.Reset(); err != nil {
			return nil, err
		}
	}

	if err := a.patcher.Patch(testDir, a.ws.Src()); err != nil {
		return nil, err
	}

	samples, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}

	return a.corrector.Correct(samples)
}

func (a *Analyzer) collect(ctx context.Context) (counters.Samples, error) {
	if a.stream != nil {
		buildCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		s := a.builder.BuildDir(buildCtx, a.ws.Src(), a.ws.Bins(), a.extra)
		samples, err := a.stream.CollectStream(ctx, s)
		if err != nil {
			// The build worker must be gone before the workspace can be
			// reset or removed.
			cancel()
			_ = s.Drain()
			return nil, err
		}
		return samples, nil
	}

	if err := a.builder.Build(ctx, a.ws.Src(), a.ws.Bins(), a.extra); err != nil {
		return nil, err
	}
	return a.batch.Collect(ctx, a.ws.Bins())
}

func (a *Analyzer) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Finalized:
		return ErrFinalized
	case Analyzing:
		return ErrBusy
	}
	a.state = Analyzing
	a.analyses++
	return nil
}

func (a *Analyzer) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Analyzing {
		a.state = Configured
	}
}

// Close releases the remote session and the workspace. Calling it again is
// a no-op. It fails with ErrBusy while an analysis is running.
func (a *Analyzer) Close() error {
	a.mu.Lock()
	switch a.state {
	case Finalized:
		a.mu.Unlock()
		return nil
	case Analyzing:
		a.mu.Unlock()
		return ErrBusy
	}
	a.state = Finalized
	a.mu.Unlock()

	var errs []error
	if a.stream != nil {
		errs = append(errs, a.stream.Close())
	}
	errs = append(errs, a.ws.Remove())
	return errors.Join(errs...)
}
