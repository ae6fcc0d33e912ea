package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/bpscope/analyzer"
	"github.com/sarchlab/bpscope/config"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/packer"
	"github.com/sarchlab/bpscope/report"
)

type analyzeFlags struct {
	configFile string
	section    string
	format     string

	cfg          config.Config
	compilerArgs string
	simArgs      string
}

func newAnalyzeCmd(opts []analyzer.Option) *cobra.Command {
	f := &analyzeFlags{cfg: *config.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Build, run and analyze every test of a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, f, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config-file", "", "Path to a YAML or JSON config file")
	fs.StringVar(&f.section, "section", "", "Section of the config file to use (DEFAULT is applied first)")
	fs.StringVar(&f.format, "format", string(report.FormatText), "Summary format: text, csv or json")
	bindConfigFlags(fs, f)

	return cmd
}

func bindConfigFlags(fs *pflag.FlagSet, f *analyzeFlags) {
	c := &f.cfg
	fs.StringVar(&c.Profiler, "profiler", c.Profiler, "Type of profiler: perf, gem5 or ssh")
	fs.StringVar(&c.TestDir, "test-dir", c.TestDir, "Path to directory with tests")
	fs.StringVar(&c.OutDir, "out-dir", c.OutDir, "Path to output dir, recreated empty")
	fs.Float64Var(&c.Timeout, "timeout", c.Timeout, "Number of seconds after which a test is stopped")
	fs.IntVar(&c.MaxTestLaunches, "max-test-launches", c.MaxTestLaunches, "Launches per test, -1 for as many as the timeout allows")
	fs.IntVar(&c.CPU, "cpu", c.CPU, "CPU the tests pin themselves to")
	fs.StringVar(&c.Compiler, "compiler", c.Compiler, "Path to compiler")
	fs.StringVar(&f.compilerArgs, "compiler-args", "", "Pass arguments on to the compiler")
	fs.StringVar(&c.PerfEvents, "perf-events", c.PerfEvents, "Perf event table compiled into tests")
	fs.StringVar(&c.Gem5Home, "gem5-home", c.Gem5Home, "Path to home gem5")
	fs.StringVar(&c.Gem5Bin, "gem5-bin", c.Gem5Bin, "Path to execute gem5")
	fs.StringVar(&c.TargetISA, "target-isa", c.TargetISA, "Type of architecture being simulated")
	fs.StringVar(&c.SimScript, "sim-script", c.SimScript, "Path to simulation script")
	fs.StringVar(&f.simArgs, "sim-script-args", "", "Arguments of the simulation script")
	fs.StringVar(&c.Host, "host", c.Host, "Remote host of the ssh profiler")
	fs.IntVar(&c.Port, "port", c.Port, "SSH port")
	fs.StringVar(&c.Username, "username", c.Username, "SSH user")
	fs.StringVar(&c.PathToKey, "path-to-key", c.PathToKey, "Private key for SSH")
	fs.StringVar(&c.KnownHosts, "known-hosts", c.KnownHosts, "known_hosts file; any host key is accepted when empty")
	fs.StringVar(&c.WorkspaceRoot, "workspace-root", c.WorkspaceRoot, "Where scratch directories are created")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
}

// resolveConfig loads the config file, if any, and applies the flags the
// user set explicitly on top of it.
func resolveConfig(fs *pflag.FlagSet, f *analyzeFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = config.Load(config.ExpandHome(f.configFile), f.section); err != nil {
			return nil, err
		}
	}

	var err error
	fs.Visit(func(fl *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(cfg, f, fl.Name)
	})
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlag(cfg *config.Config, f *analyzeFlags, name string) error {
	src := &f.cfg
	switch name {
	case "profiler":
		cfg.Profiler = src.Profiler
	case "test-dir":
		cfg.TestDir = src.TestDir
	case "out-dir":
		cfg.OutDir = src.OutDir
	case "timeout":
		cfg.Timeout = src.Timeout
	case "max-test-launches":
		cfg.MaxTestLaunches = src.MaxTestLaunches
	case "cpu":
		cfg.CPU = src.CPU
	case "compiler":
		cfg.Compiler = src.Compiler
	case "compiler-args":
		args, err := config.ParseArgs(f.compilerArgs)
		if err != nil {
			return fmt.Errorf("--compiler-args: %w", err)
		}
		cfg.CompilerArgs = args
	case "perf-events":
		cfg.PerfEvents = src.PerfEvents
	case "gem5-home":
		cfg.Gem5Home = src.Gem5Home
	case "gem5-bin":
		cfg.Gem5Bin = src.Gem5Bin
	case "target-isa":
		cfg.TargetISA = src.TargetISA
	case "sim-script":
		cfg.SimScript = src.SimScript
	case "sim-script-args":
		args, err := config.ParseArgs(f.simArgs)
		if err != nil {
			return fmt.Errorf("--sim-script-args: %w", err)
		}
		cfg.SimScriptArgs = args
	case "host":
		cfg.Host = src.Host
	case "port":
		cfg.Port = src.Port
	case "username":
		cfg.Username = src.Username
	case "path-to-key":
		cfg.PathToKey = src.PathToKey
	case "known-hosts":
		cfg.KnownHosts = src.KnownHosts
	case "workspace-root":
		cfg.WorkspaceRoot = src.WorkspaceRoot
	case "log-level":
		cfg.LogLevel = src.LogLevel
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, f *analyzeFlags, opts []analyzer.Option) error {
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(cmd.Flags(), f)
	if err != nil {
		return err
	}

	opts, err = withDefaults(cmd, cfg.LogLevel, opts)
	if err != nil {
		return err
	}

	progress := diag.NewReporter(cmd.OutOrStdout())
	progress.Infof("Execute and analyze tests from %s", absPath(cfg.TestDir))

	job := analyzer.Job{Config: cfg, OutDir: cfg.OutDir}
	dir, err := job.Run(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	progress.Infof("Save analysis' results to %s", absPath(dir))

	results, err := packer.Load(dir)
	if err != nil {
		return err
	}
	return report.NewPrinter(cmd.OutOrStdout()).Print(format, results)
}

// withDefaults puts the command's logger and diagnostics reporter in front
// of opts so that callers' options still take precedence.
func withDefaults(cmd *cobra.Command, level string, opts []analyzer.Option) ([]analyzer.Option, error) {
	logger, err := logging.New(level, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	defaults := []analyzer.Option{
		analyzer.WithLogger(logger),
		analyzer.WithReporter(diag.NewReporter(cmd.ErrOrStderr())),
	}
	return append(defaults, opts...), nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
