package analyzer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bpscope/analyzer"
	"github.com/sarchlab/bpscope/builder"
	"github.com/sarchlab/bpscope/collector"
	"github.com/sarchlab/bpscope/config"
	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
	"github.com/sarchlab/bpscope/remote"
)

var _ = Describe("Backend", func() {
	It("should parse profiler names", func() {
		Expect(analyzer.ParseBackend("perf")).To(Equal(analyzer.BackendPerf))
		Expect(analyzer.ParseBackend("GEM5")).To(Equal(analyzer.BackendGem5))
		Expect(analyzer.ParseBackend(" ssh ")).To(Equal(analyzer.BackendSSH))
	})

	It("should reject unknown names", func() {
		_, err := analyzer.ParseBackend("valgrind")
		Expect(err).To(MatchError(analyzer.ErrUnknownBackend))
	})

	It("should print names", func() {
		Expect(analyzer.BackendGem5.String()).To(Equal("gem5"))
		Expect(analyzer.Finalized.String()).To(Equal("finalized"))
	})
})

var _ = Describe("Gem5BuildFlags", func() {
	It("should link against the m5 library of the ISA", func() {
		Expect(analyzer.Gem5BuildFlags("/opt/gem5", "ARM")).To(Equal([]string{
			"-I/opt/gem5/include",
			"-I/opt/gem5/util/m5/src",
			"-fPIE",
			"-Wl,-L/opt/gem5/util/m5/build/arm/out",
			"-Wl,-lm5",
			"--static",
		}))
	})
})

var _ = Describe("Analyzer", func() {
	var (
		tempDir string
		wsRoot  string
		testDir string
		cfg     *config.Config
		opts    []analyzer.Option
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "analyzer-test")
		Expect(err).NotTo(HaveOccurred())

		wsRoot = filepath.Join(tempDir, "ws")
		Expect(os.MkdirAll(wsRoot, 0o755)).To(Succeed())

		testDir = filepath.Join(tempDir, "tests")
		writeTests(testDir, map[string]string{
			"a.c":       "// lookups=110 missed=12\n",
			"b.c":       "// lookups=60 missed=5\n",
			"notes.txt": "not a test\n",
		})

		cfg = config.DefaultConfig()
		cfg.Compiler = writeExecutable(tempDir, "fakecc", fakeCompiler)
		cfg.Timeout = 5
		cfg.MaxTestLaunches = 3
		cfg.WorkspaceRoot = wsRoot

		opts = []analyzer.Option{
			analyzer.WithReporter(diag.Discard()),
			analyzer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			analyzer.WithCommander(okCommander{}),
		}
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	expectCorrected := func(results map[string]counters.Set) {
		Expect(results).To(HaveLen(2))
		Expect(results).NotTo(HaveKey("empty"))
		Expect(results["a"].Value(counters.Lookups)).To(Equal(int64(100)))
		Expect(results["a"].Value(counters.CondIncorrect)).To(Equal(int64(10)))
		Expect(results["b"].Value(counters.Lookups)).To(Equal(int64(50)))
		Expect(results["b"].Value(counters.CondIncorrect)).To(Equal(int64(3)))
	}

	Describe("New", func() {
		It("should reject an unknown profiler before creating a workspace", func() {
			cfg.Profiler = "valgrind"
			_, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).To(MatchError(analyzer.ErrUnknownBackend))

			entries, err := os.ReadDir(wsRoot)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("should require a target ISA for gem5", func() {
			cfg.Profiler = "gem5"
			_, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).To(MatchError(analyzer.ErrMissingISA))
		})

		It("should reject an unknown perf event table", func() {
			cfg.PerfEvents = "pentium4"
			_, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).To(MatchError(ContainSubstring("pentium4")))
		})

		It("should reject an invalid config", func() {
			cfg.Timeout = -1
			_, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).To(MatchError(ContainSubstring("timeout")))
		})

		It("should remove the workspace when the ssh host is unreachable", func() {
			cfg.Profiler = "ssh"
			dialErr := errors.New("connection refused")
			_, err := analyzer.New(ctx, cfg, append(opts, analyzer.WithDialer(
				func(context.Context, remote.Config, *slog.Logger) (collector.Host, error) {
					return nil, dialErr
				}))...)
			Expect(err).To(MatchError(dialErr))

			entries, err := os.ReadDir(wsRoot)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Context("with the perf backend", func() {
		var a *analyzer.Analyzer

		BeforeEach(func() {
			var err error
			a, err = analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Backend()).To(Equal(analyzer.BackendPerf))
			Expect(a.State()).To(Equal(analyzer.Configured))
		})

		AfterEach(func() {
			_ = a.Close()
		})

		It("should return baseline-corrected counters per test", func() {
			results, err := a.Analyze(ctx, testDir)
			Expect(err).NotTo(HaveOccurred())
			expectCorrected(results)
			Expect(results["a"].IsFull).To(BeTrue())
			Expect(a.State()).To(Equal(analyzer.Configured))
		})

		It("should analyze again from a clean workspace", func() {
			_, err := a.Analyze(ctx, testDir)
			Expect(err).NotTo(HaveOccurred())

			other := filepath.Join(tempDir, "other")
			writeTests(other, map[string]string{"c.c": "// lookups=20 missed=3\n"})

			results, err := a.Analyze(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results["c"].Value(counters.Lookups)).To(Equal(int64(10)))
		})

		It("should abort on a build failure", func() {
			writeTests(testDir, map[string]string{"z.c": "BROKEN\n"})

			_, err := a.Analyze(ctx, testDir)
			var buildErr *builder.BuildError
			Expect(errors.As(err, &buildErr)).To(BeTrue())
		})

		It("should remove its workspace on close and refuse further work", func() {
			root := a.Workspace().Root()
			Expect(a.Close()).To(Succeed())
			Expect(root).NotTo(BeAnExistingFile())
			Expect(a.State()).To(Equal(analyzer.Finalized))

			_, err := a.Analyze(ctx, testDir)
			Expect(err).To(MatchError(analyzer.ErrFinalized))
			Expect(a.Close()).To(Succeed())
		})
	})

	Context("with edge-case test directories", func() {
		It("should keep a test interrupted at its deadline as a partial result", func() {
			cfg.Timeout = 1
			cfg.MaxTestLaunches = 1
			writeTests(testDir, map[string]string{"spin.c": "// SPIN lookups=40 missed=7\n"})

			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = a.Close() }()

			results, err := a.Analyze(ctx, testDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveKey("spin"))
			Expect(results["spin"].IsFull).To(BeFalse())
			Expect(results["spin"].Value(counters.Lookups)).To(Equal(int64(30)))
			Expect(results["a"].IsFull).To(BeTrue())
		})

		It("should build only the baseline for an empty test directory", func() {
			emptyDir := filepath.Join(tempDir, "no-tests")
			Expect(os.MkdirAll(emptyDir, 0o755)).To(Succeed())

			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = a.Close() }()

			results, err := a.Analyze(ctx, emptyDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())

			bins, err := os.ReadDir(a.Workspace().Bins())
			Expect(err).NotTo(HaveOccurred())
			Expect(bins).To(HaveLen(1))
			Expect(bins[0].Name()).To(Equal("empty.c.out"))
		})
	})

	Context("with the gem5 backend", func() {
		It("should simulate every test once", func() {
			cfg.Profiler = "gem5"
			cfg.TargetISA = "arm"
			cfg.Gem5Home = tempDir
			cfg.Gem5Bin = writeExecutable(tempDir, "gem5.opt", fakeGem5)
			cfg.SimScript = "se.py"

			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = a.Close() }()

			results, err := a.Analyze(ctx, testDir)
			Expect(err).NotTo(HaveOccurred())
			expectCorrected(results)
		})
	})

	Context("with the ssh backend", func() {
		var host *localHost

		BeforeEach(func() {
			hostRoot := filepath.Join(tempDir, "host")
			Expect(os.MkdirAll(hostRoot, 0o755)).To(Succeed())
			host = &localHost{root: hostRoot}

			cfg.Profiler = "ssh"
			cfg.Timeout = 2
			cfg.MaxTestLaunches = 1
			opts = append(opts, analyzer.WithDialer(
				func(context.Context, remote.Config, *slog.Logger) (collector.Host, error) {
					return host, nil
				}))
		})

		It("should measure binaries as they are built", func() {
			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())

			results, err := a.Analyze(ctx, testDir)
			Expect(err).NotTo(HaveOccurred())
			expectCorrected(results)

			Expect(a.Close()).To(Succeed())
			Expect(host.closed).To(BeTrue())
		})

		It("should stop the build before returning an upload failure", func() {
			logPath := filepath.Join(tempDir, "compiles.log")
			slowCC := writeExecutable(tempDir, "slowcc", fmt.Sprintf(
				"#!/bin/sh\necho run >> %q\nsleep 0.3\nexec %q \"$@\"\n", logPath, cfg.Compiler))
			cfg.Compiler = slowCC

			for i := 0; i < 5; i++ {
				writeTests(testDir, map[string]string{fmt.Sprintf("t%d.c", i): "// lookups=20\n"})
			}
			uploadErr := errors.New("sftp: permission denied")
			host.uploadErr = uploadErr

			compiles := func() int {
				data, err := os.ReadFile(logPath)
				if err != nil {
					return 0
				}
				return strings.Count(string(data), "run")
			}

			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())

			_, err = a.Analyze(ctx, testDir)
			Expect(err).To(MatchError(uploadErr))

			atReturn := compiles()
			Expect(atReturn).To(BeNumerically("<", 8))

			Expect(a.Close()).To(Succeed())
			Consistently(compiles, "1s", "100ms").Should(Equal(atReturn))
		})

		It("should surface a build failure from the stream", func() {
			writeTests(testDir, map[string]string{"z.c": "BROKEN\n"})

			a, err := analyzer.New(ctx, cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = a.Close() }()

			_, err = a.Analyze(ctx, testDir)
			var buildErr *builder.BuildError
			Expect(errors.As(err, &buildErr)).To(BeTrue())
		})
	})
})
