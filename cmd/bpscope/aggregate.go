package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bpscope/analyzer"
	"github.com/sarchlab/bpscope/config"
	"github.com/sarchlab/bpscope/diag"
)

func newAggregateCmd(opts []analyzer.Option) *cobra.Command {
	var (
		section  string
		destDir  string
		async    bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "aggregate <config-file>...",
		Short: "Run one analysis per config file into a shared destination",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs := make([]analyzer.Job, 0, len(args))
			for _, path := range args {
				cfg, err := config.Load(config.ExpandHome(path), section)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				jobs = append(jobs, analyzer.NewJob(destDir, cfg))
			}

			all, err := withDefaults(cmd, logLevel, opts)
			if err != nil {
				return err
			}

			dirs, err := analyzer.RunAll(cmd.Context(), jobs, async, all...)

			progress := diag.NewReporter(cmd.OutOrStdout())
			for _, d := range dirs {
				progress.Infof("Save analysis' results to %s", absPath(d))
			}
			return err
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&section, "section", "", "Section of every config file to use")
	fs.StringVar(&destDir, "dest-dir", "out", "Directory receiving one sub-directory per analysis")
	fs.BoolVar(&async, "async", false, "Run the analyses concurrently")
	fs.StringVar(&logLevel, "log-level", "WARNING", "Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")

	return cmd
}
